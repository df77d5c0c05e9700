// Package sinks is the receive-side audio destination tree: the Sink
// interface every destination implements, a handful of composable
// concrete sinks, and the Sink Event Router that fans RTCP/speaking
// events out to whichever sinks in the tree care about them.
package sinks

import (
	"errors"

	"github.com/blackwing-dev/corvus/voice/receive"
)

// Sink is the destination decoded (or raw Opus) voice data is written
// to. Sinks compose into a tree: MultiSink and FilterSink wrap one or
// more child sinks, and the Sink Event Router walks that tree via
// WalkChildren to find which nodes implement a given listener
// interface (RTCPListener, SpeakingStartListener, SpeakingStopListener).
//
// Grounded on discord/sinks/core.py's SinkBase/Sink: IsOpus, Write, and
// Cleanup are direct translations of is_opus/write/cleanup. root/parent/
// child/children's bookkeeping purpose — detecting "this sink is already
// registered somewhere in the tree" — is kept, but the single-registration
// invariant is now enforced once, in RegisterChild, rather than via a
// metaclass-generated listener table; see events.go for how listener
// discovery itself is done instead (compile-time interface assertions,
// not Python's getattr-by-name reflection).
type Sink interface {
	receive.Sink
	Cleanup()
	Parent() Sink
	Children() []Sink
}

// ErrAlreadyRegistered is returned by RegisterChild when the child sink
// is already somewhere in the tree rooted at the parent — directly under
// it or nested under one of its descendants.
var ErrAlreadyRegistered = errors.New("sinks: sink is already registered")

// node is embedded by every concrete Sink in this package to provide the
// parent-pointer half of the tree; each concrete type is responsible for
// its own Children() since MultiSink holds several and FilterSink/FFmpegSink/
// WriterSink hold at most one.
type node struct {
	parent Sink
}

func (n *node) Parent() Sink { return n.parent }

func (n *node) setParent(p Sink) { n.parent = p }

// RegisterChild attaches child under parent, returning ErrAlreadyRegistered
// if child already appears anywhere in parent's tree. register is called
// by parent with a func that actually appends/sets the child once the
// invariant is confirmed safe.
func RegisterChild(parent, child Sink, register func()) error {
	for _, existing := range WalkChildren(parent, true) {
		if existing == child {
			return ErrAlreadyRegistered
		}
	}
	register()
	return nil
}

// WalkChildren returns every sink in the tree rooted at root, depth
// first, optionally including root itself.
func WalkChildren(root Sink, includeSelf bool) []Sink {
	var out []Sink
	if includeSelf {
		out = append(out, root)
	}
	for _, child := range root.Children() {
		out = append(out, child)
		out = append(out, WalkChildren(child, false)...)
	}
	return out
}
