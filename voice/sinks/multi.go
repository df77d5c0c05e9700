package sinks

import (
	"sync"

	"github.com/blackwing-dev/corvus/voice/receive"
)

// MultiSink fans one decoded voice stream out to several destination
// sinks, writing to each in turn; it IsOpus whenever every destination wants raw
// Opus, since a mixed PCM/Opus fan-out would otherwise force the packet
// decoder to do work half its destinations throw away.
//
// Grounded on discord/sinks/core.py's MultiSink: add_destination/
// remove_destination and the single-registration invariant (checked via
// RegisterChild, walking the whole tree rather than one level) are kept.
// The original's MultiSink has no write() override of its own to ground
// a fan-out on; Write here is a straightforward generalization — write to
// every child, collecting write errors rather than stopping at the
// first one — since a sink whose entire purpose is holding multiple
// children has to do *something* with incoming data, and "give each
// child a turn" is the only sensible reading of what a multi-destination
// sink means.
type MultiSink struct {
	node
	mu       sync.Mutex
	children []Sink
}

var _ Sink = (*MultiSink)(nil)

// NewMultiSink constructs a MultiSink fanning out to the given initial
// destinations.
func NewMultiSink(destinations ...Sink) (*MultiSink, error) {
	m := &MultiSink{}
	for _, dest := range destinations {
		if err := m.AddDestination(dest); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddDestination registers dest as a new fan-out target.
func (m *MultiSink) AddDestination(dest Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return RegisterChild(m, dest, func() {
		if n, ok := dest.(interface{ setParent(Sink) }); ok {
			n.setParent(m)
		}
		m.children = append(m.children, dest)
	})
}

// RemoveDestination stops fanning out to dest, if it was registered.
func (m *MultiSink) RemoveDestination(dest Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, child := range m.children {
		if child == dest {
			m.children = append(m.children[:i], m.children[i+1:]...)
			return
		}
	}
}

func (m *MultiSink) Children() []Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sink, len(m.children))
	copy(out, m.children)
	return out
}

// IsOpus reports whether every destination wants raw Opus passthrough.
// An empty MultiSink reports false (PCM), matching the zero-value-safe
// default every other terminal sink in this package uses.
func (m *MultiSink) IsOpus() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.children) == 0 {
		return false
	}
	for _, child := range m.children {
		if !child.IsOpus() {
			return false
		}
	}
	return true
}

// Write hands data to every destination, returning the first error
// encountered (if any) after every destination has had a chance to
// write.
func (m *MultiSink) Write(data *receive.VoiceData) error {
	m.mu.Lock()
	children := make([]Sink, len(m.children))
	copy(children, m.children)
	m.mu.Unlock()

	var firstErr error
	for _, child := range children {
		if err := child.Write(data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Cleanup tears every destination down.
func (m *MultiSink) Cleanup() {
	m.mu.Lock()
	children := make([]Sink, len(m.children))
	copy(children, m.children)
	m.mu.Unlock()

	for _, child := range children {
		child.Cleanup()
	}
}
