package sinks

import (
	"testing"

	"github.com/blackwing-dev/corvus/voice/receive"
)

type leafSink struct {
	node
	opus    bool
	written []*receive.VoiceData
}

func (l *leafSink) Children() []Sink { return nil }
func (l *leafSink) IsOpus() bool     { return l.opus }
func (l *leafSink) Write(data *receive.VoiceData) error {
	l.written = append(l.written, data)
	return nil
}
func (l *leafSink) Cleanup() {}

func TestWalkChildrenIncludesNestedDescendants(t *testing.T) {
	leaf := &leafSink{}
	filter, err := NewFilterSink(leaf, FilterAll, func(*receive.VoiceData) bool { return true })
	if err != nil {
		t.Fatalf("NewFilterSink: %v", err)
	}
	multi, err := NewMultiSink(filter)
	if err != nil {
		t.Fatalf("NewMultiSink: %v", err)
	}

	all := WalkChildren(multi, true)
	if len(all) != 3 {
		t.Fatalf("expected 3 nodes (multi, filter, leaf), got %d", len(all))
	}
	if all[0] != Sink(multi) || all[1] != Sink(filter) || all[2] != Sink(leaf) {
		t.Fatal("expected depth-first order: multi, filter, leaf")
	}
}

func TestRegisterChildRejectsDuplicateRegistration(t *testing.T) {
	leaf := &leafSink{}
	multi, err := NewMultiSink(leaf)
	if err != nil {
		t.Fatalf("NewMultiSink: %v", err)
	}

	if err := multi.AddDestination(leaf); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}
