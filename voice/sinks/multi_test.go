package sinks

import (
	"testing"

	"github.com/blackwing-dev/corvus/voice/receive"
)

func TestMultiSinkFansOutToEveryChild(t *testing.T) {
	a, b := &leafSink{}, &leafSink{}
	m, err := NewMultiSink(a, b)
	if err != nil {
		t.Fatalf("NewMultiSink: %v", err)
	}

	data := &receive.VoiceData{UserID: 1}
	if err := m.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if len(a.written) != 1 || len(b.written) != 1 {
		t.Fatalf("expected both children to receive the write, got a=%d b=%d", len(a.written), len(b.written))
	}
}

func TestMultiSinkIsOpusOnlyWhenEveryChildIs(t *testing.T) {
	opusChild := &leafSink{opus: true}
	pcmChild := &leafSink{opus: false}

	m, err := NewMultiSink(opusChild)
	if err != nil {
		t.Fatalf("NewMultiSink: %v", err)
	}
	if !m.IsOpus() {
		t.Fatal("expected IsOpus true when the only child wants opus")
	}

	if err := m.AddDestination(pcmChild); err != nil {
		t.Fatalf("AddDestination: %v", err)
	}
	if m.IsOpus() {
		t.Fatal("expected IsOpus false once a pcm-wanting child is added")
	}
}

func TestMultiSinkRemoveDestinationStopsDelivery(t *testing.T) {
	a := &leafSink{}
	m, err := NewMultiSink(a)
	if err != nil {
		t.Fatalf("NewMultiSink: %v", err)
	}

	m.RemoveDestination(a)
	if err := m.Write(&receive.VoiceData{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(a.written) != 0 {
		t.Fatal("expected removed destination to receive no further writes")
	}
}
