package receive

import (
	"context"
	"testing"
	"time"

	"github.com/blackwing-dev/corvus/voice/rtp"
)

func TestPacketDecoderOpusPassthroughSkipsDecode(t *testing.T) {
	d, err := NewPacketDecoder(42, true, nil)
	if err != nil {
		t.Fatalf("NewPacketDecoder: %v", err)
	}

	d.PushPacket(&rtp.AudioPacket{
		Header:  rtp.Header{SSRC: 42, SequenceNumber: 0, Timestamp: 0},
		Payload: []byte("not actually opus, and that's fine"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	data, err := d.PopData(ctx)
	if err != nil {
		t.Fatalf("PopData: %v", err)
	}
	if data == nil {
		t.Fatal("expected data, got nil")
	}
	if data.PCM != nil {
		t.Fatalf("expected no PCM for an opus-passthrough decoder, got %v", data.PCM)
	}
}

func TestPacketDecoderAttributesUserID(t *testing.T) {
	d, err := NewPacketDecoder(42, true, nil)
	if err != nil {
		t.Fatalf("NewPacketDecoder: %v", err)
	}
	d.SetUserID(1234)

	d.PushPacket(&rtp.AudioPacket{Header: rtp.Header{SSRC: 42, SequenceNumber: 0}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	data, err := d.PopData(ctx)
	if err != nil {
		t.Fatalf("PopData: %v", err)
	}
	if data.UserID != 1234 {
		t.Fatalf("expected user id 1234, got %d", data.UserID)
	}
}

func TestPacketDecoderFakePacketOnStarvedBuffer(t *testing.T) {
	d, err := NewPacketDecoder(42, true, nil)
	if err != nil {
		t.Fatalf("NewPacketDecoder: %v", err)
	}

	// Before any packet has ever been delivered, there's nothing to base a
	// fake packet's sequence/timestamp on, so starving the buffer yields
	// nothing rather than a synthesized packet from SSRC 42's silence.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	data, err := d.PopData(ctx)
	if err != nil {
		t.Fatalf("PopData: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil before any real packet has ever arrived, got %v", data)
	}

	d.PushPacket(&rtp.AudioPacket{Header: rtp.Header{SSRC: 42, SequenceNumber: 10, Timestamp: 9600}})
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := d.PopData(ctx2); err != nil {
		t.Fatalf("PopData: %v", err)
	}

	ctx3, cancel3 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel3()
	data, err = d.PopData(ctx3)
	if err != nil {
		t.Fatalf("PopData: %v", err)
	}
	if data == nil {
		t.Fatal("expected a synthesized fake packet once a real one has been seen")
	}
	if data.Packet.Sequence() != 11 {
		t.Fatalf("expected fake packet sequence 11, got %d", data.Packet.Sequence())
	}
	if !data.Packet.IsSilence() {
		t.Fatal("expected the synthesized packet to be silence")
	}
}

func TestPacketDecoderResetClearsStartedState(t *testing.T) {
	d, err := NewPacketDecoder(42, true, nil)
	if err != nil {
		t.Fatalf("NewPacketDecoder: %v", err)
	}

	d.PushPacket(&rtp.AudioPacket{Header: rtp.Header{SSRC: 42, SequenceNumber: 1}})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.PopData(ctx)

	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	data, err := d.PopData(ctx2)
	if err != nil {
		t.Fatalf("PopData: %v", err)
	}
	if data != nil {
		t.Fatalf("expected no fake packet right after reset, got %v", data)
	}
}
