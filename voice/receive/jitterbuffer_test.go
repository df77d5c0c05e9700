package receive

import (
	"context"
	"testing"
	"time"

	"github.com/blackwing-dev/corvus/voice/rtp"
)

func packet(ssrc uint32, seq uint16) rtp.Packet {
	return rtp.NewSilencePacket(ssrc, seq, uint32(seq)*960)
}

func popNow(t *testing.T, b *JitterBuffer) rtp.Packet {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p, ok := b.Pop(ctx)
	if !ok {
		t.Fatal("Pop: context expired before buffer became ready")
	}
	return p
}

func TestJitterBufferSequentialInOrder(t *testing.T) {
	b := NewJitterBufferSize(10, 1, 0)

	for seq := uint16(0); seq < 5; seq++ {
		if !b.Push(packet(1, seq)) {
			t.Fatalf("Push(%d): rejected", seq)
		}
	}

	for seq := uint16(0); seq < 4; seq++ {
		p := popNow(t, b)
		if p == nil {
			t.Fatalf("pop %d: still prefilling", seq)
		}
		if p.Sequence() != seq {
			t.Fatalf("pop %d: got sequence %d", seq, p.Sequence())
		}
	}
}

func TestJitterBufferReordersOutOfOrderPackets(t *testing.T) {
	b := NewJitterBufferSize(10, 1, 0)

	order := []uint16{2, 0, 1, 4, 3}
	for _, seq := range order {
		b.Push(packet(1, seq))
	}

	for want := uint16(0); want < 3; want++ {
		p := popNow(t, b)
		if p == nil || p.Sequence() != want {
			t.Fatalf("expected sequence %d in order, got %v", want, p)
		}
	}
}

func TestJitterBufferRejectsStaleDuplicates(t *testing.T) {
	b := NewJitterBufferSize(10, 0, 0)

	b.Push(packet(1, 100))
	popNow(t, b) // advances lastTxSeq to 100, but leaves buffer empty

	if b.Push(packet(1, 50000)) {
		t.Fatal("expected a far-out-of-range sequence to be rejected")
	}
}

func TestJitterBufferDropsExactDuplicateOfReleasedSequence(t *testing.T) {
	b := NewJitterBufferSize(10, 0, 0)

	b.Push(packet(1, 100))
	popNow(t, b) // advances lastTxSeq to 100

	if b.Push(packet(1, 100)) {
		t.Fatal("expected a packet repeating the already-released sequence to be dropped")
	}
	if b.Len() != 0 {
		t.Fatalf("expected the duplicate to be silently discarded, not inserted, got len %d", b.Len())
	}
}

func TestJitterBufferPrefillGatesPop(t *testing.T) {
	b := NewJitterBufferSize(10, 0, 2)

	b.Push(packet(1, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if p, ok := b.Pop(ctx); ok && p != nil {
		t.Fatalf("expected no packet during prefill, got %v", p)
	}

	b.Push(packet(1, 1))
	p := popNow(t, b)
	if p == nil || p.Sequence() != 0 {
		t.Fatalf("expected sequence 0 once prefilled, got %v", p)
	}
}

func TestJitterBufferFlushDrainsInOrder(t *testing.T) {
	b := NewJitterBufferSize(10, 1, 0)

	for _, seq := range []uint16{3, 1, 2} {
		b.Push(packet(1, seq))
	}

	out := b.Flush()
	if len(out) != 3 {
		t.Fatalf("expected 3 packets flushed, got %d", len(out))
	}
	for i, p := range out {
		if p.Sequence() != uint16(i+1) {
			t.Fatalf("flush[%d] = %d, want %d", i, p.Sequence(), i+1)
		}
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after flush, got len %d", b.Len())
	}
}

func TestJitterBufferPeekNextFollowsSequence(t *testing.T) {
	b := NewJitterBufferSize(10, 0, 0)

	b.Push(packet(1, 0))
	if n := b.PeekNext(); n == nil || n.Sequence() != 0 {
		t.Fatalf("expected PeekNext to return the first packet before anything's popped, got %v", n)
	}

	popNow(t, b)
	b.Push(packet(1, 2))
	if n := b.PeekNext(); n != nil {
		t.Fatalf("expected PeekNext to refuse a non-sequential packet, got %v", n)
	}
}

func TestJitterBufferResetForgetsState(t *testing.T) {
	b := NewJitterBufferSize(10, 1, 0)
	b.Push(packet(1, 0))
	b.Push(packet(1, 1))
	popNow(t, b)

	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after reset, got %d", b.Len())
	}
	if b.lastTxSeq != -1 {
		t.Fatalf("expected lastTxSeq reset to -1, got %d", b.lastTxSeq)
	}
}
