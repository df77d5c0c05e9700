// Package receive implements the voice receive pipeline: a per-SSRC jitter
// buffer and Opus packet decoder, a packet router that demultiplexes an
// incoming RTP/RTCP stream across those per-speaker decoders, and the
// supporting socket-read and speaking-state machinery that drives them.
package receive

import (
	"container/heap"
	"context"
	"sync"

	"github.com/blackwing-dev/corvus/voice/rtp"
)

const (
	// dropThreshold bounds how far a new packet's sequence number may sit
	// ahead of the last one handed to the consumer before it's treated as
	// stale garbage (a duplicate from well before a wraparound, or a wild
	// jump) and rejected outright rather than buffered.
	dropThreshold = 10000

	// defaultMaxSize is the largest number of packets the buffer holds
	// before it starts force-releasing the oldest to catch back up.
	defaultMaxSize = 10
	// defaultPrefSize is how many packets must be queued, beyond the one
	// about to be returned, before a pop is allowed to satisfy ordering.
	defaultPrefSize = 1
	// defaultPrefill is how many pushes must land before the buffer will
	// release anything at all, giving the stream a moment to settle.
	defaultPrefill = 1
)

// packetHeap is a container/heap.Interface ordering rtp.Packet values by
// wrap-safe RTP sequence number. All packets pushed to one heap share an
// SSRC, so rtp.Before's wraparound-aware comparison is exact within the
// buffer's small window.
type packetHeap []rtp.Packet

func (h packetHeap) Len() int      { return len(h) }
func (h packetHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h packetHeap) Less(i, j int) bool {
	before, err := rtp.Before(h[i], h[j])
	if err != nil {
		// Packets from a foreign SSRC should never reach this buffer;
		// fall back to sequence order so a heap invariant violation
		// doesn't panic.
		return h[i].Sequence() < h[j].Sequence()
	}
	return before
}

func (h *packetHeap) Push(x any) { *h = append(*h, x.(rtp.Packet)) }

func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// JitterBuffer reorders an RTP stream that may arrive out of order, absorbs
// small amounts of network jitter, and exposes a blocking Pop so a consumer
// goroutine can wait for the next in-order packet rather than poll.
//
// Grounded on discord/voice/utils/buffer.py's JitterBuffer: a heap-backed
// reorder buffer gated by a prefill count and a "ready" invariant, with a
// hard drop threshold for packets too far out of range to be real jitter.
type JitterBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	heap packetHeap

	maxSize  int
	prefSize int
	prefill  int

	prefillRemaining int
	lastTxSeq        int32 // -1 means "nothing handed out yet"
	hasItem          bool
}

// NewJitterBuffer constructs a JitterBuffer with Discord's default sizing.
func NewJitterBuffer() *JitterBuffer {
	return NewJitterBufferSize(defaultMaxSize, defaultPrefSize, defaultPrefill)
}

// NewJitterBufferSize constructs a JitterBuffer with explicit sizing.
// maxSize must be at least 1, and prefSize must be within [0, maxSize].
func NewJitterBufferSize(maxSize, prefSize, prefill int) *JitterBuffer {
	if maxSize < 1 {
		maxSize = 1
	}
	if prefSize < 0 {
		prefSize = 0
	}
	if prefSize > maxSize {
		prefSize = maxSize
	}

	b := &JitterBuffer{
		maxSize:          maxSize,
		prefSize:         prefSize,
		prefill:          prefill,
		prefillRemaining: prefill,
		lastTxSeq:        -1,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// gapWrapped returns the forward distance from a to b modulo 2^16: how many
// sequence numbers b sits ahead of a, wrapping around. A packet genuinely
// behind a (a stale duplicate, or one from well before a wraparound) reports
// a distance close to 65536 rather than a small or negative one.
func gapWrapped(a, b uint16) int {
	return int(uint16(b - a))
}

// addWrapped returns (a+delta) mod 2^16.
func addWrapped(a uint16, delta int) uint16 {
	return uint16(int(a) + delta)
}

// addWrapped32 returns (a+delta) mod 2^32.
func addWrapped32(a uint32, delta int) uint32 {
	return uint32(int64(a) + int64(delta))
}

// Push inserts a packet, reports false and discards it if it's either a
// wildly stale duplicate or far enough in the future to be untrustworthy.
func (b *JitterBuffer) Push(p rtp.Packet) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastTxSeq >= 0 {
		gap := gapWrapped(uint16(b.lastTxSeq), p.Sequence())
		// gap == 0 means this sequence number is the one already
		// released as lastTxSeq: a stale duplicate, dropped silently
		// rather than re-inserted and delivered a second time.
		if gap == 0 || gap > dropThreshold {
			return false
		}
	}

	heap.Push(&b.heap, p)
	if b.prefillRemaining > 0 {
		b.prefillRemaining--
	}
	b.cleanup()
	b.updateHasItem()
	b.cond.Broadcast()
	return true
}

// cleanup force-releases (discards) the oldest packets once the buffer grows
// past maxSize, trading completeness for bounded latency.
func (b *JitterBuffer) cleanup() {
	for len(b.heap) > b.maxSize {
		heap.Pop(&b.heap)
	}
}

// updateHasItem recomputes the ready invariant: the buffer has something a
// consumer may take only once it's past its prefill period, holds more than
// prefSize packets, and either the head packet continues the sequence
// exactly, nothing has been handed out yet, or the buffer is so full that
// waiting any longer isn't worth it.
func (b *JitterBuffer) updateHasItem() {
	prefilled := b.prefillRemaining <= 0
	ready := len(b.heap) > b.prefSize

	if !prefilled || !ready {
		b.hasItem = false
		return
	}

	notStarted := b.lastTxSeq < 0
	sequential := !notStarted && b.heap[0].Sequence() == addWrapped(uint16(b.lastTxSeq), 1)
	overflowing := len(b.heap) >= b.maxSize

	b.hasItem = sequential || notStarted || overflowing
}

// popIfReady pops and returns the head packet if the ready invariant holds,
// updating lastTxSeq. It does not itself block or re-check prefill.
func (b *JitterBuffer) popIfReady() (rtp.Packet, bool) {
	if len(b.heap) <= b.prefSize && len(b.heap) < b.maxSize {
		return nil, false
	}
	if len(b.heap) == 0 {
		return nil, false
	}
	p := heap.Pop(&b.heap).(rtp.Packet)
	b.lastTxSeq = int32(p.Sequence())
	b.updateHasItem()
	return p, true
}

// Pop blocks until a packet is ready to hand out or ctx is done. It
// returns ok == false if ctx expired before anything became ready —
// whether because the buffer is empty or still within its prefill period
// — leaving it to the caller to decide what "nothing ready in time" means
// (flush what's queued, or synthesize silence).
func (b *JitterBuffer) Pop(ctx context.Context) (p rtp.Packet, ok bool) {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for !b.hasItem && ctx.Err() == nil {
		b.cond.Wait()
	}

	if !b.hasItem {
		return nil, false
	}

	return b.popIfReady()
}

// Peek returns the head packet without removing it, or nil if the buffer is
// empty.
func (b *JitterBuffer) Peek() rtp.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.heap) == 0 {
		return nil
	}
	return b.heap[0]
}

// PeekNext returns the head packet if it would continue the sequence
// exactly (or nothing has been handed out yet), without removing it. The
// packet decoder uses this to source forward-error-correction data for a
// packet it's about to synthesize.
func (b *JitterBuffer) PeekNext() rtp.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.heap) == 0 {
		return nil
	}

	if b.lastTxSeq < 0 {
		return b.heap[0]
	}
	if b.heap[0].Sequence() == addWrapped(uint16(b.lastTxSeq), 1) {
		return b.heap[0]
	}
	return nil
}

// Gap reports how far ahead of the last packet handed out the current head
// of the buffer sits, or 0 if the buffer is empty or nothing has been
// handed out yet.
func (b *JitterBuffer) Gap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.heap) == 0 || b.lastTxSeq < 0 {
		return 0
	}
	return gapWrapped(uint16(b.lastTxSeq), b.heap[0].Sequence())
}

// Flush drains the buffer in sequence order, resets the prefill counter,
// and advances lastTxSeq to the last packet returned. The caller is
// responsible for noticing gaps in the returned slice (packets lost to
// force-release) if it cares.
func (b *JitterBuffer) Flush() []rtp.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]rtp.Packet, 0, len(b.heap))
	for len(b.heap) > 0 {
		out = append(out, heap.Pop(&b.heap).(rtp.Packet))
	}

	if len(out) > 0 {
		b.lastTxSeq = int32(out[len(out)-1].Sequence())
	}
	b.prefillRemaining = b.prefill
	b.hasItem = false
	return out
}

// Reset clears the buffer entirely and forgets lastTxSeq, as if freshly
// constructed.
func (b *JitterBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.heap = b.heap[:0]
	b.prefillRemaining = b.prefill
	b.lastTxSeq = -1
	b.hasItem = false
}

// Len reports how many packets are currently buffered.
func (b *JitterBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.heap)
}
