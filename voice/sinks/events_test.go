package sinks

import (
	"sync"
	"testing"
	"time"

	"github.com/blackwing-dev/corvus/voice/receive"
	"github.com/blackwing-dev/corvus/voice/rtp"
)

// recordingSink implements every listener interface so tests can assert
// on exactly what it received.
type recordingSink struct {
	node

	mu      sync.Mutex
	rtcp    []rtp.Packet
	starts  []uint64
	stops   []uint64
	panicOn string
}

func (s *recordingSink) Children() []Sink { return nil }
func (s *recordingSink) IsOpus() bool     { return false }
func (s *recordingSink) Write(*receive.VoiceData) error { return nil }
func (s *recordingSink) Cleanup()                       {}

func (s *recordingSink) OnRTCPPacket(packet rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rtcp = append(s.rtcp, packet)
}

func (s *recordingSink) OnSpeakingStart(userID uint64) {
	if s.panicOn == "start" {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, userID)
}

func (s *recordingSink) OnSpeakingStop(userID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = append(s.stops, userID)
}

func (s *recordingSink) snapshot() (rtcp int, starts, stops []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rtcp), append([]uint64(nil), s.starts...), append([]uint64(nil), s.stops...)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestEventRouterDispatchesToRegisteredListeners(t *testing.T) {
	sink := &recordingSink{}
	r := NewEventRouter(sink)
	defer r.Stop()

	r.DispatchRTCP(&rtp.RTCPPacket{Raw: []byte("x")})
	r.DispatchSpeakingStart(42)
	r.DispatchSpeakingStop(42)

	waitUntil(t, func() bool {
		rtcp, starts, stops := sink.snapshot()
		return rtcp == 1 && len(starts) == 1 && len(stops) == 1
	})
}

func TestEventRouterSkipsSinkNotImplementingListener(t *testing.T) {
	leaf := &leafSink{}
	r := NewEventRouter(leaf)
	defer r.Stop()

	// Nothing to assert on leaf directly since it implements no
	// listener interfaces; this just verifies dispatch doesn't panic
	// or block when there are no registered listeners at all.
	r.DispatchSpeakingStart(1)
	time.Sleep(10 * time.Millisecond)
}

func TestEventRouterSetSinkSwapsRegisteredListeners(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}

	r := NewEventRouter(first)
	defer r.Stop()

	r.SetSink(second)

	r.DispatchSpeakingStart(7)
	waitUntil(t, func() bool {
		_, starts, _ := second.snapshot()
		return len(starts) == 1
	})

	_, firstStarts, _ := first.snapshot()
	if len(firstStarts) != 0 {
		t.Fatal("expected the old sink to no longer receive events after SetSink")
	}
}

func TestEventRouterPanicInOneListenerDoesNotStopOthers(t *testing.T) {
	panicker := &recordingSink{panicOn: "start"}
	survivor := &recordingSink{}

	m, err := NewMultiSink(panicker, survivor)
	if err != nil {
		t.Fatalf("NewMultiSink: %v", err)
	}

	r := NewEventRouter(m)
	defer r.Stop()

	r.DispatchSpeakingStart(9)

	waitUntil(t, func() bool {
		_, starts, _ := survivor.snapshot()
		return len(starts) == 1
	})
}

func TestEventRouterDropsEventsWhenQueueIsFull(t *testing.T) {
	sink := &recordingSink{}
	r := NewEventRouter(sink)
	defer r.Stop()

	// Flood well past eventQueueSize without letting the consumer
	// drain; some sends must be dropped rather than block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < eventQueueSize*4; i++ {
			r.DispatchSpeakingStart(uint64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("DispatchSpeakingStart should never block even when the queue is saturated")
	}
}
