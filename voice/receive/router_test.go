package receive

import (
	"sync"
	"testing"
	"time"

	"github.com/blackwing-dev/corvus/voice/rtp"
)

type fakeSink struct {
	mu      sync.Mutex
	written []*VoiceData
	opus    bool
}

func (s *fakeSink) IsOpus() bool { return s.opus }

func (s *fakeSink) Write(data *VoiceData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, data)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

type fakeDispatcher struct {
	mu      sync.Mutex
	packets []rtp.Packet
}

func (d *fakeDispatcher) DispatchRTCP(p rtp.Packet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.packets = append(d.packets, p)
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.packets)
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPacketRouterDeliversToSink(t *testing.T) {
	sink := &fakeSink{opus: true}
	r := NewPacketRouter(sink, nil)
	defer r.Stop()

	// Two packets are needed: the default JitterBuffer requires more than
	// one queued packet before it considers anything ready to release.
	r.FeedRTP(&rtp.AudioPacket{Header: rtp.Header{SSRC: 1, SequenceNumber: 0}})
	r.FeedRTP(&rtp.AudioPacket{Header: rtp.Header{SSRC: 1, SequenceNumber: 1}})

	waitForCondition(t, time.Second, func() bool { return sink.count() > 0 })
}

func TestPacketRouterDropsStaleSSRCAfterDestroy(t *testing.T) {
	sink := &fakeSink{opus: true}
	r := NewPacketRouter(sink, nil)
	defer r.Stop()

	r.FeedRTP(&rtp.AudioPacket{Header: rtp.Header{SSRC: 7, SequenceNumber: 0}})
	r.FeedRTP(&rtp.AudioPacket{Header: rtp.Header{SSRC: 7, SequenceNumber: 1}})
	waitForCondition(t, time.Second, func() bool { return sink.count() > 0 })

	r.DestroyDecoder(7)
	before := sink.count()

	// These arrive for an SSRC whose decoder was just torn down; they
	// must be dropped rather than standing up a fresh decoder.
	r.FeedRTP(&rtp.AudioPacket{Header: rtp.Header{SSRC: 7, SequenceNumber: 2}})
	r.FeedRTP(&rtp.AudioPacket{Header: rtp.Header{SSRC: 7, SequenceNumber: 3}})

	time.Sleep(50 * time.Millisecond)
	if sink.count() != before {
		t.Fatalf("expected no further delivery for a dropped ssrc, got %d new writes", sink.count()-before)
	}

	r.mu.Lock()
	_, exists := r.decoders[7]
	r.mu.Unlock()
	if exists {
		t.Fatal("expected no decoder to have been recreated for the dropped ssrc")
	}
}

func TestPacketRouterSetUserIDUndropsSSRC(t *testing.T) {
	sink := &fakeSink{opus: true}
	r := NewPacketRouter(sink, nil)
	defer r.Stop()

	r.FeedRTP(&rtp.AudioPacket{Header: rtp.Header{SSRC: 9, SequenceNumber: 0}})
	r.DestroyDecoder(9)

	r.SetUserID(9, 555)

	r.mu.Lock()
	dropped := r.dropped.contains(9)
	r.mu.Unlock()
	if dropped {
		t.Fatal("expected SetUserID to un-drop the ssrc")
	}

	r.FeedRTP(&rtp.AudioPacket{Header: rtp.Header{SSRC: 9, SequenceNumber: 1}})
	r.FeedRTP(&rtp.AudioPacket{Header: rtp.Header{SSRC: 9, SequenceNumber: 2}})
	waitForCondition(t, time.Second, func() bool { return sink.count() > 0 })
}

func TestPacketRouterFeedRTCPDispatches(t *testing.T) {
	sink := &fakeSink{opus: true}
	dispatcher := &fakeDispatcher{}
	r := NewPacketRouter(sink, dispatcher)
	defer r.Stop()

	r.FeedRTCP(&rtp.RTCPPacket{Raw: []byte{0x80, 200, 0, 0}})

	if dispatcher.count() != 1 {
		t.Fatalf("expected 1 dispatched rtcp packet, got %d", dispatcher.count())
	}
}

func TestDroppedSSRCRingEvictsOldest(t *testing.T) {
	r := newDroppedSSRCRing(2)
	r.add(1)
	r.add(2)
	r.add(3)

	if r.contains(1) {
		t.Fatal("expected the oldest entry to have been evicted")
	}
	if !r.contains(2) || !r.contains(3) {
		t.Fatal("expected the two most recent entries to remain")
	}
}
