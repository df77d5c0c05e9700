package receive

import (
	"sync"
	"testing"
	"time"
)

type fakeSpeakingDispatcher struct {
	mu     sync.Mutex
	starts []uint64
	stops  []uint64
}

func (d *fakeSpeakingDispatcher) DispatchSpeakingStart(userID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts = append(d.starts, userID)
}

func (d *fakeSpeakingDispatcher) DispatchSpeakingStop(userID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops = append(d.stops, userID)
}

func (d *fakeSpeakingDispatcher) startCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.starts)
}

func (d *fakeSpeakingDispatcher) stopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stops)
}

func ssrcToUser(ssrc uint32) (uint64, bool) {
	return uint64(ssrc) + 1000, true
}

func TestSpeakingTimerFiresStartOnFirstPacket(t *testing.T) {
	d := &fakeSpeakingDispatcher{}
	timer := NewSpeakingTimer(d, ssrcToUser)
	defer timer.Stop()

	timer.NotifySpeaking(42)

	if d.startCount() != 1 {
		t.Fatalf("expected 1 start dispatch, got %d", d.startCount())
	}
	if speaking, known := timer.GetSpeaking(42); !known || !speaking {
		t.Fatalf("expected ssrc 42 to be known and speaking")
	}
}

func TestSpeakingTimerDoesNotRefireStartWhileContinuouslySpeaking(t *testing.T) {
	d := &fakeSpeakingDispatcher{}
	timer := NewSpeakingTimer(d, ssrcToUser)
	defer timer.Stop()

	timer.NotifySpeaking(1)
	timer.NotifySpeaking(1)
	timer.NotifySpeaking(1)

	if d.startCount() != 1 {
		t.Fatalf("expected exactly 1 start dispatch for continuous speech, got %d", d.startCount())
	}
}

func TestSpeakingTimerFiresStopAfterTimeout(t *testing.T) {
	d := &fakeSpeakingDispatcher{}
	timer := NewSpeakingTimer(d, ssrcToUser)
	defer timer.Stop()

	timer.NotifySpeaking(5)

	waitForCondition(t, time.Second, func() bool { return d.stopCount() > 0 })

	if speaking, known := timer.GetSpeaking(5); !known || speaking {
		t.Fatal("expected ssrc 5 to be marked no longer speaking after timeout")
	}
}

func TestSpeakingTimerRefiresStartAfterQuietPeriod(t *testing.T) {
	d := &fakeSpeakingDispatcher{}
	timer := NewSpeakingTimer(d, ssrcToUser)
	defer timer.Stop()

	timer.NotifySpeaking(9)
	waitForCondition(t, time.Second, func() bool { return d.stopCount() > 0 })

	timer.NotifySpeaking(9)

	if d.startCount() != 2 {
		t.Fatalf("expected a second start dispatch after a quiet period, got %d", d.startCount())
	}
}

func TestSpeakingTimerDropSSRCFiresStopWhenSpeaking(t *testing.T) {
	d := &fakeSpeakingDispatcher{}
	timer := NewSpeakingTimer(d, ssrcToUser)
	defer timer.Stop()

	timer.NotifySpeaking(3)
	timer.DropSSRC(3)

	if d.stopCount() != 1 {
		t.Fatalf("expected 1 stop dispatch from DropSSRC, got %d", d.stopCount())
	}
	if _, known := timer.GetSpeaking(3); known {
		t.Fatal("expected ssrc 3 to be forgotten after DropSSRC")
	}
}

func TestSpeakingTimerDropSSRCOnUnknownSSRCIsNoop(t *testing.T) {
	d := &fakeSpeakingDispatcher{}
	timer := NewSpeakingTimer(d, ssrcToUser)
	defer timer.Stop()

	timer.DropSSRC(999)

	if d.stopCount() != 0 {
		t.Fatalf("expected no stop dispatch for an ssrc never seen, got %d", d.stopCount())
	}
}
