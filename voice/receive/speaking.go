package receive

import (
	"container/heap"
	"sync"
	"time"
)

// speakingTimeoutDelay is how long a speaker may go without a new packet
// before they're considered to have stopped speaking.
const speakingTimeoutDelay = 200 * time.Millisecond

// SpeakingDispatcher is notified when a resolved speaker starts or stops
// speaking; the sink event router (voice/sinks) is the usual
// implementation, fanning these out to registered sink listeners.
type SpeakingDispatcher interface {
	DispatchSpeakingStart(userID uint64)
	DispatchSpeakingStop(userID uint64)
}

// speakingDeadline is one pending "ssrc goes quiet at this time" entry.
// version pins it to a particular NotifySpeaking call: a later call for
// the same SSRC bumps the version, making any older heap entry for that
// SSRC stale without needing to find and remove it from the heap.
type speakingDeadline struct {
	ssrc     uint32
	deadline time.Time
	version  uint64
}

type speakingDeadlineHeap []*speakingDeadline

func (h speakingDeadlineHeap) Len() int           { return len(h) }
func (h speakingDeadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h speakingDeadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *speakingDeadlineHeap) Push(x interface{}) { *h = append(*h, x.(*speakingDeadline)) }
func (h *speakingDeadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// SpeakingTimer watches every active SSRC's most recent packet time and
// fires a speaking-stop event once it's gone quiet for
// speakingTimeoutDelay, having already fired a speaking-start event the
// moment packets resumed after a previous quiet period.
//
// Grounded on discord/voice/receive/reader.py's SpeakingTimer: the
// per-SSRC speaking_cache/last_speaking_state maps and the
// fresh-vs-continuing-speech check in notify/drop_ssrc are kept as-is.
// The original's run loop re-sorts its whole cache on every wakeup to
// find the next entry due to expire; here that's a container/heap of
// pending deadlines instead, with a time.Timer reset to the head's
// deadline each time the loop wakes — asymptotically the same "next to
// expire" query the original performs by sorting, done the way Go's
// standard library expects a priority queue to be done. Stale entries
// (an SSRC that spoke again, or was dropped, before its old deadline)
// are recognized by a per-SSRC version counter rather than removed from
// the heap, since container/heap has no efficient arbitrary-element
// removal.
type SpeakingTimer struct {
	mu                sync.Mutex
	lastSpeakingState map[uint32]bool
	speakingCache     map[uint32]time.Time
	versions          map[uint32]uint64
	pending           speakingDeadlineHeap

	resolve    func(ssrc uint32) (userID uint64, ok bool)
	dispatcher SpeakingDispatcher

	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	stopped bool
}

// NewSpeakingTimer constructs a timer dispatching resolved speaking
// events through dispatcher. resolve maps an SSRC to the Discord user
// id it belongs to, or ok=false if that isn't known yet (in which case
// the event is simply dropped, matching the original's "no member, no
// dispatch" behavior).
func NewSpeakingTimer(dispatcher SpeakingDispatcher, resolve func(ssrc uint32) (uint64, bool)) *SpeakingTimer {
	t := &SpeakingTimer{
		lastSpeakingState: make(map[uint32]bool),
		speakingCache:     make(map[uint32]time.Time),
		versions:          make(map[uint32]uint64),
		resolve:           resolve,
		dispatcher:        dispatcher,
		wake:              make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
		done:              make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *SpeakingTimer) wakeLocked() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *SpeakingTimer) dispatchStart(ssrc uint32) {
	if userID, ok := t.resolve(ssrc); ok {
		t.dispatcher.DispatchSpeakingStart(userID)
	}
}

func (t *SpeakingTimer) dispatchStop(ssrc uint32) {
	if userID, ok := t.resolve(ssrc); ok {
		t.dispatcher.DispatchSpeakingStop(userID)
	}
}

// NotifySpeaking records a packet having just arrived for ssrc, firing a
// speaking-start event if this speaker was quiet long enough ago (or has
// never been seen) to count as a fresh start rather than continued
// speech.
func (t *SpeakingTimer) NotifySpeaking(ssrc uint32) {
	t.mu.Lock()
	now := time.Now()
	tlast, seen := t.speakingCache[ssrc]
	fresh := !seen || tlast.Add(speakingTimeoutDelay).Before(now)

	t.lastSpeakingState[ssrc] = true
	t.speakingCache[ssrc] = now
	t.versions[ssrc]++
	heap.Push(&t.pending, &speakingDeadline{
		ssrc:     ssrc,
		deadline: now.Add(speakingTimeoutDelay),
		version:  t.versions[ssrc],
	})
	t.wakeLocked()
	t.mu.Unlock()

	if fresh {
		t.dispatchStart(ssrc)
	}
}

// DropSSRC forgets ssrc entirely (its decoder was torn down), firing a
// speaking-stop event first if it was considered to be currently
// speaking.
func (t *SpeakingTimer) DropSSRC(ssrc uint32) {
	t.mu.Lock()
	delete(t.speakingCache, ssrc)
	wasSpeaking, existed := t.lastSpeakingState[ssrc]
	delete(t.lastSpeakingState, ssrc)
	t.versions[ssrc]++ // invalidate any pending heap entry for this ssrc
	t.wakeLocked()
	t.mu.Unlock()

	if existed && wasSpeaking {
		t.dispatchStop(ssrc)
	}
}

// GetSpeaking reports whether ssrc is currently considered to be
// speaking, and whether it's known at all.
func (t *SpeakingTimer) GetSpeaking(ssrc uint32) (speaking bool, known bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	speaking, known = t.lastSpeakingState[ssrc]
	return
}

// Stop shuts the timer's background goroutine down.
func (t *SpeakingTimer) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	close(t.stopCh)
	<-t.done
}

// nextDeadline pops stale entries (whose version no longer matches the
// SSRC's current version) off the heap and returns the next genuinely
// pending one, if any.
func (t *SpeakingTimer) nextDeadline() (*speakingDeadline, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.pending.Len() > 0 {
		next := t.pending[0]
		if t.versions[next.ssrc] != next.version {
			heap.Pop(&t.pending)
			continue
		}
		return next, true
	}
	return nil, false
}

func (t *SpeakingTimer) run() {
	defer close(t.done)

	for {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if stopped {
			return
		}

		next, ok := t.nextDeadline()
		if !ok {
			select {
			case <-t.wake:
			case <-t.stopCh:
				return
			}
			continue
		}

		remaining := time.Until(next.deadline)
		if remaining <= 0 {
			t.expire(next)
			continue
		}

		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
			t.expire(next)
		case <-t.wake:
			timer.Stop()
		case <-t.stopCh:
			timer.Stop()
			return
		}
	}
}

// expire fires a speaking-stop event for entry's ssrc if its version is
// still current and its deadline has actually passed (a race may have
// refreshed it between the timer firing and the lock being taken).
func (t *SpeakingTimer) expire(entry *speakingDeadline) {
	t.mu.Lock()
	current := t.versions[entry.ssrc] == entry.version
	due := current && !entry.deadline.After(time.Now())
	if due {
		t.lastSpeakingState[entry.ssrc] = false
		if t.pending.Len() > 0 && t.pending[0] == entry {
			heap.Pop(&t.pending)
		}
	}
	t.mu.Unlock()

	if due {
		t.dispatchStop(entry.ssrc)
	}
}
