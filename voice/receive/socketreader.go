package receive

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// socketReadTimeout bounds each read so the loop periodically re-checks
// whether it's been told to pause or stop, rather than blocking forever
// on a socket that may never receive another packet.
const socketReadTimeout = 30 * time.Second

// socketReadBufferSize is large enough for any RTP/RTCP packet Discord's
// voice UDP socket sends; oversized reads are simply truncated by the
// kernel, never an error, so there's no harm padding it.
const socketReadBufferSize = 2048

// SocketCallback receives each raw UDP datagram read off the voice
// socket, before any RTP/RTCP parsing happens.
type SocketCallback func(data []byte)

// SocketEventReader owns the read side of the voice UDP socket: a single
// background goroutine that reads datagrams and fans each one out to
// every registered callback. It pauses itself when nothing is
// registered, since a raw voice socket with no listener still wakes the
// goroutine every 30 seconds for nothing.
//
// Grounded on discord/voice/state.py's SocketEventReader: Go's read-
// deadline idiom replaces select(2) (there's no non-blocking multi-FD
// select primitive in Go net; a deadline serves the same "wake up
// periodically" purpose), and the two threading.Events gating
// running/idle-paused become a sync.Cond over a single paused bool.
type SocketEventReader struct {
	conn net.PacketConn

	mu        sync.Mutex
	cond      *sync.Cond
	callbacks []registeredCallback
	nextID    uint64
	paused    bool
	stopped   bool
	done      chan struct{}
}

type registeredCallback struct {
	id uint64
	cb SocketCallback
}

// NewSocketEventReader constructs a reader over conn, starting paused
// (there's nothing to deliver to until something registers).
func NewSocketEventReader(conn net.PacketConn) *SocketEventReader {
	r := &SocketEventReader{
		conn:   conn,
		paused: true,
		done:   make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	go r.run()
	return r
}

// Register adds a callback and resumes reading if this is the first one.
// Go has no way to compare arbitrary func values for equality (unlike
// Python's list.remove by identity), so the returned RegisterToken is
// what Unregister takes instead.
func (r *SocketEventReader) Register(cb SocketCallback) RegisterToken {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.callbacks = append(r.callbacks, registeredCallback{id: id, cb: cb})
	if r.paused {
		r.paused = false
		r.cond.Broadcast()
	}
	return RegisterToken{r: r, id: id}
}

// unregisterID removes the callback registered under id, pausing the
// reader again if none remain.
func (r *SocketEventReader) unregisterID(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.callbacks {
		if entry.id == id {
			r.callbacks = append(r.callbacks[:i], r.callbacks[i+1:]...)
			break
		}
	}
	if len(r.callbacks) == 0 {
		r.paused = true
	}
}

// RegisterToken is returned by Register and can be used to Unregister
// the same callback later.
type RegisterToken struct {
	r  *SocketEventReader
	id uint64
}

// Unregister removes this token's callback from the reader.
func (t RegisterToken) Unregister() {
	t.r.unregisterID(t.id)
}

// Pause stops delivering datagrams without discarding registered
// callbacks; Resume(true) restarts delivery to them.
func (r *SocketEventReader) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume restarts delivery. With force false (the common case) it only
// resumes if at least one callback is registered.
func (r *SocketEventReader) Resume(force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.paused {
		return
	}
	if !force && len(r.callbacks) == 0 {
		return
	}
	r.paused = false
	r.cond.Broadcast()
}

// Stop shuts the reader down permanently.
func (r *SocketEventReader) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.paused = false // wake the wait loop so it notices stopped
	r.cond.Broadcast()
	r.mu.Unlock()

	r.conn.SetReadDeadline(time.Now())
	<-r.done
}

func (r *SocketEventReader) run() {
	defer close(r.done)

	buf := make([]byte, socketReadBufferSize)

	for {
		r.mu.Lock()
		for r.paused && !r.stopped {
			r.cond.Wait()
		}
		stopped := r.stopped
		r.mu.Unlock()

		if stopped {
			return
		}

		r.conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
		n, _, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			r.mu.Lock()
			stopped := r.stopped
			r.mu.Unlock()
			if stopped {
				return
			}
			Debug(fmt.Sprintf("receive: error reading voice socket: %v", err))
			continue
		}

		data := append([]byte(nil), buf[:n]...)
		r.dispatch(data)
	}
}

func (r *SocketEventReader) dispatch(data []byte) {
	r.mu.Lock()
	callbacks := append([]registeredCallback(nil), r.callbacks...)
	r.mu.Unlock()

	for _, entry := range callbacks {
		r.safeCall(entry.cb, data)
	}
}

func (r *SocketEventReader) safeCall(cb SocketCallback, data []byte) {
	defer func() {
		if p := recover(); p != nil {
			Debug(fmt.Sprintf("receive: panic in socket callback: %v", p))
		}
	}()
	cb(data)
}
