package udp

import (
	"encoding/binary"
	"net"
	"time"
)

// keepAliveInterval is how often KeepAlive sends its counter packet.
//
// Grounded on discord/voice/receive/reader.py's UDPKeepAlive, whose
// `delay: int = 5000` is passed directly into `time.sleep(self.delay)` —
// 5000 seconds between keepalives, which would let most NAT UDP bindings
// expire long before the next packet. Reading 5000 as milliseconds (5s) is
// the only plausible keepalive cadence, so that's what's used here.
const keepAliveInterval = 5 * time.Second

// KeepAlive periodically sends an 8-byte big-endian counter packet on a
// voice UDP socket to keep NAT bindings alive between audio frames.
//
// Grounded on UDPKeepAlive.run: `self.counter.to_bytes(8, "big")`, with the
// counter wrapping back to zero on overflow (there `int.to_bytes` raises
// OverflowError past 2**64-1; here the same wraparound happens for free on
// a uint64 increment).
type KeepAlive struct {
	conn    net.Conn
	counter uint64

	stop chan struct{}
	done chan struct{}
}

// NewKeepAlive starts sending keepalive packets on conn in a background
// goroutine. Call Stop to end it.
func NewKeepAlive(conn net.Conn) *KeepAlive {
	k := &KeepAlive{
		conn: conn,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go k.run()
	return k
}

func (k *KeepAlive) run() {
	defer close(k.done)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var packet [8]byte
		binary.BigEndian.PutUint64(packet[:], k.counter)

		if _, err := k.conn.Write(packet[:]); err != nil {
			Debug("udp: keep-alive write failed:", err)
		} else {
			k.counter++
		}

		select {
		case <-ticker.C:
		case <-k.stop:
			return
		}
	}
}

// Stop ends the keep-alive loop and waits for its goroutine to exit.
func (k *KeepAlive) Stop() {
	close(k.stop)
	<-k.done
}
