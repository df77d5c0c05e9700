package receive

import (
	"net"
	"sync"
	"testing"
	"time"
)

func udpPair(t *testing.T) (server net.PacketConn, clientAddr net.Addr, send func([]byte)) {
	t.Helper()

	server, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket (client): %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return server, client.LocalAddr(), func(data []byte) {
		client.WriteTo(data, server.LocalAddr())
	}
}

func TestSocketEventReaderDeliversToRegisteredCallback(t *testing.T) {
	server, _, send := udpPair(t)

	r := NewSocketEventReader(server)
	defer r.Stop()

	var mu sync.Mutex
	var got []byte
	token := r.Register(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append([]byte(nil), data...)
	})
	defer token.Unregister()

	send([]byte("hello voice"))

	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if string(got) != "hello voice" {
		t.Fatalf("got %q", got)
	}
}

func TestSocketEventReaderIgnoresDataWithNoCallbacks(t *testing.T) {
	server, _, send := udpPair(t)

	r := NewSocketEventReader(server)
	defer r.Stop()

	// Nothing registered: the reader should stay paused and not panic or
	// busy-loop even though a datagram arrives.
	send([]byte("nobody listening"))
	time.Sleep(50 * time.Millisecond)

	var called int32
	token := r.Register(func(data []byte) { called++ })
	defer token.Unregister()

	send([]byte("now somebody is"))
	waitForCondition(t, time.Second, func() bool { return called > 0 })
}

func TestSocketEventReaderUnregisterStopsDelivery(t *testing.T) {
	server, _, send := udpPair(t)

	r := NewSocketEventReader(server)
	defer r.Stop()

	var mu sync.Mutex
	count := 0
	token := r.Register(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	send([]byte("one"))
	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	token.Unregister()
	send([]byte("two"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected delivery to stop after unregister, got count %d", count)
	}
}

func TestSocketEventReaderRecoversFromCallbackPanic(t *testing.T) {
	server, _, send := udpPair(t)

	r := NewSocketEventReader(server)
	defer r.Stop()

	token := r.Register(func(data []byte) { panic("boom") })
	defer token.Unregister()

	var mu sync.Mutex
	var gotSecond bool
	r.Register(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		gotSecond = true
	})

	send([]byte("trigger"))
	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotSecond
	})
}
