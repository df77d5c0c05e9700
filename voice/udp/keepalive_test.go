package udp

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func udpLoopback(t *testing.T) (a, b net.Conn) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	client, err := net.Dial("udp", pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	// First datagram establishes the "connection" on the listener side.
	if _, err := client.Write([]byte{0}); err != nil {
		t.Fatalf("initial write: %v", err)
	}
	buf := make([]byte, 1)
	_, _, err = pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("initial read: %v", err)
	}

	// The listener itself is the server end: it is where client's writes
	// arrive.
	server, ok := pc.(net.Conn)
	if !ok {
		t.Fatalf("listener %T is not a net.Conn", pc)
	}

	return client, server
}

func TestKeepAliveSendsBigEndianCounter(t *testing.T) {
	client, server := udpLoopback(t)

	// NewKeepAlive's loop writes its first packet straight away, before the
	// first tick.
	k := NewKeepAlive(client)
	defer k.Stop()

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 8)
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected an 8-byte counter packet, got %d bytes", n)
	}
	if got := binary.BigEndian.Uint64(buf); got != 0 {
		t.Fatalf("expected counter 0 on the first packet, got %d", got)
	}
}

func TestKeepAliveStopEndsTheLoop(t *testing.T) {
	client, _ := udpLoopback(t)

	k := NewKeepAlive(client)

	done := make(chan struct{})
	go func() {
		k.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}
