// +build unit

package handler

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/blackwing-dev/corvus/gateway"
)

func TestCall(t *testing.T) {
	var results = make(chan string)

	h := &Handler{
		handlers: map[uint64]handler{},
	}

	// Add handler test
	rm := h.AddHandler(func(m *gateway.VoiceServerUpdateEvent) {
		results <- m.Token
	})

	go h.Call(&gateway.VoiceServerUpdateEvent{
		Token: "test",
	})

	if r := <-results; r != "test" {
		t.Fatal("Returned results is wrong:", r)
	}

	// Remove handler test
	rm()

	go h.Call(&gateway.VoiceServerUpdateEvent{
		Token: "test",
	})

	select {
	case <-results:
		t.Fatal("Unexpected results")
	case <-time.After(time.Millisecond):
		break
	}

	// Invalid type test
	_, err := h.AddHandlerCheck("this should panic")
	if err == nil {
		t.Fatal("No errors found")
	}

	// We don't do anything with the returned callback, as there's none.

	if !strings.Contains(err.Error(), "given interface is not a function") {
		t.Fatal("Unexpected error:", err)
	}
}

func TestHandler(t *testing.T) {
	var results = make(chan string)

	h, err := newHandler(func(m *gateway.VoiceServerUpdateEvent) {
		results <- m.Token
	})
	if err != nil {
		t.Fatal(err)
	}

	const result = "session-token"
	var msg = &gateway.VoiceServerUpdateEvent{
		Token: result,
	}

	var msgV = reflect.ValueOf(msg)
	var msgT = msgV.Type()

	if h.not(msgT) {
		t.Fatal("Event type mismatch")
	}

	go h.call(msgV)

	if results := <-results; results != result {
		t.Fatal("Unexpected results:", results)
	}
}

func TestHandlerInterface(t *testing.T) {
	var results = make(chan interface{})

	h, err := newHandler(func(m interface{}) {
		results <- m
	})
	if err != nil {
		t.Fatal(err)
	}

	const result = "session-token"
	var msg = &gateway.VoiceServerUpdateEvent{
		Token: result,
	}

	var msgV = reflect.ValueOf(msg)
	var msgT = msgV.Type()

	if h.not(msgT) {
		t.Fatal("Event type mismatch")
	}

	go h.call(msgV)
	recv := <-results

	if msg, ok := recv.(*gateway.VoiceServerUpdateEvent); ok {
		if msg.Token == result {
			return
		}

		t.Fatal("Content mismatch:", msg.Token)
	}

	t.Fatal("Assertion failed:", recv)
}

func BenchmarkReflect(b *testing.B) {
	h, err := newHandler(func(m *gateway.VoiceServerUpdateEvent) {})
	if err != nil {
		b.Fatal(err)
	}

	var msg = &gateway.VoiceServerUpdateEvent{}

	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		var msgV = reflect.ValueOf(msg)
		var msgT = msgV.Type()

		if h.not(msgT) {
			b.Fatal("Event type mismatch")
		}

		h.call(msgV)
	}
}
