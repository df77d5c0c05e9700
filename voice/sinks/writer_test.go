package sinks

import (
	"bytes"
	"testing"

	"github.com/blackwing-dev/corvus/voice/receive"
	"github.com/blackwing-dev/corvus/voice/rtp"
)

func TestWriterSinkWritesPCMAsLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf, false)

	if err := s.Write(&receive.VoiceData{PCM: []int16{1, -1, 256}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x01}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % x, want % x", buf.Bytes(), want)
	}
}

func TestWriterSinkWritesRawOpusPayloadWhenConfigured(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf, true)

	pkt := &rtp.AudioPacket{Payload: []byte("opus-bytes")}
	if err := s.Write(&receive.VoiceData{Packet: pkt}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.String() != "opus-bytes" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestWriterSinkSkipsSilencePacketsInOpusMode(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf, true)

	pkt := rtp.NewSilencePacket(1, 0, 0)
	if err := s.Write(&receive.VoiceData{Packet: pkt}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("expected a silence packet to produce no opus output")
	}
}

func TestWriterSinkSkipsNilPCMInPCMMode(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf, false)

	if err := s.Write(&receive.VoiceData{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatal("expected a nil PCM frame to produce no output")
	}
}
