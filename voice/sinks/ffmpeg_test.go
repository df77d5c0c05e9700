package sinks

import (
	"bytes"
	"os/exec"
	"testing"
	"time"

	"github.com/blackwing-dev/corvus/voice/receive"
)

// catExecutable stands in for ffmpeg in tests: it's a stdin-to-stdout
// passthrough, which is all FFmpegSink's plumbing (spawn, write PCM to
// stdin, read from stdout, teardown) needs to exercise against.
func catExecutable(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available in this environment")
	}
	return path
}

func TestFFmpegSinkWritesPCMToSubprocessStdin(t *testing.T) {
	cat := catExecutable(t)

	var out bytes.Buffer
	s, err := NewFFmpegSink(cat, &out)
	if err != nil {
		t.Fatalf("NewFFmpegSink: %v", err)
	}
	defer s.Cleanup()

	if err := s.Write(&receive.VoiceData{PCM: []int16{1, 2, 3}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	s.Cleanup()
	if out.Len() != 6 {
		t.Fatalf("expected 6 bytes echoed back through cat, got %d", out.Len())
	}
}

func TestFFmpegSinkIsOpusAlwaysFalse(t *testing.T) {
	cat := catExecutable(t)
	s, err := NewFFmpegSink(cat, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewFFmpegSink: %v", err)
	}
	defer s.Cleanup()

	if s.IsOpus() {
		t.Fatal("expected FFmpegSink.IsOpus to always be false")
	}
}

func TestFFmpegSinkWriteAfterCleanupIsNoop(t *testing.T) {
	cat := catExecutable(t)
	s, err := NewFFmpegSink(cat, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewFFmpegSink: %v", err)
	}
	s.Cleanup()

	done := make(chan error, 1)
	go func() { done <- s.Write(&receive.VoiceData{PCM: []int16{1}}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected a no-op write after cleanup, got error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Write after Cleanup should not block")
	}
}
