package sinks

import (
	"context"
	"encoding/binary"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/blackwing-dev/corvus/voice/receive"
)

// ffmpegKillGrace is how long Cleanup waits for ffmpeg to exit on its own
// (after closing its stdin) before escalating to Kill.
//
// Grounded on FFmpegSink._kill_processes's proc.wait(5) followed by
// proc.kill().
const ffmpegKillGrace = 5 * time.Second

// FFmpegSink pipes decoded PCM into an ffmpeg subprocess for transcoding,
// writing 48kHz/stereo/16-bit little-endian PCM to its stdin the same way
// the Opus decoder produces it.
//
// Grounded on discord/sinks/core.py's FFmpegSink: the input args
// (`-f s16le -ar 48000 -ac 2 -i pipe:0`) are kept, as is writing PCM to
// stdin in Write and the close-stdin-then-wait-then-kill teardown
// sequence in Cleanup. The original's `proc.wait(5)` followed by
// `proc.kill()` becomes a Wait raced against ffmpegKillGrace; if the grace
// period runs out first, cancelling the context given to
// exec.CommandContext kills the process.
type FFmpegSink struct {
	node
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
}

var _ Sink = (*FFmpegSink)(nil)

// NewFFmpegSink spawns an ffmpeg subprocess (found via the given
// executable name, typically "ffmpeg") whose output args are appended
// after the fixed PCM input args, writing its own stdout to w.
func NewFFmpegSink(executable string, w io.Writer, outputArgs ...string) (*FFmpegSink, error) {
	ctx, cancel := context.WithCancel(context.Background())

	args := append([]string{
		"-hide_banner", "-loglevel", "warning",
		"-f", "s16le", "-ar", "48000", "-ac", "2", "-i", "pipe:0",
	}, outputArgs...)

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Stdout = w

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "sinks: failed to open ffmpeg stdin pipe")
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrap(err, "sinks: failed to start ffmpeg")
	}

	return &FFmpegSink{cmd: cmd, stdin: stdin, cancel: cancel}, nil
}

func (s *FFmpegSink) Children() []Sink { return nil }

// IsOpus is always false: ffmpeg's input here is always raw PCM.
func (s *FFmpegSink) IsOpus() bool { return false }

func (s *FFmpegSink) Write(data *receive.VoiceData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil || data.PCM == nil {
		return nil
	}

	buf := make([]byte, len(data.PCM)*2)
	for i, sample := range data.PCM {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}

	_, err := s.stdin.Write(buf)
	if err != nil {
		Debug("sinks: error writing pcm to ffmpeg stdin")
		s.killLocked()
	}
	return err
}

// Cleanup closes ffmpeg's stdin and gives it ffmpegKillGrace to exit on
// its own before killing it.
func (s *FFmpegSink) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
}

func (s *FFmpegSink) killLocked() {
	if s.cmd == nil {
		return
	}

	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}

	done := make(chan struct{})
	go func() {
		s.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ffmpegKillGrace):
		s.cancel()
		<-done
	}

	s.cmd = nil
}
