package sinks

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/blackwing-dev/corvus/voice/receive"
	"github.com/blackwing-dev/corvus/voice/rtp"
)

// WriterSink writes decoded (or raw Opus) frames straight to an
// io.Writer, one frame per Write call with no framing or container
// format of its own. It's SPEC_FULL.md's stand-in for the concrete
// wave.py/mkv.py/mp4.py sinks the distillation dropped: the minimal
// terminal sink usable by tests and examples without pulling in a media
// container dependency this module has no other use for.
//
// PCM frames are written as little-endian 16-bit samples (the same
// sample layout FFmpegSink feeds to its ffmpeg subprocess); Opus frames
// are written as their raw payload bytes, unframed.
type WriterSink struct {
	node
	mu   sync.Mutex
	w    io.Writer
	opus bool
}

var _ Sink = (*WriterSink)(nil)

// NewWriterSink constructs a sink writing to w. If opus is true, the sink
// requests raw Opus passthrough instead of decoded PCM.
func NewWriterSink(w io.Writer, opus bool) *WriterSink {
	return &WriterSink{w: w, opus: opus}
}

func (s *WriterSink) Children() []Sink { return nil }

func (s *WriterSink) IsOpus() bool { return s.opus }

func (s *WriterSink) Write(data *receive.VoiceData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opus {
		ap, ok := data.Packet.(*rtp.AudioPacket)
		if !ok || data.Packet.IsSilence() {
			return nil
		}
		_, err := s.w.Write(ap.Payload)
		return err
	}

	if data.PCM == nil {
		return nil
	}
	buf := make([]byte, len(data.PCM)*2)
	for i, sample := range data.PCM {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	_, err := s.w.Write(buf)
	return err
}

func (s *WriterSink) Cleanup() {
	if closer, ok := s.w.(io.Closer); ok {
		closer.Close()
	}
}
