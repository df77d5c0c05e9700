// Package opus wraps gopkg.in/hraban/opus.v2, Discord voice's codec, with
// the narrow surface the receive pipeline needs: decode-with-FEC and
// packet-loss concealment on the receive side, plain encode on the send
// side. Discord voice audio is always 48kHz, stereo, 20ms frames (960
// samples per channel, 3840 bytes of signed 16-bit PCM per frame).
package opus

import (
	"github.com/pkg/errors"
	hraban "gopkg.in/hraban/opus.v2"
)

const (
	SampleRate  = 48000
	Channels    = 2
	FrameMillis = 20

	// SamplesPerFrame is samples per channel per 20ms frame at 48kHz.
	SamplesPerFrame = SampleRate * FrameMillis / 1000 // 960

	// FrameBytes is the size of one decoded PCM frame: 16-bit stereo.
	FrameBytes = SamplesPerFrame * Channels * 2 // 3840
)

// Decoder decodes Opus frames into 16-bit PCM, with forward error
// correction and packet-loss concealment for gaps the jitter buffer leaves
// behind.
type Decoder struct {
	dec *hraban.Decoder
}

func NewDecoder() (*Decoder, error) {
	dec, err := hraban.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, errors.Wrap(err, "opus: failed to create decoder")
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes a single frame. Its behavior is selected by its two
// arguments:
//
//   - data == nil:               packet-loss concealment for one missing frame.
//   - data != nil, fec == false:  ordinary decode.
//   - data != nil, fec == true:   recover the *previous* lost frame from the
//     forward error correction redundancy carried in data (which is the
//     packet *after* the lost one); the caller is expected to follow this
//     call with a plain decode of data itself once it advances.
//
// The returned slice is signed 16-bit PCM, interleaved stereo.
func (d *Decoder) Decode(data []byte, fec bool) ([]int16, error) {
	pcm := make([]int16, SamplesPerFrame*Channels)

	switch {
	case data == nil:
		n, err := d.dec.DecodePLC(pcm)
		if err != nil {
			return nil, errors.Wrap(err, "opus: PLC failed")
		}
		return pcm[:n*Channels], nil

	case fec:
		if err := d.dec.DecodeFEC(data, pcm); err != nil {
			return nil, errors.Wrap(err, "opus: FEC decode failed")
		}
		return pcm, nil

	default:
		n, err := d.dec.Decode(data, pcm)
		if err != nil {
			return nil, errors.Wrap(err, "opus: decode failed")
		}
		return pcm[:n*Channels], nil
	}
}

// Encoder encodes 16-bit PCM frames to Opus for the send path.
type Encoder struct {
	enc *hraban.Encoder
}

// NewEncoder creates an Encoder for voice (as opposed to music) audio,
// matching Discord's own send-path characteristics.
func NewEncoder() (*Encoder, error) {
	enc, err := hraban.NewEncoder(SampleRate, Channels, hraban.AppVoIP)
	if err != nil {
		return nil, errors.Wrap(err, "opus: failed to create encoder")
	}
	return &Encoder{enc: enc}, nil
}

// SetBitrate clamps and applies the encoder's target bitrate in bits per
// second, matching the Opus recommended range for voice (6kbps-510kbps).
func (e *Encoder) SetBitrate(bps int) error {
	const min, max = 6000, 510000
	if bps < min {
		bps = min
	}
	if bps > max {
		bps = max
	}
	return e.enc.SetBitrate(bps)
}

// Encode encodes one 20ms frame of interleaved stereo PCM into an Opus
// packet.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	data := make([]byte, FrameBytes)
	n, err := e.enc.Encode(pcm, data)
	if err != nil {
		return nil, errors.Wrap(err, "opus: encode failed")
	}
	return data[:n], nil
}
