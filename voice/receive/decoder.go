package receive

import (
	"context"
	"fmt"

	"github.com/blackwing-dev/corvus/voice/opus"
	"github.com/blackwing-dev/corvus/voice/rtp"
)

// GroupDecryptor is the DAVE end-to-end-encryption passthrough hook: once a
// packet has been Opus-decoded, a DAVE session may need to re-decrypt the
// PCM for a given speaker before it reaches a sink. NoopGroupDecryptor is
// used when DAVE isn't in play.
type GroupDecryptor interface {
	CanPassthrough(userID uint64) bool
	Decrypt(userID uint64, pcm []int16) ([]int16, error)
}

// NoopGroupDecryptor never passes through; it's the default when no DAVE
// session is active.
type NoopGroupDecryptor struct{}

func (NoopGroupDecryptor) CanPassthrough(uint64) bool { return false }
func (NoopGroupDecryptor) Decrypt(_ uint64, pcm []int16) ([]int16, error) {
	return pcm, nil
}

// VoiceData is one decoded frame's worth of output the receive pipeline
// hands to a sink: the packet it came from (real or synthesized), the
// speaker it's attributed to if known, and the decoded PCM (nil if the
// sink wants raw Opus instead).
type VoiceData struct {
	Packet rtp.Packet
	UserID uint64
	PCM    []int16
}

// PacketDecoder buffers and decodes one speaker's RTP stream. One exists
// per active SSRC; the packet router creates and destroys them as speakers
// join and leave.
//
// Grounded on discord/opus.py's PacketDecoder: push_packet/pop_data drive a
// JitterBuffer and an Opus decoder, synthesizing an rtp.SilencePacket (the
// original's FakePacket) to trigger
// packet-loss concealment when the buffer runs dry, and preferring
// forward-error-correction recovery over raw PLC when the next packet in
// the buffer can supply it.
type PacketDecoder struct {
	SSRC uint32

	buffer *JitterBuffer
	opus   *opus.Decoder // nil when the sink wants raw Opus passthrough

	dave GroupDecryptor

	userID  uint64
	hasUser bool
	lastSeq uint16
	lastTS  uint32
	started bool

	onReadyChange func(ready bool)
}

// NewPacketDecoder constructs a decoder for one SSRC. wantsOpus selects
// whether PCM is decoded at all (false) or frames pass through undecoded
// to the sink (true). onReadyChange, if non-nil, is invoked after every push,
// pop, reset and destroy with whether the buffer still holds any packet —
// the packet router uses it to register/unregister this decoder with its
// consumer wake-up.
func NewPacketDecoder(ssrc uint32, wantsOpus bool, onReadyChange func(ready bool)) (*PacketDecoder, error) {
	d := &PacketDecoder{
		SSRC:          ssrc,
		buffer:        NewJitterBuffer(),
		dave:          NoopGroupDecryptor{},
		onReadyChange: onReadyChange,
	}
	if !wantsOpus {
		dec, err := opus.NewDecoder()
		if err != nil {
			return nil, err
		}
		d.opus = dec
	}
	return d, nil
}

// SetGroupDecryptor installs a DAVE passthrough hook; nil restores the
// no-op default.
func (d *PacketDecoder) SetGroupDecryptor(dave GroupDecryptor) {
	if dave == nil {
		dave = NoopGroupDecryptor{}
	}
	d.dave = dave
}

// SetUserID records the Discord user this SSRC has been resolved to, once
// the gateway has told us.
func (d *PacketDecoder) SetUserID(userID uint64) {
	d.userID = userID
	d.hasUser = true
}

func (d *PacketDecoder) flagReadyState() {
	if d.onReadyChange == nil {
		return
	}
	d.onReadyChange(d.buffer.Peek() != nil)
}

// PushPacket enqueues a newly-arrived packet for this speaker.
func (d *PacketDecoder) PushPacket(p rtp.Packet) {
	d.buffer.Push(p)
	d.flagReadyState()
}

// PopData blocks (respecting ctx) for the next packet, decodes it if this
// decoder wants PCM, and returns the result. It returns (nil, nil) if ctx
// expired with nothing ready.
func (d *PacketDecoder) PopData(ctx context.Context) (*VoiceData, error) {
	p := d.getNextPacket(ctx)
	d.flagReadyState()

	if p == nil {
		return nil, nil
	}
	return d.processPacket(p)
}

// TryPopData is PopData with an already-expired context: it never blocks,
// so when nothing is ready it takes getNextPacket's fallbacks at once
// (flushing a non-empty buffer, or synthesizing silence once the stream has
// started) and returns (nil, nil) only when neither applies. The packet
// router's delivery loop uses this once a decoder has signaled readiness
// via onReadyChange, rather than blocking the whole loop on one speaker.
func (d *PacketDecoder) TryPopData() (*VoiceData, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return d.PopData(ctx)
}

// Reset clears buffered state (used after a reconnect renegotiates
// encryption and sequence numbers start over) but keeps the decoder
// attached to the same SSRC.
func (d *PacketDecoder) Reset() error {
	d.buffer.Reset()
	d.started = false

	if d.opus != nil {
		dec, err := opus.NewDecoder()
		if err != nil {
			return err
		}
		d.opus = dec
	}
	d.flagReadyState()
	return nil
}

// Destroy tears the decoder down; it must not be used afterward.
func (d *PacketDecoder) Destroy() {
	d.buffer.Reset()
	d.opus = nil
	d.flagReadyState()
}

// getNextPacket pops the next ready packet, falling back to flushing the
// buffer if ctx expires with packets still queued (logging how many were
// force-released), and synthesizing a SilencePacket for packet-loss
// concealment if the buffer comes back truly empty.
func (d *PacketDecoder) getNextPacket(ctx context.Context) rtp.Packet {
	if p, ok := d.buffer.Pop(ctx); ok {
		return p
	}

	if d.buffer.Len() > 0 {
		flushed := d.buffer.Flush()
		if len(flushed) > 1 {
			Debug(fmt.Sprintf("receive: %d packets force-released flushing decoder for ssrc %d", len(flushed)-1, d.SSRC))
		}
		return flushed[0]
	}
	return d.makeFakePacket()
}

// makeFakePacket synthesizes the next packet in sequence as silence, used
// to drive the Opus decoder's packet-loss concealment when the jitter
// buffer has nothing real to offer.
func (d *PacketDecoder) makeFakePacket() rtp.Packet {
	if !d.started {
		return nil
	}
	seq := addWrapped(d.lastSeq, 1)
	ts := addWrapped32(d.lastTS, opus.SamplesPerFrame)
	return rtp.NewSilencePacket(d.SSRC, seq, ts)
}

func (d *PacketDecoder) processPacket(p rtp.Packet) (*VoiceData, error) {
	var pcm []int16

	if d.opus != nil {
		var err error
		pcm, err = d.decodePacket(p)
		if err != nil {
			return nil, err
		}
	}

	data := &VoiceData{Packet: p, PCM: pcm}
	if d.hasUser {
		data.UserID = d.userID
	}

	d.lastSeq = p.Sequence()
	d.lastTS = p.Timestamp()
	d.started = true
	return data, nil
}

// decodePacket decodes one packet's Opus payload, preferring a real
// payload, then forward-error-correction recovery sourced from the next
// buffered packet, then plain packet-loss concealment, in that order of
// preference. A DAVE group decryptor, if one can passthrough this speaker,
// gets the last word on the decoded PCM.
func (d *PacketDecoder) decodePacket(p rtp.Packet) ([]int16, error) {
	var (
		pcm []int16
		err error
	)

	if ap, ok := p.(*rtp.AudioPacket); ok {
		pcm, err = d.opus.Decode(ap.Payload, false)
	} else {
		if next := d.buffer.PeekNext(); next != nil {
			if nap, ok := next.(*rtp.AudioPacket); ok {
				pcm, err = d.opus.Decode(nap.Payload, true)
			}
		}
		if pcm == nil && err == nil {
			pcm, err = d.opus.Decode(nil, false)
		}
	}
	if err != nil {
		return nil, err
	}

	if d.hasUser && d.dave.CanPassthrough(d.userID) {
		return d.dave.Decrypt(d.userID, pcm)
	}
	return pcm, nil
}
