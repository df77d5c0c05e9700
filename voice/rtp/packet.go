// Package rtp implements the packet codec for Discord's voice UDP stream:
// parsing RTP headers and, after decryption, the one-byte RFC 5285
// extension profile Discord sends; classifying RTCP packets, which are
// carried as undecoded bytes (sender/receiver reports are not parsed into
// typed records); plus the synthetic silence packet the packet decoder uses
// to paper over dropped or out-of-order audio.
package rtp

import (
	"encoding/binary"
	"fmt"
)

const (
	// headerLength is the fixed RTP header size with no CSRC entries,
	// which is all Discord ever sends.
	headerLength = 12

	versionMask = 0xC0
	version     = 0x80

	extensionBit = 0x10
	paddingBit   = 0x20
	ccMask       = 0x0F
	markerBit    = 0x80
	ptMask       = 0x7F

	// extensionProfile is the one-byte-header RFC 5285 profile Discord
	// tags onto every voice packet.
	extensionProfile = 0xBEDE
)

// Header is an RTP header as Discord sends it: version 2, no CSRC, an
// optional one-byte-header extension.
type Header struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

// Packet is implemented by every value the receive pipeline passes around:
// real RTP audio packets, RTCP packets, and the synthetic SilencePacket
// the packet decoder synthesizes to paper over gaps. Cross-SSRC comparisons return an error instead of panicking, unlike
// the reference implementation this module's behavior is modeled on.
type Packet interface {
	SSRC() uint32
	Sequence() uint16
	Timestamp() uint32
	IsSilence() bool
	IsRTCP() bool
}

// AudioPacket is a decoded RTP audio packet: header plus the still-encrypted
// (or, post-decrypt, plaintext Opus) payload.
type AudioPacket struct {
	Header Header
	// Payload is the Opus payload once decryption and extension-stripping
	// have run; before that it is the raw ciphertext following the
	// header.
	Payload []byte
}

var _ Packet = (*AudioPacket)(nil)

func (p *AudioPacket) SSRC() uint32      { return p.Header.SSRC }
func (p *AudioPacket) Sequence() uint16  { return p.Header.SequenceNumber }
func (p *AudioPacket) Timestamp() uint32 { return p.Header.Timestamp }
func (p *AudioPacket) IsSilence() bool   { return false }
func (p *AudioPacket) IsRTCP() bool      { return false }

// RTCPPacket wraps an undecoded RTCP compound packet read off the same UDP
// socket as RTP audio. Its second byte (where RTP carries the marker and
// payload-type bits) disambiguates it from an RTP audio packet; see
// LooksLikeRTCP.
type RTCPPacket struct {
	Raw []byte
}

var _ Packet = (*RTCPPacket)(nil)

func (p *RTCPPacket) SSRC() uint32      { return 0 }
func (p *RTCPPacket) Sequence() uint16  { return 0 }
func (p *RTCPPacket) Timestamp() uint32 { return 0 }
func (p *RTCPPacket) IsSilence() bool   { return false }
func (p *RTCPPacket) IsRTCP() bool      { return true }

// SilencePacket is a synthetic packet the packet decoder feeds the Opus
// decoder to trigger packet-loss concealment when its jitter buffer has
// nothing to offer for the next sequence number. It
// carries the SSRC/sequence/timestamp it's standing in for so ordering
// logic can treat it like a real packet.
type SilencePacket struct {
	ssrc      uint32
	sequence  uint16
	timestamp uint32
}

func NewSilencePacket(ssrc uint32, sequence uint16, timestamp uint32) *SilencePacket {
	return &SilencePacket{ssrc: ssrc, sequence: sequence, timestamp: timestamp}
}

var _ Packet = (*SilencePacket)(nil)

func (p *SilencePacket) SSRC() uint32      { return p.ssrc }
func (p *SilencePacket) Sequence() uint16  { return p.sequence }
func (p *SilencePacket) Timestamp() uint32 { return p.timestamp }
func (p *SilencePacket) IsSilence() bool   { return true }
func (p *SilencePacket) IsRTCP() bool      { return false }

// ErrDifferentSSRC is returned when two packets being compared (e.g. for
// sequence ordering) don't share an SSRC.
type ErrDifferentSSRC struct {
	Want, Got uint32
}

func (e *ErrDifferentSSRC) Error() string {
	return fmt.Sprintf("rtp: packet SSRC %d does not match expected %d", e.Got, e.Want)
}

// Before reports whether a precedes b in sequence-number order, correctly
// handling the 16-bit wraparound. a and b must share an SSRC.
func Before(a, b Packet) (bool, error) {
	if a.SSRC() != b.SSRC() {
		return false, &ErrDifferentSSRC{Want: a.SSRC(), Got: b.SSRC()}
	}
	return seqBefore(a.Sequence(), b.Sequence()), nil
}

// seqBefore reports whether a precedes b modulo 2^16, per RFC 1982 serial
// number arithmetic: a precedes b iff the signed 16-bit difference b-a is
// positive.
func seqBefore(a, b uint16) bool {
	return int16(b-a) > 0
}

// SeqDelta returns b-a as a signed distance modulo 2^16: positive if b
// comes after a, negative if it comes before.
func SeqDelta(a, b uint16) int16 {
	return int16(b - a)
}

// TimestampDelta returns b-a as a signed distance modulo 2^32.
func TimestampDelta(a, b uint32) int32 {
	return int32(b - a)
}

// LooksLikeRTCP reports whether a UDP payload's second byte, taken whole,
// is an RTCP packet type (200-204) rather than an RTP audio packet's
// marker/payload-type byte (payload type 0x78 Opus). Discord multiplexes
// RTCP sender/receiver reports onto the same socket as RTP audio.
func LooksLikeRTCP(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	pt := b[1]
	return pt >= 200 && pt <= 204
}

// ParseHeader parses the fixed 12-byte RTP header (plus any CSRC entries)
// and returns the offset at which everything following the header begins.
// It does not look at the RFC 5285 extension block at all, even when the
// extension bit is set: those bytes are still ciphertext at this stage,
// and only the Decryptor, after a successful decrypt, is in a position to
// parse them (see ParseExtension). Trying to parse an extension off raw
// ciphertext would corrupt both the nonce and ciphertext boundary every
// mode derives from this offset.
func ParseHeader(b []byte) (Header, int, error) {
	if len(b) < headerLength {
		return Header{}, 0, fmt.Errorf("rtp: packet too short (%d bytes)", len(b))
	}

	if b[0]&versionMask != version {
		return Header{}, 0, fmt.Errorf("rtp: unsupported version byte 0x%02x", b[0])
	}

	h := Header{
		Version:        2,
		Padding:        b[0]&paddingBit != 0,
		Extension:      b[0]&extensionBit != 0,
		Marker:         b[1]&markerBit != 0,
		PayloadType:    b[1] & ptMask,
		SequenceNumber: binary.BigEndian.Uint16(b[2:4]),
		Timestamp:      binary.BigEndian.Uint32(b[4:8]),
		SSRC:           binary.BigEndian.Uint32(b[8:12]),
	}

	cc := int(b[0] & ccMask)
	offset := headerLength + cc*4

	if len(b) < offset {
		return Header{}, 0, fmt.Errorf("rtp: truncated csrc list")
	}

	return h, offset, nil
}

// extensionHeaderLen is the size of a one-byte-header RFC 5285 extension's
// profile+length prefix (2 bytes of profile, 2 bytes of length in 32-bit
// words), before its length*4 bytes of values.
const extensionHeaderLen = 4

// ParseExtension parses a one-byte-header RFC 5285 extension off the front
// of plaintext (profile, then a length-in-32-bit-words field, then that
// many words of extension values) and returns the offset immediately past
// it, where the Opus payload begins. Unlike ParseHeader, this only ever
// runs on already-decrypted plaintext: the Decryptor calls it once a
// packet's ciphertext has authenticated successfully, per §4.2's
// post-decrypt "Decryptor drives header-extension parsing" split.
func ParseExtension(plaintext []byte) (int, error) {
	if len(plaintext) < extensionHeaderLen {
		return 0, fmt.Errorf("rtp: truncated extension header")
	}

	// profile := binary.BigEndian.Uint16(plaintext[0:2])
	length := binary.BigEndian.Uint16(plaintext[2:4])
	offset := extensionHeaderLen + int(length)*4

	if len(plaintext) < offset {
		return 0, fmt.Errorf("rtp: truncated extension body")
	}

	return offset, nil
}

// AdjustRTPSize splits a still-encrypted aead_xchacha20_poly1305_rtpsize
// RTP payload into its AAD, nonce suffix, and ciphertext, per the mode's
// wire layout: the last 4 bytes are always the nonce counter suffix, and
// when the packet carries an RFC 5285 extension, the leading 4
// profile+length bytes of what's left travel as additional authenticated
// data alongside the fixed header rather than as ciphertext (Discord
// sends them unencrypted so the receiver can size the AEAD call before
// decrypting). aad is header with those bytes appended when applicable.
func AdjustRTPSize(extension bool, header, data []byte) (aad, nonceSuffix, ciphertext []byte, err error) {
	const nonceSuffixLen = 4

	if len(data) < nonceSuffixLen {
		return nil, nil, nil, fmt.Errorf("rtp: rtpsize packet shorter than nonce suffix")
	}

	nonceSuffix = data[len(data)-nonceSuffixLen:]
	data = data[:len(data)-nonceSuffixLen]

	if !extension {
		return header, nonceSuffix, data, nil
	}

	if len(data) < extensionHeaderLen {
		return nil, nil, nil, fmt.Errorf("rtp: rtpsize packet missing extension profile bytes")
	}

	aad = append(append([]byte{}, header...), data[:extensionHeaderLen]...)
	return aad, nonceSuffix, data[extensionHeaderLen:], nil
}

// Marshal serializes a header plus payload back into wire format, used when
// the client sends its own audio. It sets the extension bit from
// h.Extension but writes no extension block and no CSRC entries itself:
// payload is copied as-is right after the 12-byte header.
func Marshal(h Header, payload []byte) []byte {
	buf := make([]byte, headerLength+len(payload))

	buf[0] = version
	if h.Padding {
		buf[0] |= paddingBit
	}
	if h.Extension {
		buf[0] |= extensionBit
	}

	buf[1] = h.PayloadType & ptMask
	if h.Marker {
		buf[1] |= markerBit
	}

	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)

	copy(buf[headerLength:], payload)
	return buf
}
