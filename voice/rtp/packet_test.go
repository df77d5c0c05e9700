package rtp

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func rawHeader(seq uint16, ts, ssrc uint32, ext bool) []byte {
	b := make([]byte, headerLength)
	b[0] = version
	if ext {
		b[0] |= extensionBit
	}
	b[1] = 0x78 // Opus payload type
	binary.BigEndian.PutUint16(b[2:4], seq)
	binary.BigEndian.PutUint32(b[4:8], ts)
	binary.BigEndian.PutUint32(b[8:12], ssrc)
	return b
}

func TestParseHeaderNoExtension(t *testing.T) {
	raw := append(rawHeader(42, 9600, 0xdeadbeef, false), []byte("opus-payload")...)

	h, offset, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.SequenceNumber != 42 || h.Timestamp != 9600 || h.SSRC != 0xdeadbeef {
		t.Fatalf("unexpected header: %+v", h)
	}
	if h.Extension {
		t.Fatal("did not expect extension bit set")
	}
	if offset != headerLength {
		t.Fatalf("expected payload offset %d, got %d", headerLength, offset)
	}
}

func TestParseHeaderWithExtension(t *testing.T) {
	raw := rawHeader(1, 100, 1, true)
	// One-byte-header extension: profile 0xBEDE, length 1 (one 32-bit word).
	raw = append(raw, 0xBE, 0xDE, 0x00, 0x01)
	raw = append(raw, 0x10, 0xAA, 0xBB, 0xCC) // the one extension word
	raw = append(raw, []byte("payload")...)

	h, offset, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !h.Extension {
		t.Fatal("expected extension bit set")
	}
	// ParseHeader stops at the fixed header and leaves the extension block
	// for ParseExtension, which runs after decryption.
	wantOffset := headerLength
	if offset != wantOffset {
		t.Fatalf("expected payload offset %d, got %d", wantOffset, offset)
	}
	ext, err := ParseExtension(raw[offset:])
	if err != nil {
		t.Fatalf("ParseExtension: %v", err)
	}
	if string(raw[offset+ext:]) != "payload" {
		t.Fatalf("expected extension offset to land on payload, got %q", raw[offset+ext:])
	}
}

func TestParseHeaderRejectsShortPacket(t *testing.T) {
	if _, _, err := ParseHeader([]byte{0x80, 0x78}); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestParseHeaderRejectsBadVersion(t *testing.T) {
	raw := rawHeader(1, 1, 1, false)
	raw[0] = 0x00 // version 0, not RTP's 2
	if _, _, err := ParseHeader(raw); err == nil {
		t.Fatal("expected error for unsupported version byte")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	h := Header{
		Version:        2,
		Marker:         true,
		PayloadType:    0x78,
		SequenceNumber: 7,
		Timestamp:      1234,
		SSRC:           99,
	}
	payload := []byte("hello")

	raw := Marshal(h, payload)
	got, offset, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got.SequenceNumber != h.SequenceNumber || got.Timestamp != h.Timestamp || got.SSRC != h.SSRC {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
	if !got.Marker {
		t.Fatal("expected marker bit preserved")
	}
	if !bytes.Equal(raw[offset:], payload) {
		t.Fatalf("expected payload preserved, got %q", raw[offset:])
	}
}

func TestSeqBeforeHandlesWraparound(t *testing.T) {
	if !seqBefore(65535, 0) {
		t.Fatal("expected 0 to come after 65535 across the wraparound")
	}
	if seqBefore(0, 65535) {
		t.Fatal("expected 65535 to come before 0 (i.e. not after) across the wraparound")
	}
	if !seqBefore(10, 11) {
		t.Fatal("expected ordinary adjacent sequence numbers to compare in order")
	}
}

func TestBeforeRejectsDifferentSSRC(t *testing.T) {
	a := NewSilencePacket(1, 0, 0)
	b := NewSilencePacket(2, 1, 0)
	if _, err := Before(a, b); err == nil {
		t.Fatal("expected an error comparing packets from different SSRCs")
	}
}

func TestSeqDeltaAndTimestampDeltaWrap(t *testing.T) {
	if d := SeqDelta(65535, 0); d != 1 {
		t.Fatalf("expected wraparound delta of 1, got %d", d)
	}
	if d := TimestampDelta(1<<32-1, 0); d != 1 {
		t.Fatalf("expected wraparound timestamp delta of 1, got %d", d)
	}
}

func TestLooksLikeRTCP(t *testing.T) {
	rtcp := []byte{0x80, 200, 0, 0}
	if !LooksLikeRTCP(rtcp) {
		t.Fatal("expected payload type 200 to look like RTCP")
	}

	audio := []byte{0x80, 0x78, 0, 0}
	if LooksLikeRTCP(audio) {
		t.Fatal("did not expect Opus payload type to look like RTCP")
	}
}
