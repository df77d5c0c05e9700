package opus

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc, err := NewEncoder()
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	pcm := make([]int16, SamplesPerFrame*Channels)
	for i := range pcm {
		pcm[i] = int16((i * 37) % 2000)
	}

	frame, err := enc.Encode(pcm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out, err := dec.Decode(frame, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(out) != SamplesPerFrame*Channels {
		t.Fatalf("unexpected decoded length: got %d want %d", len(out), SamplesPerFrame*Channels)
	}
}

func TestDecodePLCFillsFrame(t *testing.T) {
	dec, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	out, err := dec.Decode(nil, false)
	if err != nil {
		t.Fatalf("Decode (PLC): %v", err)
	}

	if len(out) == 0 {
		t.Fatal("expected PLC to synthesize a non-empty frame")
	}
}
