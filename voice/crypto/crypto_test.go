package crypto

import (
	"bytes"
	"encoding/binary"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
)

// extendedPlaintext prepends a minimal one-byte-header RFC 5285 extension
// (profile 0xBEDE, one 32-bit word of values) onto payload, the shape
// rtp.ParseExtension expects to find at the front of decrypted plaintext.
func extendedPlaintext(payload []byte) []byte {
	ext := []byte{0xBE, 0xDE, 0x00, 0x01, 0xAA, 0xBB, 0xCC, 0xDD}
	return append(ext, payload...)
}

func testKey() SecretKey {
	var k SecretKey
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestRoundTripAllModes(t *testing.T) {
	header := []byte{0x80, 0x78, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x03}
	plaintext := []byte("opus payload goes here")

	for _, mode := range preferenceOrder {
		mode := mode
		t.Run(mode.String(), func(t *testing.T) {
			d, err := New(mode, testKey())
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			ciphertext, err := d.EncryptRTP(header, plaintext)
			if err != nil {
				t.Fatalf("EncryptRTP: %v", err)
			}

			got, err := d.DecryptRTP(header, ciphertext, false)
			if err != nil {
				t.Fatalf("DecryptRTP: %v", err)
			}

			if !bytes.Equal(got, plaintext) {
				t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
			}
		})
	}
}

func TestTamperedCiphertextFailsAuthentication(t *testing.T) {
	header := []byte{0x80, 0x78, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x03}
	plaintext := []byte("opus payload")

	for _, mode := range preferenceOrder {
		mode := mode
		t.Run(mode.String(), func(t *testing.T) {
			d, err := New(mode, testKey())
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			ciphertext, err := d.EncryptRTP(header, plaintext)
			if err != nil {
				t.Fatalf("EncryptRTP: %v", err)
			}

			// Flip every bit of the first byte of the ciphertext, away
			// from the trailing nonce material, so the corruption lands in
			// the authenticated payload itself.
			tampered := append([]byte{}, ciphertext...)
			tampered[0] ^= 0xFF

			if _, err := d.DecryptRTP(header, tampered, false); err == nil {
				t.Fatal("expected authentication failure on tampered ciphertext")
			}
		})
	}
}

// TestRoundTripWithExtension sends a packet with the RFC 5285 extension bit
// set through the full decrypt pipeline for every mode, the path the
// encryptedRTPDatagram-style fixtures in voice/receive never exercised: the
// extension profile/length/value bytes must be parsed and stripped off the
// plaintext only after decryption succeeds, never touched beforehand.
func TestRoundTripWithExtension(t *testing.T) {
	header := []byte{0x90, 0x78, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x03}
	payload := []byte("opus payload goes here")

	for _, mode := range preferenceOrder {
		mode := mode
		t.Run(mode.String(), func(t *testing.T) {
			d, err := New(mode, testKey())
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			var data []byte
			if mode == ModeAEADXChaCha20Poly1305RTPSize {
				data = aeadExtensionFixture(t, header, payload)
			} else {
				ciphertext, err := d.EncryptRTP(header, extendedPlaintext(payload))
				if err != nil {
					t.Fatalf("EncryptRTP: %v", err)
				}
				data = ciphertext
			}

			got, err := d.DecryptRTP(header, data, true)
			if err != nil {
				t.Fatalf("DecryptRTP: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("round trip with extension mismatch: got %q want %q", got, payload)
			}
		})
	}
}

// aeadExtensionFixture builds an aead_xchacha20_poly1305_rtpsize packet body
// by hand, with its extension profile+length bytes left in the clear and
// folded into the AAD alongside header, mirroring what AdjustRTPSize expects
// to find: Discord sends those 4 bytes unencrypted so the receiver can size
// the AEAD call before decrypting.
func aeadExtensionFixture(t *testing.T, header, payload []byte) []byte {
	t.Helper()

	extPrefix := []byte{0xBE, 0xDE, 0x00, 0x01}
	extValues := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	plaintext := append(append([]byte{}, extValues...), payload...)

	aead, err := chacha20poly1305.NewX(testKey()[:])
	if err != nil {
		t.Fatalf("NewX: %v", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	binary.BigEndian.PutUint32(nonce[:4], 42)

	aad := append(append([]byte{}, header...), extPrefix...)
	ciphertext := aead.Seal(nil, nonce[:], plaintext, aad)

	data := append(append([]byte{}, extPrefix...), ciphertext...)
	data = append(data, nonce[:4]...)
	return data
}

func TestNegotiatePrefersAEAD(t *testing.T) {
	mode, err := Negotiate([]string{"xsalsa20_poly1305", "aead_xchacha20_poly1305_rtpsize"})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if mode != ModeAEADXChaCha20Poly1305RTPSize {
		t.Fatalf("expected AEAD rtpsize to be preferred, got %s", mode)
	}
}

func TestNegotiateFallsBackToLegacy(t *testing.T) {
	mode, err := Negotiate([]string{"xsalsa20_poly1305_lite"})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if mode != ModeXSalsa20Poly1305Lite {
		t.Fatalf("expected lite mode, got %s", mode)
	}
}

func TestNegotiateUnsupported(t *testing.T) {
	if _, err := Negotiate([]string{"some_future_mode"}); err == nil {
		t.Fatal("expected error for wholly unsupported offer")
	}
}
