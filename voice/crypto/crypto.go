// Package crypto implements the Decryptor: the four AEAD/stream-cipher
// modes Discord's voice gateway can negotiate for the RTP/RTCP payload.
package crypto

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/blackwing-dev/corvus/voice/rtp"
)

// SecretKey is the 32-byte key the voice gateway hands over in
// session_description, shared by all four modes.
type SecretKey [32]byte

// Mode is a tagged enum identifying one of the four negotiable encryption
// modes, replacing the original's string-keyed dynamic dispatch.
type Mode uint8

const (
	// ModeUnknown is the zero value; a Decryptor built around it always
	// errors, catching a forgotten Negotiate call.
	ModeUnknown Mode = iota
	ModeAEADXChaCha20Poly1305RTPSize
	ModeXSalsa20Poly1305
	ModeXSalsa20Poly1305Suffix
	ModeXSalsa20Poly1305Lite
)

// wireNames is the mode's name as advertised on the voice websocket, in
// server-preference order (AEAD first, the three legacy stream-cipher modes
// after). Preference order matters when negotiating: see Negotiate.
var wireNames = map[Mode]string{
	ModeAEADXChaCha20Poly1305RTPSize: "aead_xchacha20_poly1305_rtpsize",
	ModeXSalsa20Poly1305:             "xsalsa20_poly1305",
	ModeXSalsa20Poly1305Suffix:       "xsalsa20_poly1305_suffix",
	ModeXSalsa20Poly1305Lite:         "xsalsa20_poly1305_lite",
}

var modesByName = func() map[string]Mode {
	m := make(map[string]Mode, len(wireNames))
	for mode, name := range wireNames {
		m[name] = mode
	}
	return m
}()

// preferenceOrder lists every mode this package supports, most preferred
// first, matching §the mode-selection preference list: AEAD rtpsize beats
// every legacy stream-cipher mode.
var preferenceOrder = []Mode{
	ModeAEADXChaCha20Poly1305RTPSize,
	ModeXSalsa20Poly1305,
	ModeXSalsa20Poly1305Suffix,
	ModeXSalsa20Poly1305Lite,
}

func (m Mode) String() string {
	if name, ok := wireNames[m]; ok {
		return name
	}
	return "unknown"
}

// ErrUnsupportedMode is returned when a Decryptor can't find a handler for
// its configured Mode, or when ParseMode is given a name this package
// doesn't recognize.
var ErrUnsupportedMode = errors.New("crypto: unsupported encryption mode")

// ParseMode maps a mode name off the wire to its Mode value.
func ParseMode(name string) (Mode, error) {
	m, ok := modesByName[name]
	if !ok {
		return ModeUnknown, errors.Wrapf(ErrUnsupportedMode, "mode %q", name)
	}
	return m, nil
}

// Negotiate picks the most preferred mode this package supports out of a
// server-offered list, preferring AEAD over every legacy mode regardless of
// the order the server lists them in.
func Negotiate(offered []string) (Mode, error) {
	offeredSet := make(map[string]bool, len(offered))
	for _, name := range offered {
		offeredSet[name] = true
	}

	for _, mode := range preferenceOrder {
		if offeredSet[wireNames[mode]] {
			return mode, nil
		}
	}

	return ModeUnknown, errors.Wrap(ErrUnsupportedMode, "no mutually supported mode offered")
}

// modeHandler implements the encrypt/decrypt pair for one mode's nonce and
// AAD derivation rules. extension tells decryptRTP whether the packet
// carries an RFC 5285 header extension, so it can parse and strip it off
// the plaintext after a successful decrypt (never before: see
// rtp.ParseHeader's doc comment).
type modeHandler interface {
	decryptRTP(header, data []byte, extension bool, key *SecretKey) ([]byte, error)
	encryptRTP(header, plaintext []byte, key *SecretKey) ([]byte, error)
	decryptRTCP(data []byte, key *SecretKey) ([]byte, error)
	encryptRTCP(plaintext []byte, key *SecretKey) ([]byte, error)
}

// stripExtension parses and removes a plaintext RFC 5285 one-byte-header
// extension from the front of a decrypted RTP payload, once the caller
// knows it's there. It is the shared tail end of every mode's decryptRTP:
// §4.2 requires extension parsing to run only after decryption succeeds,
// never on ciphertext.
func stripExtension(plaintext []byte, extension bool) ([]byte, error) {
	if !extension {
		return plaintext, nil
	}

	offset, err := rtp.ParseExtension(plaintext)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: failed to parse header extension")
	}
	return plaintext[offset:], nil
}

// Decryptor holds the secret key and the negotiated mode's handler, and is
// the only type the receive pipeline needs: DecryptRTP/DecryptRTCP.
type Decryptor struct {
	mode    Mode
	key     SecretKey
	handler modeHandler
}

// New builds a Decryptor for the given mode and key. It errors immediately
// on an unrecognized mode rather than deferring the error to first use.
func New(mode Mode, key SecretKey) (*Decryptor, error) {
	handler, ok := handlers[mode]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedMode, "mode %s", mode)
	}
	return &Decryptor{mode: mode, key: key, handler: handler}, nil
}

func (d *Decryptor) Mode() Mode { return d.mode }

// Rotate replaces the secret key in place, used after a resumed session
// rekeys without renegotiating the mode.
func (d *Decryptor) Rotate(key SecretKey) { d.key = key }

// DecryptRTP decrypts an RTP payload and, if extension is true, strips the
// RFC 5285 header extension off the resulting plaintext before returning
// it. header is the 12(+csrc)-byte fixed RTP header, used as AAD under
// AEAD rtpsize; data is the ciphertext plus mode-specific nonce material
// following header, exactly as ParseHeader split it off the raw
// datagram — untouched by any extension parsing at that stage.
func (d *Decryptor) DecryptRTP(header, data []byte, extension bool) ([]byte, error) {
	return d.handler.decryptRTP(header, data, extension, &d.key)
}

// EncryptRTP encrypts a plaintext Opus payload for sending, returning the
// ciphertext (plus any appended nonce suffix) to follow the header.
func (d *Decryptor) EncryptRTP(header, plaintext []byte) ([]byte, error) {
	return d.handler.encryptRTP(header, plaintext, &d.key)
}

// DecryptRTCP decrypts an RTCP compound packet's encrypted tail. data
// includes the 8-byte RTCP header, which is used as AAD under AEAD modes.
func (d *Decryptor) DecryptRTCP(data []byte) ([]byte, error) {
	return d.handler.decryptRTCP(data, &d.key)
}

func (d *Decryptor) EncryptRTCP(plaintext []byte) ([]byte, error) {
	return d.handler.encryptRTCP(plaintext, &d.key)
}

var handlers = map[Mode]modeHandler{
	ModeAEADXChaCha20Poly1305RTPSize: aeadRTPSizeHandler{},
	ModeXSalsa20Poly1305:             xsalsa20Handler{},
	ModeXSalsa20Poly1305Suffix:       xsalsa20SuffixHandler{},
	ModeXSalsa20Poly1305Lite:         xsalsa20LiteHandler{},
}

//
// aead_xchacha20_poly1305_rtpsize
//

// rtpSizeCounterLen is the 4-byte big-endian counter Discord appends to the
// ciphertext, zero-padded up to the cipher's 24-byte nonce.
const rtpSizeCounterLen = 4

type aeadRTPSizeHandler struct{}

func nonceFromCounterSuffix(suffix []byte) [chacha20poly1305.NonceSizeX]byte {
	var nonce [chacha20poly1305.NonceSizeX]byte
	copy(nonce[:], suffix)
	return nonce
}

func (aeadRTPSizeHandler) decryptRTP(header, data []byte, extension bool, key *SecretKey) ([]byte, error) {
	aad, suffix, ciphertext, err := rtp.AdjustRTPSize(extension, header, data)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: failed to adjust rtpsize packet")
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "crypto: failed to construct aead")
	}

	nonce := nonceFromCounterSuffix(suffix)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, err
	}

	if !extension {
		return plaintext, nil
	}

	// The extension's profile+length prefix was diverted into aad before
	// decrypting (the last 4 bytes of aad), so it must be stitched back
	// onto the front of plaintext before ParseExtension can size the
	// extension's values.
	extPrefix := aad[len(aad)-4:]
	full := append(append([]byte{}, extPrefix...), plaintext...)

	offset, err := rtp.ParseExtension(full)
	if err != nil {
		return nil, errors.Wrap(err, "crypto: failed to parse header extension")
	}
	return full[offset:], nil
}

func (aeadRTPSizeHandler) encryptRTP(header, plaintext []byte, key *SecretKey) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "crypto: failed to construct aead")
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	binary.BigEndian.PutUint32(nonce[:rtpSizeCounterLen], counter())

	ciphertext := aead.Seal(nil, nonce[:], plaintext, header)
	return append(ciphertext, nonce[:rtpSizeCounterLen]...), nil
}

func (aeadRTPSizeHandler) decryptRTCP(data []byte, key *SecretKey) ([]byte, error) {
	return decryptRTCPAEAD(data, key)
}

func (aeadRTPSizeHandler) encryptRTCP(plaintext []byte, key *SecretKey) ([]byte, error) {
	return nil, errors.New("crypto: RTCP encryption not implemented for rtpsize mode")
}

func decryptRTCPAEAD(data []byte, key *SecretKey) ([]byte, error) {
	const rtcpHeaderLen = 8
	if len(data) < rtcpHeaderLen+rtpSizeCounterLen {
		return nil, errors.New("crypto: rtcp packet too short")
	}

	aad := data[:rtcpHeaderLen]
	ciphertext := data[rtcpHeaderLen : len(data)-rtpSizeCounterLen]
	suffix := data[len(data)-rtpSizeCounterLen:]

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "crypto: failed to construct aead")
	}

	nonce := nonceFromCounterSuffix(suffix)
	return aead.Open(nil, nonce[:], ciphertext, aad)
}

// counter is a process-wide monotonically increasing nonce counter for
// outbound AEAD packets. Discord requires it strictly increase per SSRC;
// since this module's send path serializes all sends through one
// connection, a single counter per Decryptor would be more precise, but a
// package-level one is sufficient while the send path stays single-stream.
var rtpSizeCounter uint32

func counter() uint32 {
	rtpSizeCounter++
	return rtpSizeCounter
}

//
// xsalsa20_poly1305 (nonce = 12-byte RTP header, zero-padded to 24)
//

type xsalsa20Handler struct{}

func (xsalsa20Handler) decryptRTP(header, data []byte, extension bool, key *SecretKey) ([]byte, error) {
	var nonce [24]byte
	copy(nonce[:], header)

	out, ok := secretbox.Open(nil, data, &nonce, (*[32]byte)(key))
	if !ok {
		return nil, errors.New("crypto: secretbox authentication failed")
	}
	return stripExtension(out, extension)
}

func (xsalsa20Handler) encryptRTP(header, plaintext []byte, key *SecretKey) ([]byte, error) {
	var nonce [24]byte
	copy(nonce[:], header)

	return secretbox.Seal(nil, plaintext, &nonce, (*[32]byte)(key)), nil
}

func (h xsalsa20Handler) decryptRTCP(data []byte, key *SecretKey) ([]byte, error) {
	const rtcpHeaderLen = 8
	if len(data) < rtcpHeaderLen {
		return nil, errors.New("crypto: rtcp packet too short")
	}

	var nonce [24]byte
	copy(nonce[:], data[:rtcpHeaderLen])

	out, ok := secretbox.Open(nil, data[rtcpHeaderLen:], &nonce, (*[32]byte)(key))
	if !ok {
		return nil, errors.New("crypto: secretbox authentication failed")
	}
	return append(append([]byte{}, data[:rtcpHeaderLen]...), out...), nil
}

func (h xsalsa20Handler) encryptRTCP(plaintext []byte, key *SecretKey) ([]byte, error) {
	return nil, errors.New("crypto: RTCP encryption not implemented for xsalsa20_poly1305 mode")
}

//
// xsalsa20_poly1305_suffix (nonce = last 24 bytes of data, random, sender-chosen)
//

type xsalsa20SuffixHandler struct{}

const suffixNonceLen = 24

func (xsalsa20SuffixHandler) decryptRTP(header, data []byte, extension bool, key *SecretKey) ([]byte, error) {
	if len(data) < suffixNonceLen {
		return nil, errors.New("crypto: suffix packet shorter than nonce")
	}

	ciphertext := data[:len(data)-suffixNonceLen]

	var nonce [24]byte
	copy(nonce[:], data[len(data)-suffixNonceLen:])

	out, ok := secretbox.Open(nil, ciphertext, &nonce, (*[32]byte)(key))
	if !ok {
		return nil, errors.New("crypto: secretbox authentication failed")
	}
	return stripExtension(out, extension)
}

func (xsalsa20SuffixHandler) encryptRTP(header, plaintext []byte, key *SecretKey) ([]byte, error) {
	var nonce [24]byte
	if _, err := randRead(nonce[:]); err != nil {
		return nil, errors.Wrap(err, "crypto: failed to generate nonce")
	}

	ciphertext := secretbox.Seal(nil, plaintext, &nonce, (*[32]byte)(key))
	return append(ciphertext, nonce[:]...), nil
}

func (xsalsa20SuffixHandler) decryptRTCP(data []byte, key *SecretKey) ([]byte, error) {
	const rtcpHeaderLen = 8
	if len(data) < rtcpHeaderLen+suffixNonceLen {
		return nil, errors.New("crypto: rtcp packet too short")
	}

	ciphertext := data[rtcpHeaderLen : len(data)-suffixNonceLen]

	var nonce [24]byte
	copy(nonce[:], data[len(data)-suffixNonceLen:])

	out, ok := secretbox.Open(nil, ciphertext, &nonce, (*[32]byte)(key))
	if !ok {
		return nil, errors.New("crypto: secretbox authentication failed")
	}
	return append(append([]byte{}, data[:rtcpHeaderLen]...), out...), nil
}

func (xsalsa20SuffixHandler) encryptRTCP(plaintext []byte, key *SecretKey) ([]byte, error) {
	return nil, errors.New("crypto: RTCP encryption not implemented for xsalsa20_poly1305_suffix mode")
}

//
// xsalsa20_poly1305_lite (nonce = 4-byte counter suffix, zero-padded to 24)
//

type xsalsa20LiteHandler struct{}

func (xsalsa20LiteHandler) decryptRTP(header, data []byte, extension bool, key *SecretKey) ([]byte, error) {
	if len(data) < rtpSizeCounterLen {
		return nil, errors.New("crypto: lite packet shorter than counter suffix")
	}

	ciphertext := data[:len(data)-rtpSizeCounterLen]

	var nonce [24]byte
	copy(nonce[:], data[len(data)-rtpSizeCounterLen:])

	out, ok := secretbox.Open(nil, ciphertext, &nonce, (*[32]byte)(key))
	if !ok {
		return nil, errors.New("crypto: secretbox authentication failed")
	}
	return stripExtension(out, extension)
}

func (xsalsa20LiteHandler) encryptRTP(header, plaintext []byte, key *SecretKey) ([]byte, error) {
	var nonce [24]byte
	binary.BigEndian.PutUint32(nonce[:rtpSizeCounterLen], counter())

	ciphertext := secretbox.Seal(nil, plaintext, &nonce, (*[32]byte)(key))
	return append(ciphertext, nonce[:rtpSizeCounterLen]...), nil
}

func (xsalsa20LiteHandler) decryptRTCP(data []byte, key *SecretKey) ([]byte, error) {
	const rtcpHeaderLen = 8
	if len(data) < rtcpHeaderLen+rtpSizeCounterLen {
		return nil, errors.New("crypto: rtcp packet too short")
	}

	ciphertext := data[rtcpHeaderLen : len(data)-rtpSizeCounterLen]

	var nonce [24]byte
	copy(nonce[:], data[len(data)-rtpSizeCounterLen:])

	out, ok := secretbox.Open(nil, ciphertext, &nonce, (*[32]byte)(key))
	if !ok {
		return nil, errors.New("crypto: secretbox authentication failed")
	}
	return append(append([]byte{}, data[:rtcpHeaderLen]...), out...), nil
}

func (xsalsa20LiteHandler) encryptRTCP(plaintext []byte, key *SecretKey) ([]byte, error) {
	return nil, errors.New("crypto: RTCP encryption not implemented for xsalsa20_poly1305_lite mode")
}
