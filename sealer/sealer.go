package sealer

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size of a symmetric sealing key.
	KeySize = chacha20poly1305.KeySize

	// HeaderVersion is the version byte written in front of every sealed
	// payload.
	HeaderVersion byte = 1
)

var (
	// ErrInvalidKey is returned when a sealing key has the wrong size.
	ErrInvalidKey = fmt.Errorf("sealing key must be %d bytes", KeySize)

	// ErrMalformedPayload is returned when a serialized sealed payload is
	// too short or carries an unknown header.
	ErrMalformedPayload = errors.New("malformed sealed payload")
)

// DecryptError is returned when a payload fails authentication, which in
// practice means the wrong key was used or the ciphertext was modified.
type DecryptError struct {
	Err error
}

// Error returns the decryption failure.
func (e *DecryptError) Error() string {
	return fmt.Sprintf("unable to unseal payload: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *DecryptError) Unwrap() error {
	return e.Err
}

// SealedData is an authenticated ciphertext together with what is needed to
// open it again.
type SealedData struct {
	// Header is the format version of the payload.
	Header byte

	// Nonce is the random 24 byte XChaCha20 nonce.
	Nonce []byte

	// Ciphertext is the sealed plaintext including the Poly1305 tag.
	Ciphertext []byte
}

// Bytes serializes the sealed data as header || nonce || ciphertext.
func (s *SealedData) Bytes() []byte {
	b := make([]byte, 0, 1+len(s.Nonce)+len(s.Ciphertext))
	b = append(b, s.Header)
	b = append(b, s.Nonce...)

	return append(b, s.Ciphertext...)
}

// ParseSealedData reverses SealedData.Bytes.
func ParseSealedData(b []byte) (*SealedData, error) {
	minLen := 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(b) < minLen {
		return nil, fmt.Errorf("%w: payload size too small, must be "+
			"at least %v bytes", ErrMalformedPayload, minLen)
	}
	if b[0] != HeaderVersion {
		return nil, fmt.Errorf("%w: unknown header %d",
			ErrMalformedPayload, b[0])
	}

	nonceEnd := 1 + chacha20poly1305.NonceSizeX

	return &SealedData{
		Header:     b[0],
		Nonce:      append([]byte(nil), b[1:nonceEnd]...),
		Ciphertext: append([]byte(nil), b[nonceEnd:]...),
	}, nil
}

// Crypto seals and unseals payloads under a symmetric key.
type Crypto interface {
	// SealSymmetric encrypts and authenticates plaintext, binding it to
	// aad.
	SealSymmetric(key, aad, plaintext []byte) (*SealedData, error)

	// UnsealSymmetric reverses SealSymmetric. Authentication failures
	// are returned as *DecryptError.
	UnsealSymmetric(key, aad []byte, sealed *SealedData) ([]byte, error)
}

// XChaCha implements Crypto with XChaCha20-Poly1305. A random 24-byte nonce
// is drawn for every payload, and the header and nonce are authenticated
// along with the caller's associated data.
type XChaCha struct {
	// Rand is the nonce source. If nil, crypto/rand is used.
	Rand io.Reader
}

// A compile time check to ensure XChaCha implements the Crypto interface.
var _ Crypto = (*XChaCha)(nil)

// SealSymmetric encrypts plaintext under key.
//
// NOTE: This is part of the Crypto interface.
func (x *XChaCha) SealSymmetric(key, aad,
	plaintext []byte) (*SealedData, error) {

	aead, err := newCipher(key)
	if err != nil {
		return nil, err
	}

	randSource := x.Rand
	if randSource == nil {
		randSource = rand.Reader
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(randSource, nonce); err != nil {
		return nil, fmt.Errorf("unable to read nonce: %w", err)
	}

	ad := associatedData(HeaderVersion, nonce, aad)

	return &SealedData{
		Header:     HeaderVersion,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, ad),
	}, nil
}

// UnsealSymmetric decrypts sealed under key.
//
// NOTE: This is part of the Crypto interface.
func (x *XChaCha) UnsealSymmetric(key, aad []byte,
	sealed *SealedData) ([]byte, error) {

	if sealed == nil || sealed.Header != HeaderVersion ||
		len(sealed.Nonce) != chacha20poly1305.NonceSizeX {

		return nil, ErrMalformedPayload
	}

	aead, err := newCipher(key)
	if err != nil {
		return nil, err
	}

	ad := associatedData(sealed.Header, sealed.Nonce, aad)
	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, ad)
	if err != nil {
		return nil, &DecryptError{Err: err}
	}

	return plaintext, nil
}

// GenerateKey returns a fresh random sealing key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	return key, nil
}

func newCipher(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	return chacha20poly1305.NewX(key)
}

func associatedData(header byte, nonce, aad []byte) []byte {
	ad := make([]byte, 0, 1+len(nonce)+len(aad))
	ad = append(ad, header)
	ad = append(ad, nonce...)

	return append(ad, aad...)
}
