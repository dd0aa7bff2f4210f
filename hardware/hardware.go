package hardware

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/recoverykit/sealer"
)

// ErrInvalidSignature is returned when a hardware signature does not verify.
var ErrInvalidSignature = errors.New("invalid hardware signature")

// sealAAD binds sealed keys to their purpose.
var sealAAD = []byte("hardware-sealed-key")

// Factor is the hardware signing factor. Every call may require the user to
// present the device, so all of them block and honour ctx.
type Factor interface {
	// SignChallenge signs the sha256 digest of challenge with the
	// hardware auth key and returns a DER signature.
	SignChallenge(ctx context.Context, challenge []byte) ([]byte, error)

	// SealKey wraps rawKey with a key that never leaves the hardware.
	SealKey(ctx context.Context, rawKey []byte) ([]byte, error)

	// UnsealKey reverses SealKey.
	UnsealKey(ctx context.Context, sealed []byte) ([]byte, error)
}

// VerifyChallenge checks a signature produced by SignChallenge.
func VerifyChallenge(pub *btcec.PublicKey, challenge, sig []byte) error {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if !parsed.Verify(chainhash.HashB(challenge), pub) {
		return ErrInvalidSignature
	}

	return nil
}

// Emulator is a software Factor backed by an in-memory private key. It is
// used by tests and by the command line tool in place of a real device.
type Emulator struct {
	privKey *btcec.PrivateKey
	crypto  sealer.Crypto
}

// A compile time check to ensure Emulator implements the Factor interface.
var _ Factor = (*Emulator)(nil)

// NewEmulator creates an emulated hardware factor from a private key.
func NewEmulator(privKey *btcec.PrivateKey) *Emulator {
	return &Emulator{
		privKey: privKey,
		crypto:  &sealer.XChaCha{},
	}
}

// PubKey returns the emulated hardware auth key.
func (e *Emulator) PubKey() *btcec.PublicKey {
	return e.privKey.PubKey()
}

// SignChallenge signs challenge with the emulated auth key.
//
// NOTE: This is part of the Factor interface.
func (e *Emulator) SignChallenge(ctx context.Context,
	challenge []byte) ([]byte, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sig := ecdsa.Sign(e.privKey, chainhash.HashB(challenge))

	return sig.Serialize(), nil
}

// SealKey wraps rawKey with a key derived from the emulated device secret.
//
// NOTE: This is part of the Factor interface.
func (e *Emulator) SealKey(ctx context.Context, rawKey []byte) ([]byte,
	error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sealed, err := e.crypto.SealSymmetric(e.wrappingKey(), sealAAD, rawKey)
	if err != nil {
		return nil, err
	}

	return sealed.Bytes(), nil
}

// UnsealKey unwraps a key sealed by this device.
//
// NOTE: This is part of the Factor interface.
func (e *Emulator) UnsealKey(ctx context.Context, sealed []byte) ([]byte,
	error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := sealer.ParseSealedData(sealed)
	if err != nil {
		return nil, err
	}

	return e.crypto.UnsealSymmetric(e.wrappingKey(), sealAAD, data)
}

// wrappingKey derives the sealing key. It is recomputed on use so it is
// never stored.
func (e *Emulator) wrappingKey() []byte {
	h := sha256.New()
	h.Write(e.privKey.Serialize())
	h.Write(sealAAD)

	return h.Sum(nil)
}
