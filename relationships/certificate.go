package relationships

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/hardware"
)

// ErrInvalidCertificate is returned when a certificate does not verify.
var ErrInvalidCertificate = errors.New("invalid key certificate")

// KeyCertificate binds a trusted contact's identity key to the account's
// auth keys: the hardware endorses the app auth key, and the app auth key
// signs the contact's identity key.
type KeyCertificate struct {
	HwAuthKey  *btcec.PublicKey
	AppAuthKey *btcec.PublicKey

	// HwEndorsement is the hardware's signature over the compressed app
	// auth key.
	HwEndorsement []byte

	// AppSignature is the app auth key's DER signature over the sha256
	// of the compressed identity key.
	AppSignature []byte
}

// Certify issues a certificate for identityKey.
func Certify(identityKey *btcec.PublicKey, appAuthKey *btcec.PrivateKey,
	hwAuthKey *btcec.PublicKey, hwEndorsement []byte) (*KeyCertificate,
	error) {

	err := hardware.VerifyChallenge(
		hwAuthKey, appAuthKey.PubKey().SerializeCompressed(),
		hwEndorsement,
	)
	if err != nil {
		return nil, fmt.Errorf("hardware endorsement: %w", err)
	}

	sig := ecdsa.Sign(
		appAuthKey, chainhash.HashB(identityKey.SerializeCompressed()),
	)

	return &KeyCertificate{
		HwAuthKey:     hwAuthKey,
		AppAuthKey:    appAuthKey.PubKey(),
		HwEndorsement: hwEndorsement,
		AppSignature:  sig.Serialize(),
	}, nil
}

// Verify checks both signatures of the certificate for identityKey.
func (c *KeyCertificate) Verify(identityKey *btcec.PublicKey) error {
	err := hardware.VerifyChallenge(
		c.HwAuthKey, c.AppAuthKey.SerializeCompressed(),
		c.HwEndorsement,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	sig, err := ecdsa.ParseDERSignature(c.AppSignature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	digest := chainhash.HashB(identityKey.SerializeCompressed())
	if !sig.Verify(digest, c.AppAuthKey) {
		return fmt.Errorf("%w: app signature", ErrInvalidCertificate)
	}

	return nil
}

// IssuedUnder reports whether the certificate names the given auth keys.
func (c *KeyCertificate) IssuedUnder(keys account.AuthKeys) bool {
	return keys.App != nil && keys.Hardware != nil &&
		c.AppAuthKey.IsEqual(keys.App) &&
		c.HwAuthKey.IsEqual(keys.Hardware)
}

// Encode serializes the certificate as a TLV stream.
func (c *KeyCertificate) Encode() ([]byte, error) {
	hwKey := tlv.NewPrimitiveRecord[tlv.TlvType0](c.HwAuthKey)
	appKey := tlv.NewPrimitiveRecord[tlv.TlvType1](c.AppAuthKey)
	endorsement := tlv.NewPrimitiveRecord[tlv.TlvType2](c.HwEndorsement)
	sig := tlv.NewPrimitiveRecord[tlv.TlvType3](c.AppSignature)

	stream, err := tlv.NewStream(
		hwKey.Record(), appKey.Record(), endorsement.Record(),
		sig.Record(),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeCertificate parses a certificate produced by Encode.
func DecodeCertificate(b []byte) (*KeyCertificate, error) {
	hwKey := tlv.ZeroRecordT[tlv.TlvType0, *btcec.PublicKey]()
	appKey := tlv.ZeroRecordT[tlv.TlvType1, *btcec.PublicKey]()
	endorsement := tlv.ZeroRecordT[tlv.TlvType2, []byte]()
	sig := tlv.ZeroRecordT[tlv.TlvType3, []byte]()

	stream, err := tlv.NewStream(
		hwKey.Record(), appKey.Record(), endorsement.Record(),
		sig.Record(),
	)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	for _, typ := range []tlv.Type{0, 1, 2, 3} {
		if _, ok := parsed[typ]; !ok {
			return nil, fmt.Errorf("%w: missing record %d",
				ErrInvalidCertificate, typ)
		}
	}

	return &KeyCertificate{
		HwAuthKey:     hwKey.Val,
		AppAuthKey:    appKey.Val,
		HwEndorsement: endorsement.Val,
		AppSignature:  sig.Val,
	}, nil
}
