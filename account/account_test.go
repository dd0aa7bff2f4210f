package account

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// TestValidateProof checks the presence and expiry rules of hardware proofs.
func TestValidateProof(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)

	require.ErrorIs(t, ValidateProof(nil, now), ErrHwProofMissing)
	require.ErrorIs(
		t, ValidateProof(&HwProofOfPossession{}, now), ErrHwProofMissing,
	)

	proof := &HwProofOfPossession{
		Token:     "hw-token",
		ExpiresAt: now.Add(time.Minute),
	}
	require.NoError(t, ValidateProof(proof, now))
	require.ErrorIs(
		t, ValidateProof(proof, now.Add(time.Minute)), ErrHwProofExpired,
	)
}

// TestNetworkParams checks the mapping onto chain parameters.
func TestNetworkParams(t *testing.T) {
	t.Parallel()

	params, err := NetworkSignet.Params()
	require.NoError(t, err)
	require.Equal(t, chaincfg.SigNetParams.Name, params.Name)

	_, err = ParseNetwork("litecoin")
	require.Error(t, err)

	n, err := ParseNetwork("regtest")
	require.NoError(t, err)
	require.Equal(t, NetworkRegtest, n)

	_, err = ParseEnvironment("Moon")
	require.Error(t, err)
}

// TestPubKeyEncoding checks hex encoding of public keys.
func TestPubKeyEncoding(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	decoded, err := DecodePubKey(EncodePubKey(priv.PubKey()))
	require.NoError(t, err)
	require.True(t, decoded.IsEqual(priv.PubKey()))

	_, err = DecodePubKey("zz")
	require.Error(t, err)
}

// TestUUIDGenerator checks that generated ids are unique.
func TestUUIDGenerator(t *testing.T) {
	t.Parallel()

	var gen UUIDGenerator
	require.NotEqual(t, gen.NewID(), gen.NewID())
}

// TestMemoryKeyStore checks lookups by public key.
func TestMemoryKeyStore(t *testing.T) {
	t.Parallel()

	known, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	unknown, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	store := NewMemoryKeyStore(known)

	got, err := store.PrivKey(known.PubKey())
	require.NoError(t, err)
	require.Equal(t, known.Serialize(), got.Serialize())

	_, err = store.PrivKey(unknown.PubKey())
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = store.PrivKey(nil)
	require.ErrorIs(t, err, ErrKeyNotFound)

	store.Add(unknown)
	_, err = store.PrivKey(unknown.PubKey())
	require.NoError(t, err)
}
