package hardware

import (
	"bytes"
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/recoverykit/sealer"
	"github.com/stretchr/testify/require"
)

func newTestEmulator(t *testing.T) *Emulator {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return NewEmulator(priv)
}

// TestEmulatorSignChallenge checks that emulated signatures verify only
// against the signed challenge and key.
func TestEmulatorSignChallenge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hw := newTestEmulator(t)
	challenge := []byte("complete-recovery")

	sig, err := hw.SignChallenge(ctx, challenge)
	require.NoError(t, err)
	require.NoError(t, VerifyChallenge(hw.PubKey(), challenge, sig))

	require.ErrorIs(
		t, VerifyChallenge(hw.PubKey(), []byte("other"), sig),
		ErrInvalidSignature,
	)

	other := newTestEmulator(t)
	require.ErrorIs(
		t, VerifyChallenge(other.PubKey(), challenge, sig),
		ErrInvalidSignature,
	)

	require.ErrorIs(
		t, VerifyChallenge(hw.PubKey(), challenge, []byte{1, 2}),
		ErrInvalidSignature,
	)
}

// TestEmulatorSealKey checks that sealed keys only open on the device that
// sealed them.
func TestEmulatorSealKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hw := newTestEmulator(t)
	raw := bytes.Repeat([]byte{7}, sealer.KeySize)

	sealed, err := hw.SealKey(ctx, raw)
	require.NoError(t, err)
	require.NotContains(t, string(sealed), string(raw))

	opened, err := hw.UnsealKey(ctx, sealed)
	require.NoError(t, err)
	require.Equal(t, raw, opened)

	_, err = newTestEmulator(t).UnsealKey(ctx, sealed)
	var decryptErr *sealer.DecryptError
	require.ErrorAs(t, err, &decryptErr)
}

// TestEmulatorContext checks that a cancelled context aborts the call.
func TestEmulatorContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEmulator(t).SignChallenge(ctx, []byte("x"))
	require.ErrorIs(t, err, context.Canceled)
}
