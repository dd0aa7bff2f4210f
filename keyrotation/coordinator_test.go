package keyrotation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/mocks"
	"github.com/lightningnetwork/recoverykit/trustsvc"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testNow   = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	testCfg   = account.Config{Network: account.NetworkRegtest}
	testID    = account.ID("acct-1")
	errRemote = errors.New("remote failure")
)

func newKey(t *testing.T) *btcec.PrivateKey {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return key
}

func validProof() *account.HwProofOfPossession {
	return &account.HwProofOfPossession{
		Token:     "hw",
		ExpiresAt: testNow.Add(time.Minute),
	}
}

func newTestCoordinator() (*Coordinator, *mocks.MockTrustService) {
	service := &mocks.MockTrustService{}

	return New(&Config{
		Service: service,
		Clock:   clock.NewTestClock(testNow),
	}), service
}

// TestRotateSpendingKey checks create then activate.
func TestRotateSpendingKey(t *testing.T) {
	t.Parallel()

	c, service := newTestCoordinator()
	defer service.AssertExpectations(t)

	appAuth := newKey(t)
	appSpend := newKey(t).PubKey()
	hwSpend := newKey(t).PubKey()
	proof := validProof()
	keyset := &account.SpendingKeyset{ID: "ks-1"}

	service.On("AppAuth", mock.Anything, testID, appAuth,
		account.ScopeGlobal).Return(&trustsvc.Tokens{}, nil).Once()
	service.On("CreateSpendingKeyset", mock.Anything, testID,
		account.NetworkRegtest, appSpend, hwSpend, proof).Return(
		keyset, nil).Once()
	service.On("ActivateSpendingKeyset", mock.Anything, testID, "ks-1",
		proof).Return(nil).Once()

	got, err := c.RotateSpendingKey(
		context.Background(), testCfg, testID, appAuth, proof,
		appSpend, hwSpend,
	)
	require.NoError(t, err)
	require.Equal(t, keyset, got)
	require.Equal(t, []string{
		"AppAuth", "CreateSpendingKeyset", "ActivateSpendingKeyset",
	}, service.CallOrder())
}

// TestRotateSpendingKeyAbandonsOnActivateFailure checks that a failed
// activation returns an error and a retry creates a fresh keyset.
func TestRotateSpendingKeyAbandonsOnActivateFailure(t *testing.T) {
	t.Parallel()

	c, service := newTestCoordinator()
	defer service.AssertExpectations(t)

	proof := validProof()
	service.On("AppAuth", mock.Anything, testID, mock.Anything,
		account.ScopeGlobal).Return(&trustsvc.Tokens{}, nil).Twice()
	service.On("CreateSpendingKeyset", mock.Anything, testID,
		mock.Anything, mock.Anything, mock.Anything, proof).Return(
		&account.SpendingKeyset{ID: "ks-1"}, nil).Once()
	service.On("CreateSpendingKeyset", mock.Anything, testID,
		mock.Anything, mock.Anything, mock.Anything, proof).Return(
		&account.SpendingKeyset{ID: "ks-2"}, nil).Once()
	service.On("ActivateSpendingKeyset", mock.Anything, testID, "ks-1",
		proof).Return(errRemote).Once()
	service.On("ActivateSpendingKeyset", mock.Anything, testID, "ks-2",
		proof).Return(nil).Once()

	rotate := func() (*account.SpendingKeyset, error) {
		return c.RotateSpendingKey(
			context.Background(), testCfg, testID, newKey(t),
			proof, newKey(t).PubKey(), newKey(t).PubKey(),
		)
	}

	_, err := rotate()
	require.ErrorIs(t, err, errRemote)

	keyset, err := rotate()
	require.NoError(t, err)
	require.Equal(t, "ks-2", keyset.ID)
}

// TestRotateSpendingKeyProof checks that a missing or expired proof fails
// before any remote call.
func TestRotateSpendingKeyProof(t *testing.T) {
	t.Parallel()

	c, service := newTestCoordinator()

	expired := validProof()
	expired.ExpiresAt = testNow

	for _, tc := range []struct {
		proof *account.HwProofOfPossession
		err   error
	}{
		{proof: nil, err: account.ErrHwProofMissing},
		{proof: &account.HwProofOfPossession{}, err: account.ErrHwProofMissing},
		{proof: expired, err: account.ErrHwProofExpired},
	} {
		_, err := c.RotateSpendingKey(
			context.Background(), testCfg, testID, newKey(t),
			tc.proof, newKey(t).PubKey(), newKey(t).PubKey(),
		)
		require.ErrorIs(t, err, tc.err)
	}

	require.Empty(t, service.Calls)
}

// TestRotateAuthKeys checks the authenticate, rotate, authenticate order.
func TestRotateAuthKeys(t *testing.T) {
	t.Parallel()

	c, service := newTestCoordinator()
	defer service.AssertExpectations(t)

	req := &AuthRotation{
		Challenge:          []byte("challenge"),
		HwSignature:        []byte("sig"),
		NewAppAuthKey:      newKey(t),
		NewRecoveryAuthKey: newKey(t),
		SealedCsek:         []byte("sealed"),
	}

	service.On("AppAuth", mock.Anything, testID, req.NewAppAuthKey,
		account.ScopeGlobal).Return(&trustsvc.Tokens{}, nil).Once()
	service.On("RotateAuthKeys", mock.Anything, testID,
		mock.MatchedBy(func(r *trustsvc.RotateAuthKeysRequest) bool {
			return r.NewAppAuthKey.IsEqual(
				req.NewAppAuthKey.PubKey(),
			) && string(r.SealedCsek) == "sealed"
		})).Return(nil).Once()
	service.On("AppAuth", mock.Anything, testID, req.NewRecoveryAuthKey,
		account.ScopeRecovery).Return(&trustsvc.Tokens{}, nil).Once()

	require.NoError(t, c.RotateAuthKeys(context.Background(), testID, req))
	require.Equal(t, []string{"AppAuth", "RotateAuthKeys", "AppAuth"},
		service.CallOrder())
}

// TestRotateAuthKeysCancelledElsewhere checks that an auth rejection maps
// to ErrRecoveryNoLongerActive and nothing is rotated.
func TestRotateAuthKeysCancelledElsewhere(t *testing.T) {
	t.Parallel()

	c, service := newTestCoordinator()
	defer service.AssertExpectations(t)

	service.On("AppAuth", mock.Anything, testID, mock.Anything,
		account.ScopeGlobal).Return(nil, &trustsvc.AuthProtocolError{
		Op:     "auth challenge",
		Status: 401,
	}).Once()

	err := c.RotateAuthKeys(context.Background(), testID, &AuthRotation{
		NewAppAuthKey:      newKey(t),
		NewRecoveryAuthKey: newKey(t),
	})
	require.ErrorIs(t, err, ErrRecoveryNoLongerActive)
	service.AssertNotCalled(t, "RotateAuthKeys")

	// Transient failures are not mistaken for a cancellation.
	service.On("AppAuth", mock.Anything, testID, mock.Anything,
		account.ScopeGlobal).Return(nil, &trustsvc.NetworkError{
		Op:  "auth challenge",
		Err: errRemote,
	}).Once()

	err = c.RotateAuthKeys(context.Background(), testID, &AuthRotation{
		NewAppAuthKey:      newKey(t),
		NewRecoveryAuthKey: newKey(t),
	})
	require.NotErrorIs(t, err, ErrRecoveryNoLongerActive)
	require.True(t, trustsvc.IsTransient(err))
}

// TestRotateSpendingKeyReadsClock checks that proof expiry is judged by the
// configured clock at call time.
func TestRotateSpendingKeyReadsClock(t *testing.T) {
	t.Parallel()

	clk := &mocks.MockClock{}
	service := &mocks.MockTrustService{}
	c := New(&Config{Service: service, Clock: clk})

	proof := validProof()
	clk.On("Now").Return(proof.ExpiresAt.Add(time.Second)).Once()

	_, err := c.RotateSpendingKey(
		context.Background(), testCfg, testID, newKey(t), proof,
		newKey(t).PubKey(), newKey(t).PubKey(),
	)
	require.ErrorIs(t, err, account.ErrHwProofExpired)

	clk.AssertExpectations(t)
	require.Empty(t, service.Calls)
}
