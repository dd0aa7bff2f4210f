package mocks

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/trustsvc"
	"github.com/stretchr/testify/mock"
)

// MockTrustService mocks every trust service operation of trustsvc.Client.
type MockTrustService struct {
	mock.Mock
}

func (m *MockTrustService) AppAuth(ctx context.Context, id account.ID,
	key *btcec.PrivateKey, scope account.AuthScope) (*trustsvc.Tokens,
	error) {

	args := m.Called(ctx, id, key, scope)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*trustsvc.Tokens), args.Error(1)
}

func (m *MockTrustService) RefreshAccessToken(ctx context.Context,
	id account.ID, scope account.AuthScope) error {

	args := m.Called(ctx, id, scope)

	return args.Error(0)
}

func (m *MockTrustService) GetActiveRecovery(ctx context.Context,
	id account.ID) (fn.Option[trustsvc.ActiveRecovery], error) {

	args := m.Called(ctx, id)

	return args.Get(0).(fn.Option[trustsvc.ActiveRecovery]), args.Error(1)
}

func (m *MockTrustService) RotateAuthKeys(ctx context.Context, id account.ID,
	req *trustsvc.RotateAuthKeysRequest) error {

	args := m.Called(ctx, id, req)

	return args.Error(0)
}

func (m *MockTrustService) CreateSpendingKeyset(ctx context.Context,
	id account.ID, network account.Network, appKey,
	hwKey *btcec.PublicKey,
	proof *account.HwProofOfPossession) (*account.SpendingKeyset, error) {

	args := m.Called(ctx, id, network, appKey, hwKey, proof)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*account.SpendingKeyset), args.Error(1)
}

func (m *MockTrustService) ActivateSpendingKeyset(ctx context.Context,
	id account.ID, keysetID string,
	proof *account.HwProofOfPossession) error {

	args := m.Called(ctx, id, keysetID, proof)

	return args.Error(0)
}

func (m *MockTrustService) CancelRecovery(ctx context.Context, id account.ID,
	proof fn.Option[account.HwProofOfPossession]) (trustsvc.CancelOutcome,
	error) {

	args := m.Called(ctx, id, proof)

	return args.Get(0).(trustsvc.CancelOutcome), args.Error(1)
}

func (m *MockTrustService) RegisterDeviceToken(ctx context.Context,
	id account.ID, token string, platform trustsvc.DevicePlatform) error {

	args := m.Called(ctx, id, token, platform)

	return args.Error(0)
}

// CallOrder returns the names of the methods called so far, in order. It
// must not race with calls on the mock.
func (m *MockTrustService) CallOrder() []string {
	names := make([]string, 0, len(m.Calls))
	for _, call := range m.Calls {
		names = append(names, call.Method)
	}

	return names
}
