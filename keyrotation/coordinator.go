package keyrotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/trustsvc"
)

// ErrRecoveryNoLongerActive is returned when the trust service refuses to
// authenticate the recovering keys, which means the recovery was cancelled
// by the other factor or superseded.
var ErrRecoveryNoLongerActive = errors.New("recovery no longer active")

// TrustService is the subset of the trust service used for key rotation.
type TrustService interface {
	AppAuth(ctx context.Context, id account.ID, key *btcec.PrivateKey,
		scope account.AuthScope) (*trustsvc.Tokens, error)

	RotateAuthKeys(ctx context.Context, id account.ID,
		req *trustsvc.RotateAuthKeysRequest) error

	CreateSpendingKeyset(ctx context.Context, id account.ID,
		network account.Network, appKey, hwKey *btcec.PublicKey,
		proof *account.HwProofOfPossession) (*account.SpendingKeyset,
		error)

	ActivateSpendingKeyset(ctx context.Context, id account.ID,
		keysetID string, proof *account.HwProofOfPossession) error
}

// Config holds the collaborators of a Coordinator.
type Config struct {
	Service TrustService

	// Clock is used to check hardware proof expiry.
	Clock clock.Clock
}

// Coordinator rotates auth and spending keys with the trust service.
type Coordinator struct {
	cfg *Config
}

// New creates a key rotation coordinator.
func New(cfg *Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// AuthRotation is a request to replace the account's auth keys.
type AuthRotation struct {
	// Challenge and HwSignature authorise the rotation.
	Challenge   []byte
	HwSignature []byte

	NewAppAuthKey      *btcec.PrivateKey
	NewRecoveryAuthKey *btcec.PrivateKey

	// SealedCsek is registered with the service so a later restore can
	// have the hardware unseal it.
	SealedCsek []byte
}

// RotateAuthKeys first authenticates with the new app auth key, which fails
// if the recovery was cancelled server side, then rotates the auth keys and
// opens a recovery scoped session with the new recovery key.
func (c *Coordinator) RotateAuthKeys(ctx context.Context, id account.ID,
	req *AuthRotation) error {

	_, err := c.cfg.Service.AppAuth(
		ctx, id, req.NewAppAuthKey, account.ScopeGlobal,
	)
	if err := noLongerActive(err); err != nil {
		return err
	}

	err = c.cfg.Service.RotateAuthKeys(ctx, id,
		&trustsvc.RotateAuthKeysRequest{
			Challenge:          req.Challenge,
			HwSignature:        req.HwSignature,
			NewAppAuthKey:      req.NewAppAuthKey.PubKey(),
			NewRecoveryAuthKey: req.NewRecoveryAuthKey.PubKey(),
			SealedCsek:         req.SealedCsek,
		},
	)
	if err != nil {
		return fmt.Errorf("unable to rotate auth keys: %w", err)
	}

	_, err = c.cfg.Service.AppAuth(
		ctx, id, req.NewRecoveryAuthKey, account.ScopeRecovery,
	)
	if err := noLongerActive(err); err != nil {
		return err
	}

	log.Infof("Rotated auth keys of account %v", id)

	return nil
}

// RotateSpendingKey creates a new keyset for the given app and hardware
// spending keys and activates it. If activation fails the created keyset is
// abandoned; a retry creates a fresh one. The hardware proof must be valid
// for both calls.
func (c *Coordinator) RotateSpendingKey(ctx context.Context,
	cfg account.Config, id account.ID, appAuthKey *btcec.PrivateKey,
	proof *account.HwProofOfPossession, appSpendingKey,
	hwSpendingKey *btcec.PublicKey) (*account.SpendingKeyset, error) {

	if err := account.ValidateProof(proof, c.cfg.Clock.Now()); err != nil {
		return nil, err
	}

	_, err := c.cfg.Service.AppAuth(
		ctx, id, appAuthKey, account.ScopeGlobal,
	)
	if err := noLongerActive(err); err != nil {
		return nil, err
	}

	keyset, err := c.cfg.Service.CreateSpendingKeyset(
		ctx, id, cfg.Network, appSpendingKey, hwSpendingKey, proof,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create keyset: %w", err)
	}

	err = c.cfg.Service.ActivateSpendingKeyset(ctx, id, keyset.ID, proof)
	if err != nil {
		log.Warnf("Abandoning inactive keyset %v of account %v",
			keyset.ID, id)

		return nil, fmt.Errorf("unable to activate keyset %v: %w",
			keyset.ID, err)
	}

	log.Infof("Activated keyset %v for account %v", keyset.ID, id)

	return keyset, nil
}

// noLongerActive maps an authentication rejection to
// ErrRecoveryNoLongerActive.
func noLongerActive(err error) error {
	var authErr *trustsvc.AuthProtocolError
	if errors.As(err, &authErr) {
		return fmt.Errorf("%w: %v", ErrRecoveryNoLongerActive, err)
	}
	if err != nil {
		return fmt.Errorf("unable to authenticate: %w", err)
	}

	return nil
}
