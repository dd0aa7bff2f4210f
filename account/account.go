package account

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
)

var (
	// ErrHwProofMissing is returned when an operation that requires a
	// hardware proof of possession is invoked without one.
	ErrHwProofMissing = errors.New("hardware proof of possession required")

	// ErrHwProofExpired is returned when the supplied hardware proof of
	// possession is no longer valid. The caller must obtain a fresh
	// signature from the hardware.
	ErrHwProofExpired = errors.New("hardware proof of possession expired")
)

// ID identifies a wallet account with the remote trust service.
type ID string

// String returns the account id.
func (id ID) String() string {
	return string(id)
}

// Factor is one of the two signing factors of an account.
type Factor uint8

const (
	// FactorApp is the software key held by the mobile app.
	FactorApp Factor = iota

	// FactorHardware is the key held by the hardware device.
	FactorHardware
)

// String returns a human readable name for the factor.
func (f Factor) String() string {
	switch f {
	case FactorApp:
		return "app"
	case FactorHardware:
		return "hardware"
	default:
		return fmt.Sprintf("factor(%d)", uint8(f))
	}
}

// Environment is the trust service deployment an account lives in.
type Environment string

const (
	EnvironmentProduction  Environment = "Production"
	EnvironmentStaging     Environment = "Staging"
	EnvironmentDevelopment Environment = "Development"
	EnvironmentLocal       Environment = "Local"
)

// ParseEnvironment validates an environment name.
func ParseEnvironment(s string) (Environment, error) {
	switch env := Environment(s); env {
	case EnvironmentProduction, EnvironmentStaging,
		EnvironmentDevelopment, EnvironmentLocal:

		return env, nil
	}

	return "", fmt.Errorf("unknown environment: %q", s)
}

// Network is the bitcoin network an account's keysets are bound to.
type Network string

const (
	NetworkMainnet Network = "bitcoin"
	NetworkTestnet Network = "testnet"
	NetworkSignet  Network = "signet"
	NetworkRegtest Network = "regtest"
)

// ParseNetwork validates a network name.
func ParseNetwork(s string) (Network, error) {
	n := Network(s)
	if _, err := n.Params(); err != nil {
		return "", err
	}

	return n, nil
}

// Params returns the chain parameters of the network.
func (n Network) Params() (*chaincfg.Params, error) {
	switch n {
	case NetworkMainnet:
		return &chaincfg.MainNetParams, nil
	case NetworkTestnet:
		return &chaincfg.TestNet3Params, nil
	case NetworkSignet:
		return &chaincfg.SigNetParams, nil
	case NetworkRegtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network: %q", string(n))
	}
}

// Config is the static configuration an account was created with.
type Config struct {
	Network     Network
	Environment Environment
}

// AuthScope selects which auth key an access token is bound to.
type AuthScope string

const (
	// ScopeGlobal tokens are issued to the app's global auth key.
	ScopeGlobal AuthScope = "global"

	// ScopeRecovery tokens are issued to the app's recovery auth key.
	ScopeRecovery AuthScope = "recovery"
)

// AuthKeys are the authentication public keys registered with the trust
// service.
type AuthKeys struct {
	// App is the app's global auth key.
	App *btcec.PublicKey

	// Hardware is the hardware's auth key.
	Hardware *btcec.PublicKey

	// Recovery is the app's recovery auth key, used for the recovery
	// token scope.
	Recovery *btcec.PublicKey
}

// SpendingKeyset is a 2-of-3 set of spending keys recognised by the trust
// service.
type SpendingKeyset struct {
	ID       string
	Network  Network
	App      *btcec.PublicKey
	Hardware *btcec.PublicKey
	Server   *btcec.PublicKey
}

// Keybox is the full set of key material an account uses once recovery has
// completed.
type Keybox struct {
	AccountID    ID
	Config       Config
	AuthKeys     AuthKeys
	ActiveKeyset SpendingKeyset
}

// HwProofOfPossession is a short lived token proving the hardware factor was
// present when it was issued.
type HwProofOfPossession struct {
	// Token is the hardware signed access token presented to the trust
	// service.
	Token string

	// ExpiresAt is when the trust service stops accepting Token.
	ExpiresAt time.Time

	// AppAuthEndorsement is the hardware's signature over the app's
	// global auth key, used to certify the key to trusted contacts.
	AppAuthEndorsement []byte
}

// ValidateProof checks that the proof is present and not yet expired at the
// given time.
func ValidateProof(proof *HwProofOfPossession, now time.Time) error {
	switch {
	case proof == nil || proof.Token == "":
		return ErrHwProofMissing

	case !now.Before(proof.ExpiresAt):
		return fmt.Errorf("%w: expired at %v", ErrHwProofExpired,
			proof.ExpiresAt)
	}

	return nil
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	// NewID returns a fresh unique identifier.
	NewID() string
}

// UUIDGenerator is an IDGenerator backed by random (v4) UUIDs.
type UUIDGenerator struct{}

// NewID returns a fresh random UUID.
//
// NOTE: This is part of the IDGenerator interface.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// EncodePubKey returns the hex encoding of the compressed key.
func EncodePubKey(key *btcec.PublicKey) string {
	return hex.EncodeToString(key.SerializeCompressed())
}

// DecodePubKey parses a hex encoded compressed or uncompressed key.
func DecodePubKey(s string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}

	return btcec.ParsePubKey(b)
}

// ErrKeyNotFound is returned by a KeyStore that holds no private key for the
// requested public key.
var ErrKeyNotFound = errors.New("private key not found")

// KeyStore looks up app private keys by their public half. Platform
// keystores implement it; keys never leave it except for signing.
type KeyStore interface {
	PrivKey(pub *btcec.PublicKey) (*btcec.PrivateKey, error)
}

// MemoryKeyStore is a KeyStore backed by a map.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*btcec.PrivateKey
}

// NewMemoryKeyStore returns a MemoryKeyStore holding keys.
func NewMemoryKeyStore(keys ...*btcec.PrivateKey) *MemoryKeyStore {
	s := &MemoryKeyStore{keys: make(map[string]*btcec.PrivateKey)}
	for _, key := range keys {
		s.Add(key)
	}

	return s
}

// Add stores key.
func (s *MemoryKeyStore) Add(key *btcec.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[EncodePubKey(key.PubKey())] = key
}

// PrivKey returns the private key for pub.
//
// NOTE: This is part of the KeyStore interface.
func (s *MemoryKeyStore) PrivKey(pub *btcec.PublicKey) (*btcec.PrivateKey,
	error) {

	if pub == nil {
		return nil, ErrKeyNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[EncodePubKey(pub)]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound,
			EncodePubKey(pub))
	}

	return key, nil
}
