package cloudstore

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// Account identifies the user's personal cloud storage account. It is
// distinct from the wallet account id: one cloud account may hold backups
// for several wallets.
type Account struct {
	ID string
}

// String returns the cloud account id.
func (a Account) String() string {
	return a.ID
}

// Store is a per-account key-value store hosted by the user's cloud storage
// provider. Other devices may write to it concurrently.
type Store interface {
	// Get returns the value stored under key, or None if there is none.
	Get(ctx context.Context, acct Account, key string) (
		fn.Option[string], error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, acct Account, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, acct Account, key string) error

	// ListKeys returns every key stored for the account.
	ListKeys(ctx context.Context, acct Account) ([]string, error)
}

// Op names a store operation for error reporting.
type Op string

const (
	OpGet      Op = "get"
	OpSet      Op = "set"
	OpRemove   Op = "remove"
	OpListKeys Op = "list"
)

// RectificationKind describes what the user has to do before a failed
// operation can succeed.
type RectificationKind uint8

const (
	// RectifyPermission means the app lost access to the storage
	// provider and the user must grant it again.
	RectifyPermission RectificationKind = iota

	// RectifyQuota means the storage quota is exhausted and the user
	// must free space.
	RectifyQuota

	// RectifySignIn means the user is signed out of the provider.
	RectifySignIn
)

// String returns the name of the rectification kind.
func (k RectificationKind) String() string {
	switch k {
	case RectifyPermission:
		return "permission"
	case RectifyQuota:
		return "quota"
	case RectifySignIn:
		return "sign-in"
	default:
		return "unknown"
	}
}

// Rectification is the out-of-band data the user needs to fix a storage
// failure, such as the URL or intent that regrants access.
type Rectification struct {
	Kind RectificationKind

	// Target is the provider specific URL or intent to follow, if any.
	Target string
}

// CloudError is returned by every Store implementation for provider
// failures.
type CloudError struct {
	Op  Op
	Key string
	Err error

	// Rectification is set when the user can act to fix the failure.
	Rectification fn.Option[Rectification]
}

// Error returns a description of the failed operation.
func (e *CloudError) Error() string {
	return fmt.Sprintf("cloud store %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the provider error.
func (e *CloudError) Unwrap() error {
	return e.Err
}
