package relationships

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/recoverykit/account"
)

// AuthState is how far a trusted contact's identity key has been verified.
type AuthState uint8

const (
	// AwaitingVerify contacts accepted an invitation but their identity
	// key has not been confirmed out of band yet.
	AwaitingVerify AuthState = iota

	// Verified contacts have a confirmed identity key.
	Verified

	// Tampered contacts presented a certificate that did not verify
	// against the account's keys.
	Tampered
)

// String returns the name of the state.
func (s AuthState) String() string {
	switch s {
	case AwaitingVerify:
		return "awaiting-verify"
	case Verified:
		return "verified"
	case Tampered:
		return "tampered"
	default:
		return fmt.Sprintf("auth-state(%d)", uint8(s))
	}
}

// Invitation is an outstanding social recovery invite.
type Invitation struct {
	RelationshipID string
	Alias          string

	// Code is the invite code to hand to the contact.
	Code string

	ExpiresAt time.Time
}

// Expired reports whether the invitation can no longer be accepted.
func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// TrustedContact is a contact helping this account recover.
type TrustedContact struct {
	RelationshipID string
	Alias          string
	AuthState      AuthState
	IdentityKey    *btcec.PublicKey

	// Certificate is the account's endorsement of IdentityKey, if any.
	Certificate *KeyCertificate
}

// ProtectedCustomer is an account this wallet helps recover.
type ProtectedCustomer struct {
	RelationshipID string
	Alias          string
}

// Relationships is a snapshot of the account's social recovery state.
type Relationships struct {
	Invitations        []Invitation
	EndorsedContacts   []TrustedContact
	UnendorsedContacts []TrustedContact
	ProtectedCustomers []ProtectedCustomer
}

// Endorsement is a new certificate for a contact's identity key.
type Endorsement struct {
	RelationshipID string
	Certificate    *KeyCertificate
}

// Syncer talks to the trust service's relationship endpoints.
type Syncer interface {
	// SyncAndVerifyRelationships fetches the account's relationships
	// and verifies every endorsed contact's certificate. A contact is
	// reported as Tampered unless its certificate verifies for its
	// identity key and was issued under one of the trusted key sets.
	SyncAndVerifyRelationships(ctx context.Context, id account.ID,
		trusted []account.AuthKeys) (*Relationships, error)

	// EndorseTrustedContacts uploads new certificates.
	EndorseTrustedContacts(ctx context.Context, id account.ID,
		endorsements []Endorsement) error
}

// Authentic reports whether the contact's certificate verifies for its
// identity key and was issued under one of trusted.
func Authentic(contact *TrustedContact, trusted []account.AuthKeys) bool {
	cert := contact.Certificate
	if cert == nil || cert.Verify(contact.IdentityKey) != nil {
		return false
	}

	for _, keys := range trusted {
		if cert.IssuedUnder(keys) {
			return true
		}
	}

	return false
}

// NeedsRecertification returns the verified contacts whose certificate was
// not issued under keys. Contacts that are tampered or still awaiting
// verification are never recertified.
func NeedsRecertification(contacts []TrustedContact,
	keys account.AuthKeys) []TrustedContact {

	var stale []TrustedContact
	for _, contact := range contacts {
		if contact.AuthState != Verified {
			continue
		}

		cert := contact.Certificate
		if cert == nil || !cert.IssuedUnder(keys) {
			stale = append(stale, contact)
		}
	}

	return stale
}
