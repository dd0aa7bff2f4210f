package cloudbackup

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/sealer"
)

// Version is the format version tag of a Backup.
type Version uint8

const (
	// VersionV2 backups carry the trusted contact identity keys without
	// their certificates.
	VersionV2 Version = 2

	// VersionV3 backups add the recovery auth key and endorsed trusted
	// contacts with their key certificates.
	VersionV3 Version = 3

	// LatestVersion is the version written by this release.
	LatestVersion = VersionV3
)

// Backup is a versioned cloud backup. The concrete types are *BackupV2 and
// *BackupV3; type switches over Backup must handle both.
type Backup interface {
	// Version returns the format version of the backup.
	Version() Version

	// Account returns the id of the backed up account.
	Account() account.ID

	// Sealed returns the key material shared by every version.
	Sealed() *SealedKeys

	sealedBackup()
}

// SealedKeys is the encrypted key material common to every backup version.
type SealedKeys struct {
	// SealedCsek is the backup's content encryption key wrapped by the
	// hardware factor.
	SealedCsek []byte

	// AccountKeys is the full-account key bundle sealed under the CSEK.
	AccountKeys *sealer.SealedData
}

// BackupV2 is the second backup format.
type BackupV2 struct {
	AccountID account.ID
	Config    account.Config
	HwAuthKey *btcec.PublicKey
	Keys      SealedKeys

	// TrustedContactKeys are the identity keys of the account's trusted
	// contacts at backup time.
	TrustedContactKeys []*btcec.PublicKey
}

// Version returns VersionV2.
func (b *BackupV2) Version() Version { return VersionV2 }

// Account returns the id of the backed up account.
func (b *BackupV2) Account() account.ID { return b.AccountID }

// Sealed returns the sealed key material.
func (b *BackupV2) Sealed() *SealedKeys { return &b.Keys }

func (b *BackupV2) sealedBackup() {}

// EndorsedContact is a trusted contact together with the certificate the
// account issued for its identity key.
type EndorsedContact struct {
	RelationshipID string
	Alias          string
	IdentityKey    *btcec.PublicKey
	Certificate    []byte
}

// BackupV3 is the third, current, backup format.
type BackupV3 struct {
	AccountID       account.ID
	Config          account.Config
	HwAuthKey       *btcec.PublicKey
	RecoveryAuthKey *btcec.PublicKey
	Keys            SealedKeys

	// EndorsedContacts are the trusted contacts whose identity keys were
	// certified by the account's current auth keys.
	EndorsedContacts []EndorsedContact

	// CreatedAt is when the backup was produced.
	CreatedAt time.Time
}

// Version returns VersionV3.
func (b *BackupV3) Version() Version { return VersionV3 }

// Account returns the id of the backed up account.
func (b *BackupV3) Account() account.ID { return b.AccountID }

// Sealed returns the sealed key material.
func (b *BackupV3) Sealed() *SealedKeys { return &b.Keys }

func (b *BackupV3) sealedBackup() {}

// AccountKeys is the plaintext key material sealed inside every backup.
type AccountKeys struct {
	AppAuthKey         *btcec.PrivateKey
	AppRecoveryAuthKey *btcec.PrivateKey
	AppSpendingKey     *btcec.PrivateKey
	HwSpendingKey      *btcec.PublicKey
	ServerSpendingKey  *btcec.PublicKey
	KeysetID           string
}
