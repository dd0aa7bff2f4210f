package cloudbackup

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/csek"
	"github.com/lightningnetwork/recoverykit/sealer"
)

// CodecError is returned when a backup or its sealed key bundle is not well
// formed for the version being decoded.
type CodecError struct {
	Version Version
	Err     error
}

// Error returns the decoding failure.
func (e *CodecError) Error() string {
	return fmt.Sprintf("invalid v%d backup: %v", e.Version, e.Err)
}

// Unwrap returns the underlying error.
func (e *CodecError) Unwrap() error {
	return e.Err
}

// UnknownFormatError is returned when no supported version decodes a
// backup. Err is the error of the last version attempted.
type UnknownFormatError struct {
	Err error
}

// Error returns the decoding failure.
func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown backup format: %v", e.Err)
}

// Unwrap returns the last decoding error.
func (e *UnknownFormatError) Unwrap() error {
	return e.Err
}

type backupV2JSON struct {
	Version            Version  `json:"version"`
	AccountID          string   `json:"account_id"`
	Network            string   `json:"network"`
	Environment        string   `json:"environment"`
	HwAuthKey          string   `json:"hw_auth_key"`
	SealedCsek         []byte   `json:"sealed_csek"`
	SealedAccountKeys  []byte   `json:"sealed_account_keys"`
	TrustedContactKeys []string `json:"trusted_contact_identity_keys"`
}

type endorsedContactJSON struct {
	RelationshipID string `json:"relationship_id"`
	Alias          string `json:"alias"`
	IdentityKey    string `json:"identity_key"`
	Certificate    []byte `json:"certificate"`
}

type backupV3JSON struct {
	Version           Version               `json:"version"`
	AccountID         string                `json:"account_id"`
	Network           string                `json:"network"`
	Environment       string                `json:"environment"`
	HwAuthKey         string                `json:"hw_auth_key"`
	RecoveryAuthKey   string                `json:"recovery_auth_key"`
	SealedCsek        []byte                `json:"sealed_csek"`
	SealedAccountKeys []byte                `json:"sealed_account_keys"`
	EndorsedContacts  []endorsedContactJSON `json:"endorsed_trusted_contacts"`
	CreatedAt         time.Time             `json:"created_at"`
}

type accountKeysJSON struct {
	AppAuthKey         string `json:"app_auth_privkey"`
	AppRecoveryAuthKey string `json:"app_recovery_auth_privkey"`
	AppSpendingKey     string `json:"app_spending_privkey"`
	HwSpendingKey      string `json:"hw_spending_pubkey"`
	ServerSpendingKey  string `json:"server_spending_pubkey"`
	KeysetID           string `json:"keyset_id"`
}

// Codec converts backups to and from their persisted string form.
type Codec struct {
	crypto sealer.Crypto
}

// NewCodec creates a codec that seals key bundles with crypto.
func NewCodec(crypto sealer.Crypto) *Codec {
	return &Codec{crypto: crypto}
}

// Encode serializes b in its own version. Backups are never migrated on
// write.
func (c *Codec) Encode(b Backup) (string, error) {
	var (
		payload interface{}
		err     error
	)
	switch b := b.(type) {
	case *BackupV2:
		payload, err = encodeV2(b)

	case *BackupV3:
		payload, err = encodeV3(b)

	default:
		return "", fmt.Errorf("unsupported backup type %T", b)
	}
	if err != nil {
		return "", err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	return string(encoded), nil
}

// Decode parses a backup, trying the newest version first.
func (c *Codec) Decode(s string) (Backup, error) {
	decoders := []func([]byte) (Backup, error){
		decodeV3,
		decodeV2,
	}

	var lastErr error
	for _, decode := range decoders {
		b, err := decode([]byte(s))
		if err == nil {
			return b, nil
		}
		lastErr = err
	}

	return nil, &UnknownFormatError{Err: lastErr}
}

// SealAccountKeys seals the key bundle of accountID under key. The account
// id is bound as associated data so a bundle cannot be moved between
// backups of different accounts.
func (c *Codec) SealAccountKeys(accountID account.ID, key csek.Csek,
	keys *AccountKeys) (*sealer.SealedData, error) {

	plaintext, err := json.Marshal(encodeAccountKeys(keys))
	if err != nil {
		return nil, err
	}

	return c.crypto.SealSymmetric(key, []byte(accountID), plaintext)
}

// OpenAccountKeys unseals the key bundle of b. A wrong key or a tampered
// bundle yields *sealer.DecryptError, a malformed bundle *CodecError.
func (c *Codec) OpenAccountKeys(b Backup, key csek.Csek) (*AccountKeys,
	error) {

	sealed := b.Sealed().AccountKeys
	if sealed == nil {
		return nil, &CodecError{
			Version: b.Version(),
			Err:     errors.New("missing sealed account keys"),
		}
	}

	plaintext, err := c.crypto.UnsealSymmetric(
		key, []byte(b.Account()), sealed,
	)
	if err != nil {
		return nil, err
	}

	var raw accountKeysJSON
	if err := strictUnmarshal(plaintext, &raw); err != nil {
		return nil, &CodecError{Version: b.Version(), Err: err}
	}

	keys, err := decodeAccountKeys(&raw)
	if err != nil {
		return nil, &CodecError{Version: b.Version(), Err: err}
	}

	return keys, nil
}

func encodeV2(b *BackupV2) (*backupV2JSON, error) {
	if b.HwAuthKey == nil || b.Keys.AccountKeys == nil {
		return nil, &CodecError{
			Version: VersionV2,
			Err:     errors.New("incomplete backup"),
		}
	}

	contacts := make([]string, 0, len(b.TrustedContactKeys))
	for _, key := range b.TrustedContactKeys {
		contacts = append(contacts, account.EncodePubKey(key))
	}

	return &backupV2JSON{
		Version:            VersionV2,
		AccountID:          string(b.AccountID),
		Network:            string(b.Config.Network),
		Environment:        string(b.Config.Environment),
		HwAuthKey:          account.EncodePubKey(b.HwAuthKey),
		SealedCsek:         b.Keys.SealedCsek,
		SealedAccountKeys:  b.Keys.AccountKeys.Bytes(),
		TrustedContactKeys: contacts,
	}, nil
}

func encodeV3(b *BackupV3) (*backupV3JSON, error) {
	if b.HwAuthKey == nil || b.RecoveryAuthKey == nil ||
		b.Keys.AccountKeys == nil {

		return nil, &CodecError{
			Version: VersionV3,
			Err:     errors.New("incomplete backup"),
		}
	}

	contacts := make([]endorsedContactJSON, 0, len(b.EndorsedContacts))
	for _, contact := range b.EndorsedContacts {
		contacts = append(contacts, endorsedContactJSON{
			RelationshipID: contact.RelationshipID,
			Alias:          contact.Alias,
			IdentityKey:    account.EncodePubKey(contact.IdentityKey),
			Certificate:    contact.Certificate,
		})
	}

	return &backupV3JSON{
		Version:           VersionV3,
		AccountID:         string(b.AccountID),
		Network:           string(b.Config.Network),
		Environment:       string(b.Config.Environment),
		HwAuthKey:         account.EncodePubKey(b.HwAuthKey),
		RecoveryAuthKey:   account.EncodePubKey(b.RecoveryAuthKey),
		SealedCsek:        b.Keys.SealedCsek,
		SealedAccountKeys: b.Keys.AccountKeys.Bytes(),
		EndorsedContacts:  contacts,
		CreatedAt:         b.CreatedAt.UTC(),
	}, nil
}

func decodeV2(data []byte) (Backup, error) {
	fail := func(err error) (Backup, error) {
		return nil, &CodecError{Version: VersionV2, Err: err}
	}

	var raw backupV2JSON
	if err := strictUnmarshal(data, &raw); err != nil {
		return fail(err)
	}
	if raw.Version != VersionV2 {
		return fail(fmt.Errorf("version tag %d", raw.Version))
	}

	cfg, err := decodeConfig(raw.Network, raw.Environment)
	if err != nil {
		return fail(err)
	}
	if raw.AccountID == "" || len(raw.SealedCsek) == 0 {
		return fail(errors.New("missing required field"))
	}

	hwAuthKey, err := account.DecodePubKey(raw.HwAuthKey)
	if err != nil {
		return fail(err)
	}
	sealed, err := sealer.ParseSealedData(raw.SealedAccountKeys)
	if err != nil {
		return fail(err)
	}

	contacts := make([]*btcec.PublicKey, 0, len(raw.TrustedContactKeys))
	for _, encoded := range raw.TrustedContactKeys {
		key, err := account.DecodePubKey(encoded)
		if err != nil {
			return fail(err)
		}
		contacts = append(contacts, key)
	}

	return &BackupV2{
		AccountID: account.ID(raw.AccountID),
		Config:    cfg,
		HwAuthKey: hwAuthKey,
		Keys: SealedKeys{
			SealedCsek:  raw.SealedCsek,
			AccountKeys: sealed,
		},
		TrustedContactKeys: contacts,
	}, nil
}

func decodeV3(data []byte) (Backup, error) {
	fail := func(err error) (Backup, error) {
		return nil, &CodecError{Version: VersionV3, Err: err}
	}

	var raw backupV3JSON
	if err := strictUnmarshal(data, &raw); err != nil {
		return fail(err)
	}
	if raw.Version != VersionV3 {
		return fail(fmt.Errorf("version tag %d", raw.Version))
	}

	cfg, err := decodeConfig(raw.Network, raw.Environment)
	if err != nil {
		return fail(err)
	}
	if raw.AccountID == "" || len(raw.SealedCsek) == 0 {
		return fail(errors.New("missing required field"))
	}

	hwAuthKey, err := account.DecodePubKey(raw.HwAuthKey)
	if err != nil {
		return fail(err)
	}
	recoveryAuthKey, err := account.DecodePubKey(raw.RecoveryAuthKey)
	if err != nil {
		return fail(err)
	}
	sealed, err := sealer.ParseSealedData(raw.SealedAccountKeys)
	if err != nil {
		return fail(err)
	}

	contacts := make([]EndorsedContact, 0, len(raw.EndorsedContacts))
	for _, contact := range raw.EndorsedContacts {
		key, err := account.DecodePubKey(contact.IdentityKey)
		if err != nil {
			return fail(err)
		}
		contacts = append(contacts, EndorsedContact{
			RelationshipID: contact.RelationshipID,
			Alias:          contact.Alias,
			IdentityKey:    key,
			Certificate:    contact.Certificate,
		})
	}

	return &BackupV3{
		AccountID:       account.ID(raw.AccountID),
		Config:          cfg,
		HwAuthKey:       hwAuthKey,
		RecoveryAuthKey: recoveryAuthKey,
		Keys: SealedKeys{
			SealedCsek:  raw.SealedCsek,
			AccountKeys: sealed,
		},
		EndorsedContacts: contacts,
		CreatedAt:        raw.CreatedAt,
	}, nil
}

func decodeConfig(network, env string) (account.Config, error) {
	n, err := account.ParseNetwork(network)
	if err != nil {
		return account.Config{}, err
	}
	e, err := account.ParseEnvironment(env)
	if err != nil {
		return account.Config{}, err
	}

	return account.Config{Network: n, Environment: e}, nil
}

func encodeAccountKeys(keys *AccountKeys) *accountKeysJSON {
	privHex := func(k *btcec.PrivateKey) string {
		if k == nil {
			return ""
		}
		return hex.EncodeToString(k.Serialize())
	}
	pubHex := func(k *btcec.PublicKey) string {
		if k == nil {
			return ""
		}
		return account.EncodePubKey(k)
	}

	return &accountKeysJSON{
		AppAuthKey:         privHex(keys.AppAuthKey),
		AppRecoveryAuthKey: privHex(keys.AppRecoveryAuthKey),
		AppSpendingKey:     privHex(keys.AppSpendingKey),
		HwSpendingKey:      pubHex(keys.HwSpendingKey),
		ServerSpendingKey:  pubHex(keys.ServerSpendingKey),
		KeysetID:           keys.KeysetID,
	}
}

func decodeAccountKeys(raw *accountKeysJSON) (*AccountKeys, error) {
	var firstErr error
	priv := func(s string) *btcec.PrivateKey {
		b, err := hex.DecodeString(s)
		if err == nil && len(b) != btcec.PrivKeyBytesLen {
			err = fmt.Errorf("private key must be %d bytes",
				btcec.PrivKeyBytesLen)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}

		key, _ := btcec.PrivKeyFromBytes(b)
		return key
	}
	pub := func(s string) *btcec.PublicKey {
		key, err := account.DecodePubKey(s)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return nil
		}
		return key
	}

	keys := &AccountKeys{
		AppAuthKey:         priv(raw.AppAuthKey),
		AppRecoveryAuthKey: priv(raw.AppRecoveryAuthKey),
		AppSpendingKey:     priv(raw.AppSpendingKey),
		HwSpendingKey:      pub(raw.HwSpendingKey),
		ServerSpendingKey:  pub(raw.ServerSpendingKey),
		KeysetID:           raw.KeysetID,
	}
	if firstErr != nil {
		return nil, firstErr
	}

	return keys, nil
}

// strictUnmarshal rejects fields that are not part of v, which is what
// tells the versions apart.
func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after backup")
	}

	return nil
}
