package cloudbackup

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/csek"
	"github.com/lightningnetwork/recoverykit/sealer"
	"github.com/stretchr/testify/require"
)

var testConfig = account.Config{
	Network:     account.NetworkSignet,
	Environment: account.EnvironmentStaging,
}

func newPrivKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return key
}

func newAccountKeys(t *testing.T) *AccountKeys {
	return &AccountKeys{
		AppAuthKey:         newPrivKey(t),
		AppRecoveryAuthKey: newPrivKey(t),
		AppSpendingKey:     newPrivKey(t),
		HwSpendingKey:      newPrivKey(t).PubKey(),
		ServerSpendingKey:  newPrivKey(t).PubKey(),
		KeysetID:           "keyset-1",
	}
}

func newSealedKeys(t *testing.T, codec *Codec,
	id account.ID) (SealedKeys, csek.Csek, *AccountKeys) {

	t.Helper()

	key, err := csek.Generate()
	require.NoError(t, err)

	keys := newAccountKeys(t)
	sealed, err := codec.SealAccountKeys(id, key, keys)
	require.NoError(t, err)

	return SealedKeys{
		SealedCsek:  []byte("hw-sealed-csek"),
		AccountKeys: sealed,
	}, key, keys
}

func newBackupV2(t *testing.T, codec *Codec, id account.ID) *BackupV2 {
	sealed, _, _ := newSealedKeys(t, codec, id)

	return &BackupV2{
		AccountID: id,
		Config:    testConfig,
		HwAuthKey: newPrivKey(t).PubKey(),
		Keys:      sealed,
		TrustedContactKeys: []*btcec.PublicKey{
			newPrivKey(t).PubKey(),
		},
	}
}

func newBackupV3(t *testing.T, codec *Codec, id account.ID) *BackupV3 {
	sealed, _, _ := newSealedKeys(t, codec, id)

	return &BackupV3{
		AccountID:       id,
		Config:          testConfig,
		HwAuthKey:       newPrivKey(t).PubKey(),
		RecoveryAuthKey: newPrivKey(t).PubKey(),
		Keys:            sealed,
		EndorsedContacts: []EndorsedContact{{
			RelationshipID: "rel-1",
			Alias:          "bob",
			IdentityKey:    newPrivKey(t).PubKey(),
			Certificate:    []byte{1, 2, 3},
		}},
		CreatedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
}

// requireSameBackup compares two backups by their canonical encoding.
func requireSameBackup(t *testing.T, codec *Codec, expected, actual Backup) {
	t.Helper()

	want, err := codec.Encode(expected)
	require.NoError(t, err)

	got, err := codec.Encode(actual)
	require.NoError(t, err)

	require.JSONEq(t, want, got)
}

// TestCodecRoundTrip checks both versions decode to what was encoded,
// keeping their version tag.
func TestCodecRoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewCodec(&sealer.XChaCha{})

	v3 := newBackupV3(t, codec, "acct-1")
	encoded, err := codec.Encode(v3)
	require.NoError(t, err)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, VersionV3, decoded.Version())
	requireSameBackup(t, codec, v3, decoded)

	v2 := newBackupV2(t, codec, "acct-2")
	encoded, err = codec.Encode(v2)
	require.NoError(t, err)

	decoded, err = codec.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, VersionV2, decoded.Version())
	requireSameBackup(t, codec, v2, decoded)
}

// TestCodecFallback checks that a v2 payload decodes through the v3 then
// v2 fallback, and that garbage yields UnknownFormatError.
func TestCodecFallback(t *testing.T) {
	t.Parallel()

	codec := NewCodec(&sealer.XChaCha{})

	encoded, err := codec.Encode(newBackupV2(t, codec, "acct-1"))
	require.NoError(t, err)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	require.IsType(t, &BackupV2{}, decoded)

	for _, garbage := range []string{
		"", "not json", `{"version":4}`, `{"version":3}`, `[]`,
	} {
		_, err := codec.Decode(garbage)

		var unknown *UnknownFormatError
		require.ErrorAs(t, err, &unknown, garbage)

		var codecErr *CodecError
		require.ErrorAs(t, err, &codecErr, garbage)
		require.Equal(t, VersionV2, codecErr.Version)
	}
}

// TestCodecRejectsWrongVersionTag checks that a v3 shaped payload tagged as
// v2 does not decode.
func TestCodecRejectsWrongVersionTag(t *testing.T) {
	t.Parallel()

	codec := NewCodec(&sealer.XChaCha{})
	encoded, err := codec.Encode(newBackupV3(t, codec, "acct-1"))
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(encoded), &raw))
	raw["version"] = 2

	retagged, err := json.Marshal(raw)
	require.NoError(t, err)

	_, err = codec.Decode(string(retagged))
	var unknown *UnknownFormatError
	require.ErrorAs(t, err, &unknown)
}

// TestOpenAccountKeys checks that the sealed key bundle opens with the
// right CSEK and that a wrong key is a decryption error, not a codec error.
func TestOpenAccountKeys(t *testing.T) {
	t.Parallel()

	codec := NewCodec(&sealer.XChaCha{})
	sealed, key, keys := newSealedKeys(t, codec, "acct-1")
	b := &BackupV3{
		AccountID:       "acct-1",
		Config:          testConfig,
		HwAuthKey:       newPrivKey(t).PubKey(),
		RecoveryAuthKey: newPrivKey(t).PubKey(),
		Keys:            sealed,
	}

	opened, err := codec.OpenAccountKeys(b, key)
	require.NoError(t, err)
	require.Equal(t, keys.KeysetID, opened.KeysetID)
	require.True(t, keys.AppAuthKey.Key.Equals(&opened.AppAuthKey.Key))
	require.True(t, keys.HwSpendingKey.IsEqual(opened.HwSpendingKey))

	wrongKey, err := csek.Generate()
	require.NoError(t, err)

	_, err = codec.OpenAccountKeys(b, wrongKey)
	var decryptErr *sealer.DecryptError
	require.ErrorAs(t, err, &decryptErr)

	var codecErr *CodecError
	require.False(t, errors.As(err, &codecErr))

	// A bundle sealed for another account does not open.
	b.AccountID = "acct-2"
	_, err = codec.OpenAccountKeys(b, key)
	require.ErrorAs(t, err, &decryptErr)
}

// TestOpenAccountKeysMalformed checks that a well sealed but malformed
// bundle is a codec error.
func TestOpenAccountKeysMalformed(t *testing.T) {
	t.Parallel()

	crypto := &sealer.XChaCha{}
	codec := NewCodec(crypto)

	key, err := csek.Generate()
	require.NoError(t, err)

	sealed, err := crypto.SealSymmetric(
		key, []byte("acct-1"), []byte(`{"app_auth_privkey":"zz"}`),
	)
	require.NoError(t, err)

	b := &BackupV2{
		AccountID: "acct-1",
		Keys:      SealedKeys{AccountKeys: sealed},
	}
	_, err = codec.OpenAccountKeys(b, key)

	var codecErr *CodecError
	require.ErrorAs(t, err, &codecErr)
	require.Equal(t, VersionV2, codecErr.Version)
}

// TestEncodeIncomplete checks that backups missing required keys are not
// encoded.
func TestEncodeIncomplete(t *testing.T) {
	t.Parallel()

	codec := NewCodec(&sealer.XChaCha{})

	_, err := codec.Encode(&BackupV3{AccountID: "acct-1"})
	var codecErr *CodecError
	require.ErrorAs(t, err, &codecErr)

	_, err = codec.Encode(&BackupV2{AccountID: "acct-1"})
	require.ErrorAs(t, err, &codecErr)
}
