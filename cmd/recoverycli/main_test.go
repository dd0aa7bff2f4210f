package main

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/cloudbackup"
	"github.com/lightningnetwork/recoverykit/csek"
	"github.com/lightningnetwork/recoverykit/recovery"
	"github.com/stretchr/testify/require"
)

func newPubKey(t *testing.T) *btcec.PublicKey {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return key.PubKey()
}

// TestCodeResults checks that built codes are reported with their parsed
// content.
func TestCodeResults(t *testing.T) {
	t.Parallel()

	invite, err := inviteResult("abcde", 20, []byte{0xff, 0xff, 0xfe})
	require.NoError(t, err)
	require.Equal(t, "abcde0", invite.ServerPart)
	require.Equal(t, 20, invite.ServerBits)
	require.Equal(t, "fffffe", invite.Pake)

	again, err := parsedInvite(invite.Code)
	require.NoError(t, err)
	require.Equal(t, invite, again)

	_, err = inviteResult("abcde", 7, []byte{0, 0, 0})
	require.Error(t, err)

	rc, err := recoveryCodeResult(
		5, 3, []byte{0x12, 0x34, 0x56, 0x78, 0xe0},
	)
	require.NoError(t, err)
	require.Equal(t, "5", rc.ServerPart)
	require.Equal(t, 3, rc.ServerBits)
	require.Equal(t, "12345678e0", rc.Pake)

	_, err = parsedRecoveryCode(rc.Code[:len(rc.Code)-1] + "x")
	require.Error(t, err)
}

// TestSummarize checks the printable summary of both backup versions.
func TestSummarize(t *testing.T) {
	t.Parallel()

	cfg := account.Config{
		Network:     account.NetworkSignet,
		Environment: account.EnvironmentStaging,
	}
	created := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	v3 := summarize(&cloudbackup.BackupV3{
		AccountID:       "acct-1",
		Config:          cfg,
		HwAuthKey:       newPubKey(t),
		RecoveryAuthKey: newPubKey(t),
		EndorsedContacts: []cloudbackup.EndorsedContact{
			{RelationshipID: "r-1", Alias: "alice"},
		},
		CreatedAt: created,
	})
	require.Equal(t, "acct-1", v3.Account)
	require.Equal(t, uint8(3), v3.Version)
	require.Equal(t, "signet", v3.Network)
	require.Equal(t, []string{"alice"}, v3.TrustedContacts)
	require.Equal(t, "2024-06-01T10:00:00Z", v3.CreatedAt)
	require.NotEmpty(t, v3.RecoveryAuthKey)

	contact := newPubKey(t)
	v2 := summarize(&cloudbackup.BackupV2{
		AccountID:          "acct-2",
		Config:             cfg,
		HwAuthKey:          newPubKey(t),
		TrustedContactKeys: []*btcec.PublicKey{contact},
	})
	require.Equal(t, uint8(2), v2.Version)
	require.Empty(t, v2.RecoveryAuthKey)
	require.Equal(t, []string{account.EncodePubKey(contact)},
		v2.TrustedContacts)

	list := archives(&cloudbackup.ArchiveScan{
		Backups: []cloudbackup.ArchivedBackup{{
			Key:       "cb-acct-2-x",
			Timestamp: created,
			Backup: &cloudbackup.BackupV2{
				AccountID: "acct-2",
				Config:    cfg,
				HwAuthKey: newPubKey(t),
			},
		}},
		Failures: map[string]error{"cloud-backup-y": errors.New("bad")},
	})
	require.Len(t, list.Backups, 1)
	require.Equal(t, "cb-acct-2-x", list.Backups[0].Key)
	require.Equal(t, map[string]string{"cloud-backup-y": "bad"},
		list.Failures)
}

// TestProgressReportAndReset checks the local checkpoint report and that a
// reset drops the attempt and its sealed key.
func TestProgressReportAndReset(t *testing.T) {
	t.Parallel()

	db, err := kvdb.Create(
		kvdb.BoltBackendName, filepath.Join(t.TempDir(), "r.db"),
		true, kvdb.DefaultDBTimeout, false,
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	const id = account.ID("acct-1")

	info, err := progressReport(db, id)
	require.NoError(t, err)
	require.Nil(t, info.Attempt)
	require.Equal(t, "None", info.Progress)

	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	attempt := &recovery.Attempt{
		ID:                 "attempt-1",
		AccountID:          id,
		Config:             account.Config{Network: account.NetworkRegtest},
		LostFactor:         account.FactorHardware,
		AppAuthKey:         newPubKey(t),
		AppRecoveryAuthKey: newPubKey(t),
		AppSpendingKey:     newPubKey(t),
		HwAuthKey:          newPubKey(t),
		HwSpendingKey:      newPubKey(t),
		DelayStart:         now.Add(-time.Hour),
		DelayEnd:           now,
	}

	store, err := recovery.NewStore(db)
	require.NoError(t, err)
	require.NoError(t, store.PutAttempt(attempt, now))
	require.NoError(t, store.Advance(id, &recovery.Checkpoint{
		AttemptID: attempt.ID,
		Progress:  recovery.ProgressAuthKeysRotated,
		UpdatedAt: now,
	}))

	cseks, err := csek.NewStore(db)
	require.NoError(t, err)
	require.NoError(t, cseks.Put(attempt.ID, &csek.Sealed{
		Key:       []byte("sealed"),
		CreatedAt: now,
	}))

	info, err = progressReport(db, id)
	require.NoError(t, err)
	require.NotNil(t, info.Attempt)
	require.Equal(t, "attempt-1", info.Attempt.ID)
	require.Equal(t, "AuthKeysRotated", info.Progress)
	require.True(t, info.SealedCsek)

	require.NoError(t, resetAttempt(db, id))

	info, err = progressReport(db, id)
	require.NoError(t, err)
	require.Nil(t, info.Attempt)
	require.Equal(t, "None", info.Progress)

	sealed, err := cseks.Get(attempt.ID)
	require.NoError(t, err)
	require.True(t, sealed.IsNone())
}
