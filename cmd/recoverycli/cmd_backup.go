package main

import (
	"context"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/cloudbackup"
	"github.com/lightningnetwork/recoverykit/sealer"
	"github.com/urfave/cli"
)

// errNoBackup is returned when the account has no backup to show.
var errNoBackup = errors.New("no backup found")

var backupCommand = cli.Command{
	Name:     "backup",
	Category: "Backups",
	Usage:    "Inspect and clear cloud backups.",
	Subcommands: []cli.Command{
		{
			Name:  "show",
			Usage: "Show the active backup of the account.",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name: "cached",
					Usage: "Show the local copy instead " +
						"of the cloud one.",
				},
			},
			Action: showBackup,
		},
		{
			Name:   "archives",
			Usage:  "List the archived backups of the cloud account.",
			Action: listArchives,
		},
		{
			Name:  "clear",
			Usage: "Remove the active backup of the account.",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "remote-only",
					Usage: "Keep the local copy.",
				},
			},
			Action: clearBackup,
		},
	},
}

// backupInfo is the printable summary of a backup. Sealed key material is
// never printed.
type backupInfo struct {
	Key             string   `json:"key,omitempty"`
	Account         string   `json:"account"`
	Version         uint8    `json:"version"`
	Network         string   `json:"network"`
	Environment     string   `json:"environment"`
	HwAuthKey       string   `json:"hw_auth_key"`
	RecoveryAuthKey string   `json:"recovery_auth_key,omitempty"`
	TrustedContacts []string `json:"trusted_contacts,omitempty"`
	CreatedAt       string   `json:"created_at,omitempty"`
	ArchivedAt      string   `json:"archived_at,omitempty"`
}

func summarize(b cloudbackup.Backup) *backupInfo {
	info := &backupInfo{
		Account: string(b.Account()),
		Version: uint8(b.Version()),
	}

	switch b := b.(type) {
	case *cloudbackup.BackupV2:
		info.Network = string(b.Config.Network)
		info.Environment = string(b.Config.Environment)
		info.HwAuthKey = account.EncodePubKey(b.HwAuthKey)
		for _, key := range b.TrustedContactKeys {
			info.TrustedContacts = append(
				info.TrustedContacts, account.EncodePubKey(key),
			)
		}

	case *cloudbackup.BackupV3:
		info.Network = string(b.Config.Network)
		info.Environment = string(b.Config.Environment)
		info.HwAuthKey = account.EncodePubKey(b.HwAuthKey)
		info.RecoveryAuthKey = account.EncodePubKey(b.RecoveryAuthKey)
		for _, contact := range b.EndorsedContacts {
			info.TrustedContacts = append(
				info.TrustedContacts, contact.Alias,
			)
		}
		if !b.CreatedAt.IsZero() {
			info.CreatedAt = b.CreatedAt.UTC().Format(time.RFC3339)
		}
	}

	return info
}

// newRepository wires a backup repository from the env's config.
func (e *env) newRepository(ctx context.Context) (*cloudbackup.Repository,
	error) {

	store, err := e.cfg.CloudStore.Open(ctx)
	if err != nil {
		return nil, err
	}

	cache, err := cloudbackup.NewCache(e.db)
	if err != nil {
		return nil, err
	}

	return cloudbackup.NewRepository(&cloudbackup.Config{
		Store:             store,
		Codec:             cloudbackup.NewCodec(&sealer.XChaCha{}),
		Cache:             cache,
		Auth:              e.cfg.TrustService.NewClient(),
		Clock:             clock.NewDefaultClock(),
		AccountScopedKeys: e.cfg.Recovery.AccountScopedKeys,
	}), nil
}

func showBackup(c *cli.Context) error {
	ctx := context.Background()

	e, err := loadEnv(c, true)
	if err != nil {
		return err
	}
	defer e.close()

	id, err := e.cfg.Account()
	if err != nil {
		return err
	}
	repo, err := e.newRepository(ctx)
	if err != nil {
		return err
	}

	var backup fn.Option[cloudbackup.Backup]
	if c.Bool("cached") {
		backup, err = repo.ReadCachedBackup(id)
	} else {
		backup, err = repo.ReadActiveBackup(
			ctx, e.cfg.CloudStore.CloudAccount(), id,
		)
	}
	if err != nil {
		return err
	}

	b, err := backup.UnwrapOrErr(errNoBackup)
	if err != nil {
		return err
	}

	return printJSON(summarize(b))
}

type archiveList struct {
	Backups  []*backupInfo     `json:"backups"`
	Failures map[string]string `json:"failures,omitempty"`
}

func listArchives(c *cli.Context) error {
	ctx := context.Background()

	e, err := loadEnv(c, true)
	if err != nil {
		return err
	}
	defer e.close()

	repo, err := e.newRepository(ctx)
	if err != nil {
		return err
	}

	id, err := e.cfg.Account()
	if err != nil {
		return err
	}

	scan, err := repo.ReadArchivedBackups(
		ctx, e.cfg.CloudStore.CloudAccount(), id,
	)
	if err != nil {
		return err
	}

	return printJSON(archives(scan))
}

func archives(scan *cloudbackup.ArchiveScan) *archiveList {
	list := &archiveList{Backups: make([]*backupInfo, 0, len(scan.Backups))}
	for _, archived := range scan.Backups {
		info := summarize(archived.Backup)
		info.Key = archived.Key
		info.ArchivedAt = archived.Timestamp.Format(time.RFC3339Nano)
		list.Backups = append(list.Backups, info)
	}

	if len(scan.Failures) > 0 {
		list.Failures = make(map[string]string, len(scan.Failures))
		for key, err := range scan.Failures {
			list.Failures[key] = err.Error()
		}
	}

	return list
}

func clearBackup(c *cli.Context) error {
	ctx := context.Background()

	e, err := loadEnv(c, true)
	if err != nil {
		return err
	}
	defer e.close()

	id, err := e.cfg.Account()
	if err != nil {
		return err
	}
	repo, err := e.newRepository(ctx)
	if err != nil {
		return err
	}

	err = repo.Clear(
		ctx, id, e.cfg.CloudStore.CloudAccount(), c.Bool("remote-only"),
	)
	if err != nil {
		return err
	}

	cliLog.Infof("Cleared backup of account %v", id)

	return nil
}
