package main

import (
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/csek"
	"github.com/lightningnetwork/recoverykit/recovery"
	"github.com/urfave/cli"
)

var progressCommand = cli.Command{
	Name:     "progress",
	Category: "Recovery",
	Usage:    "Inspect or reset the local recovery checkpoint.",
	Subcommands: []cli.Command{
		{
			Name:   "show",
			Usage:  "Show the stored attempt and its progress.",
			Action: showProgress,
		},
		{
			Name: "reset",
			Usage: "Drop the stored attempt, its checkpoint and its " +
				"sealed backup key.",
			Action: resetProgress,
		},
	},
}

type attemptInfo struct {
	ID         string `json:"id"`
	LostFactor string `json:"lost_factor"`
	Network    string `json:"network"`
	DelayStart string `json:"delay_start"`
	DelayEnd   string `json:"delay_end"`
}

type progressInfo struct {
	Account    string       `json:"account"`
	Attempt    *attemptInfo `json:"attempt,omitempty"`
	Progress   string       `json:"progress"`
	KeysetID   string       `json:"keyset_id,omitempty"`
	SealedCsek bool         `json:"sealed_csek"`
	UpdatedAt  string       `json:"updated_at,omitempty"`
}

// progressReport reads everything stored locally for the account's attempt.
func progressReport(db kvdb.Backend, id account.ID) (*progressInfo, error) {
	store, err := recovery.NewStore(db)
	if err != nil {
		return nil, err
	}
	cseks, err := csek.NewStore(db)
	if err != nil {
		return nil, err
	}

	attempt, err := store.FetchAttempt(id)
	if err != nil {
		return nil, err
	}
	cp, err := store.FetchCheckpoint(id)
	if err != nil {
		return nil, err
	}

	info := &progressInfo{
		Account:  string(id),
		Progress: cp.Progress.String(),
		KeysetID: cp.KeysetID,
	}
	if !cp.UpdatedAt.IsZero() {
		info.UpdatedAt = cp.UpdatedAt.Format(time.RFC3339)
	}

	if attempt.IsNone() {
		return info, nil
	}

	a := attempt.UnsafeFromSome()
	info.Attempt = &attemptInfo{
		ID:         a.ID,
		LostFactor: a.LostFactor.String(),
		Network:    string(a.Config.Network),
		DelayStart: a.DelayStart.Format(time.RFC3339),
		DelayEnd:   a.DelayEnd.Format(time.RFC3339),
	}

	sealed, err := cseks.Get(a.ID)
	if err != nil {
		return nil, err
	}
	info.SealedCsek = sealed.IsSome()

	return info, nil
}

// resetAttempt drops the account's attempt, checkpoint and sealed key.
func resetAttempt(db kvdb.Backend, id account.ID) error {
	store, err := recovery.NewStore(db)
	if err != nil {
		return err
	}
	cseks, err := csek.NewStore(db)
	if err != nil {
		return err
	}

	attempt, err := store.FetchAttempt(id)
	if err != nil {
		return err
	}

	var errs []error
	attempt.WhenSome(func(a recovery.Attempt) {
		errs = append(errs, cseks.Delete(a.ID))
	})
	errs = append(errs, store.Clear(id))

	return errors.Join(errs...)
}

func showProgress(c *cli.Context) error {
	e, err := loadEnv(c, true)
	if err != nil {
		return err
	}
	defer e.close()

	id, err := e.cfg.Account()
	if err != nil {
		return err
	}

	info, err := progressReport(e.db, id)
	if err != nil {
		return err
	}

	return printJSON(info)
}

func resetProgress(c *cli.Context) error {
	e, err := loadEnv(c, true)
	if err != nil {
		return err
	}
	defer e.close()

	id, err := e.cfg.Account()
	if err != nil {
		return err
	}

	if err := resetAttempt(e.db, id); err != nil {
		return err
	}

	cliLog.Infof("Reset recovery progress of account %v", id)

	return nil
}
