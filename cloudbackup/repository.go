package cloudbackup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/lightningnetwork/recoverykit/cloudstore"
	"golang.org/x/sync/errgroup"
)

// AuthRefresher refreshes an access token with the trust service.
type AuthRefresher interface {
	// RefreshAccessToken fails if the keys of scope can no longer
	// authenticate for the account.
	RefreshAccessToken(ctx context.Context, id account.ID,
		scope account.AuthScope) error
}

// Config holds the collaborators of a Repository.
type Config struct {
	// Store is the user's cloud key-value store.
	Store cloudstore.Store

	// Codec encodes and decodes backups.
	Codec *Codec

	// Cache is the local copy of the last written backup.
	Cache *Cache

	// Auth refreshes the recovery scoped token before uploads that
	// require it.
	Auth AuthRefresher

	// Clock stamps archived backups.
	Clock clock.Clock

	// AccountScopedKeys switches writes to the account scoped key
	// scheme. Reads always recognise both schemes.
	AccountScopedKeys bool
}

// Repository persists backups to the cloud store and the local cache.
type Repository struct {
	cfg *Config
}

// NewRepository creates a backup repository.
func NewRepository(cfg *Config) *Repository {
	return &Repository{cfg: cfg}
}

func (r *Repository) writeScheme() KeyScheme {
	if r.cfg.AccountScopedKeys {
		return SchemeAccountScoped
	}

	return SchemeLegacy
}

func (r *Repository) readSchemes() []KeyScheme {
	if r.cfg.AccountScopedKeys {
		return []KeyScheme{SchemeAccountScoped, SchemeLegacy}
	}

	return []KeyScheme{SchemeLegacy, SchemeAccountScoped}
}

// ReadActiveBackup returns the active backup of id, or None if there is
// none. The write scheme's key is read first. A legacy backup that belongs
// to a different account is ignored.
func (r *Repository) ReadActiveBackup(ctx context.Context,
	cloudAcct cloudstore.Account, id account.ID) (fn.Option[Backup],
	error) {

	for _, scheme := range r.readSchemes() {
		key := ActiveKey(scheme, id)

		value, err := r.cfg.Store.Get(ctx, cloudAcct, key)
		if err != nil {
			return fn.None[Backup](), classifyStoreError(err)
		}
		if value.IsNone() {
			continue
		}

		b, err := r.cfg.Codec.Decode(value.UnwrapOr(""))
		if err != nil {
			return fn.None[Backup](), fmt.Errorf("unable to "+
				"decode %v: %w", key, err)
		}

		if b.Account() != id {
			log.Debugf("Ignoring %v backup of account %v", scheme,
				b.Account())
			continue
		}

		return fn.Some(b), nil
	}

	return fn.None[Backup](), nil
}

// WriteBackup uploads b as the active backup of id. If requireAuthRefresh is
// set, the recovery scoped token is refreshed first and a refresh failure
// aborts the write. The local cache is only updated after the remote write
// succeeded.
func (r *Repository) WriteBackup(ctx context.Context, id account.ID,
	cloudAcct cloudstore.Account, b Backup, requireAuthRefresh bool) error {

	if b.Account() != id {
		return fmt.Errorf("backup of account %v written for %v",
			b.Account(), id)
	}

	encoded, err := r.cfg.Codec.Encode(b)
	if err != nil {
		return err
	}

	if requireAuthRefresh {
		err := r.cfg.Auth.RefreshAccessToken(
			ctx, id, account.ScopeRecovery,
		)
		if err != nil {
			return fmt.Errorf("unable to refresh recovery auth: %w",
				err)
		}
	}

	key := ActiveKey(r.writeScheme(), id)
	if err := r.cfg.Store.Set(ctx, cloudAcct, key, encoded); err != nil {
		return classifyStoreError(err)
	}

	log.Infof("Uploaded v%d backup of account %v to %v", b.Version(), id,
		key)

	err = r.cfg.Cache.Put(id, &CachedBackup{
		Encoded:  encoded,
		CachedAt: r.cfg.Clock.Now(),
	})
	if err != nil {
		log.Warnf("Unable to cache backup of account %v: %v", id, err)
	}

	return nil
}

// ArchiveBackup stores b under a new timestamped key and returns the key.
// An existing archive is never overwritten.
func (r *Repository) ArchiveBackup(ctx context.Context, id account.ID,
	cloudAcct cloudstore.Account, b Backup) (string, error) {

	key := ArchivedKey(r.writeScheme(), id, r.cfg.Clock.Now())

	existing, err := r.cfg.Store.Get(ctx, cloudAcct, key)
	if err != nil {
		return "", classifyStoreError(err)
	}
	if existing.IsSome() {
		return "", fmt.Errorf("%w: %v", ErrArchiveExists, key)
	}

	encoded, err := r.cfg.Codec.Encode(b)
	if err != nil {
		return "", err
	}

	if err := r.cfg.Store.Set(ctx, cloudAcct, key, encoded); err != nil {
		return "", classifyStoreError(err)
	}

	return key, nil
}

// ArchivedBackup is one decoded archive entry.
type ArchivedBackup struct {
	Key       string
	Timestamp time.Time
	Backup    Backup
}

// ArchiveScan is the result of ReadArchivedBackups.
type ArchiveScan struct {
	// Backups are the decodable archives, newest first.
	Backups []ArchivedBackup

	// Failures holds the read or decode error of every other archive
	// key.
	Failures map[string]error
}

type archiveResult struct {
	archived ArchivedBackup
	err      error
}

// ReadArchivedBackups reads and decodes every archived backup of id in the
// cloud account. Legacy archives carry no account id and are always
// included; account scoped archives of other wallets sharing the cloud
// account are not. Entries are decoded independently; a failing entry is
// recorded in the scan's failures and does not abort the others.
func (r *Repository) ReadArchivedBackups(ctx context.Context,
	cloudAcct cloudstore.Account, id account.ID) (*ArchiveScan, error) {

	keys, err := r.cfg.Store.ListKeys(ctx, cloudAcct)
	if err != nil {
		return nil, classifyStoreError(err)
	}

	var archived []string
	for _, key := range keys {
		parsed, ok := ParseKey(key)
		if !ok || !parsed.Archived {
			continue
		}
		if parsed.Scheme == SchemeAccountScoped &&
			parsed.AccountID != id {

			continue
		}

		archived = append(archived, key)
	}

	results := fn.ForEachConc(archived, func(key string) archiveResult {
		return r.readArchive(ctx, cloudAcct, key)
	})

	scan := &ArchiveScan{
		Failures: make(map[string]error),
	}
	for i, res := range results {
		if res.err != nil {
			scan.Failures[archived[i]] = res.err
			continue
		}
		scan.Backups = append(scan.Backups, res.archived)
	}

	sort.SliceStable(scan.Backups, func(i, j int) bool {
		return scan.Backups[i].Timestamp.After(scan.Backups[j].Timestamp)
	})

	if len(scan.Failures) > 0 {
		log.Warnf("Skipped %d unreadable archived backups",
			len(scan.Failures))
	}

	return scan, nil
}

func (r *Repository) readArchive(ctx context.Context,
	cloudAcct cloudstore.Account, key string) archiveResult {

	parsed, _ := ParseKey(key)

	value, err := r.cfg.Store.Get(ctx, cloudAcct, key)
	if err != nil {
		return archiveResult{err: classifyStoreError(err)}
	}

	encoded, err := value.UnwrapOrErr(errors.New("archive disappeared"))
	if err != nil {
		return archiveResult{err: err}
	}

	b, err := r.cfg.Codec.Decode(encoded)
	if err != nil {
		return archiveResult{err: err}
	}

	return archiveResult{
		archived: ArchivedBackup{
			Key:       key,
			Timestamp: parsed.Timestamp,
			Backup:    b,
		},
	}
}

// Clear removes the active backup of id under both key schemes. Unless
// clearRemoteOnly is set, the local cache is dropped too.
func (r *Repository) Clear(ctx context.Context, id account.ID,
	cloudAcct cloudstore.Account, clearRemoteOnly bool) error {

	g, gctx := errgroup.WithContext(ctx)
	for _, scheme := range r.readSchemes() {
		key := ActiveKey(scheme, id)
		g.Go(func() error {
			return r.cfg.Store.Remove(gctx, cloudAcct, key)
		})
	}
	if err := g.Wait(); err != nil {
		return classifyStoreError(err)
	}

	if clearRemoteOnly {
		return nil
	}

	return r.cfg.Cache.Delete(id)
}

// ReadCachedBackup decodes the locally cached backup of id.
func (r *Repository) ReadCachedBackup(id account.ID) (fn.Option[Backup],
	error) {

	cached, err := r.cfg.Cache.Get(id)
	if err != nil {
		return fn.None[Backup](), err
	}
	if cached.IsNone() {
		return fn.None[Backup](), nil
	}

	b, err := r.cfg.Codec.Decode(cached.UnwrapOr(CachedBackup{}).Encoded)
	if err != nil {
		return fn.None[Backup](), err
	}

	return fn.Some(b), nil
}
