package recovery

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/recoverykit/account"
)

var (
	// recoveryBucket holds one nested bucket per account with the
	// current attempt and its checkpoint.
	recoveryBucket = []byte("recovery")

	attemptKey    = []byte("attempt")
	checkpointKey = []byte("checkpoint")

	// ErrCheckpointRegression is returned when a checkpoint write would
	// move an attempt's progress backwards.
	ErrCheckpointRegression = errors.New("checkpoint progress regression")

	// ErrUnknownAttempt is returned when a checkpoint is written for an
	// attempt that is not the account's current one.
	ErrUnknownAttempt = errors.New("checkpoint for unknown attempt")
)

// Store persists recovery attempts and their checkpoints. There is at most
// one attempt, and so one checkpoint, per account.
type Store struct {
	db kvdb.Backend
}

// NewStore creates the recovery bucket if needed and returns a Store.
func NewStore(db kvdb.Backend) (*Store, error) {
	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(recoveryBucket)
		return err
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to create recovery bucket: %w",
			err)
	}

	return &Store{db: db}, nil
}

// PutAttempt records a new attempt for its account and resets the
// checkpoint to ProgressNone in the same transaction.
func (s *Store) PutAttempt(attempt *Attempt, now time.Time) error {
	if attempt.ID == "" || attempt.AccountID == "" {
		return errors.New("attempt and account id must be set")
	}

	attemptBytes, err := encodeToBytes(attempt.encode)
	if err != nil {
		return err
	}

	fresh := &Checkpoint{
		AttemptID: attempt.ID,
		Progress:  ProgressNone,
		UpdatedAt: now,
	}
	cpBytes, err := encodeToBytes(fresh.encode)
	if err != nil {
		return err
	}

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bucket, err := accountBucket(tx, attempt.AccountID)
		if err != nil {
			return err
		}

		if err := bucket.Put(attemptKey, attemptBytes); err != nil {
			return err
		}

		return bucket.Put(checkpointKey, cpBytes)
	}, func() {})
}

// Advance writes cp for the account's current attempt. The progress may stay
// the same or move forward, never back.
func (s *Store) Advance(id account.ID, cp *Checkpoint) error {
	cpBytes, err := encodeToBytes(cp.encode)
	if err != nil {
		return err
	}

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bucket, err := accountBucket(tx, id)
		if err != nil {
			return err
		}

		v := bucket.Get(attemptKey)
		if v == nil {
			return ErrUnknownAttempt
		}
		attempt, err := decodeAttempt(bytes.NewReader(v))
		if err != nil {
			return err
		}
		if attempt.ID != cp.AttemptID {
			return fmt.Errorf("%w: %v", ErrUnknownAttempt,
				cp.AttemptID)
		}

		if v := bucket.Get(checkpointKey); v != nil {
			current, err := decodeCheckpoint(bytes.NewReader(v))
			if err != nil {
				return err
			}
			if cp.Progress < current.Progress {
				return fmt.Errorf("%w: %v to %v",
					ErrCheckpointRegression,
					current.Progress, cp.Progress)
			}
		}

		return bucket.Put(checkpointKey, cpBytes)
	}, func() {})
}

// FetchAttempt returns the account's current attempt, if any.
func (s *Store) FetchAttempt(id account.ID) (fn.Option[Attempt], error) {
	var attempt *Attempt
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		v, err := fetch(tx, id, attemptKey)
		if err != nil || v == nil {
			return err
		}

		attempt, err = decodeAttempt(bytes.NewReader(v))

		return err
	}, func() {
		attempt = nil
	})
	if err != nil {
		return fn.None[Attempt](), err
	}
	if attempt == nil {
		return fn.None[Attempt](), nil
	}

	return fn.Some(*attempt), nil
}

// FetchCheckpoint returns the account's checkpoint. An account without one
// is at ProgressNone.
func (s *Store) FetchCheckpoint(id account.ID) (*Checkpoint, error) {
	var cp *Checkpoint
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		v, err := fetch(tx, id, checkpointKey)
		if err != nil || v == nil {
			return err
		}

		cp, err = decodeCheckpoint(bytes.NewReader(v))

		return err
	}, func() {
		cp = nil
	})
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return &Checkpoint{Progress: ProgressNone}, nil
	}

	return cp, nil
}

// Clear removes the account's attempt and checkpoint. Clearing an account
// without an attempt is not an error.
func (s *Store) Clear(id account.ID) error {
	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		root := tx.ReadWriteBucket(recoveryBucket)
		if root == nil {
			return kvdb.ErrBucketNotFound
		}

		if root.NestedReadWriteBucket([]byte(id)) == nil {
			return nil
		}

		return root.DeleteNestedBucket([]byte(id))
	}, func() {})
}

func accountBucket(tx kvdb.RwTx, id account.ID) (kvdb.RwBucket, error) {
	root := tx.ReadWriteBucket(recoveryBucket)
	if root == nil {
		return nil, kvdb.ErrBucketNotFound
	}

	return root.CreateBucketIfNotExists([]byte(id))
}

func fetch(tx kvdb.RTx, id account.ID, key []byte) ([]byte, error) {
	root := tx.ReadBucket(recoveryBucket)
	if root == nil {
		return nil, kvdb.ErrBucketNotFound
	}

	bucket := root.NestedReadBucket([]byte(id))
	if bucket == nil {
		return nil, nil
	}

	return bucket.Get(key), nil
}
