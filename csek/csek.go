package csek

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/recoverykit/sealer"
)

var (
	// sealedCsekBucket holds one sealed CSEK per in-flight completion
	// attempt, keyed by attempt id.
	sealedCsekBucket = []byte("sealed-csek")

	// ErrEmptyAttemptID is returned when a sealed CSEK is addressed
	// without an attempt id.
	ErrEmptyAttemptID = errors.New("attempt id must not be empty")
)

// Csek is a raw content encryption key for cloud backups. It must never be
// written to durable storage or the network.
type Csek []byte

// Generate returns a fresh random Csek.
func Generate() (Csek, error) {
	key, err := sealer.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("unable to generate csek: %w", err)
	}

	return key, nil
}

// Sealed is a Csek wrapped by the hardware factor.
type Sealed struct {
	// Key is the sealed key blob as returned by the hardware.
	Key []byte

	// CreatedAt is when the key was sealed.
	CreatedAt time.Time
}

func (s *Sealed) encode(w io.Writer) error {
	key := tlv.NewPrimitiveRecord[tlv.TlvType0](s.Key)
	created := tlv.NewPrimitiveRecord[tlv.TlvType1](
		uint64(s.CreatedAt.UnixNano()),
	)

	stream, err := tlv.NewStream(key.Record(), created.Record())
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

func decodeSealed(r io.Reader) (*Sealed, error) {
	key := tlv.ZeroRecordT[tlv.TlvType0, []byte]()
	created := tlv.ZeroRecordT[tlv.TlvType1, uint64]()

	stream, err := tlv.NewStream(key.Record(), created.Record())
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	return &Sealed{
		Key:       key.Val,
		CreatedAt: time.Unix(0, int64(created.Val)),
	}, nil
}

// Store is the sealed CSEK dao. Every write is a single kvdb transaction,
// so a failed write leaves the previous value in place.
type Store struct {
	db kvdb.Backend
}

// NewStore creates the sealed CSEK bucket if needed and returns a Store.
func NewStore(db kvdb.Backend) (*Store, error) {
	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(sealedCsekBucket)
		return err
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to create csek bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Put stores the sealed key for an attempt, replacing any previous one.
func (s *Store) Put(attemptID string, sealed *Sealed) error {
	if attemptID == "" {
		return ErrEmptyAttemptID
	}

	var b bytes.Buffer
	if err := sealed.encode(&b); err != nil {
		return err
	}

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(sealedCsekBucket)
		if bucket == nil {
			return kvdb.ErrBucketNotFound
		}

		return bucket.Put([]byte(attemptID), b.Bytes())
	}, func() {})
}

// Get returns the sealed key for an attempt, if one is stored.
func (s *Store) Get(attemptID string) (fn.Option[Sealed], error) {
	var sealed *Sealed
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(sealedCsekBucket)
		if bucket == nil {
			return kvdb.ErrBucketNotFound
		}

		v := bucket.Get([]byte(attemptID))
		if v == nil {
			return nil
		}

		var err error
		sealed, err = decodeSealed(bytes.NewReader(v))

		return err
	}, func() {
		sealed = nil
	})
	if err != nil {
		return fn.None[Sealed](), err
	}
	if sealed == nil {
		return fn.None[Sealed](), nil
	}

	return fn.Some(*sealed), nil
}

// Delete removes the sealed key for an attempt. Deleting a missing key is
// not an error.
func (s *Store) Delete(attemptID string) error {
	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(sealedCsekBucket)
		if bucket == nil {
			return kvdb.ErrBucketNotFound
		}

		return bucket.Delete([]byte(attemptID))
	}, func() {})
}
