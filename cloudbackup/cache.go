package cloudbackup

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/lightningnetwork/recoverykit/account"
)

// cacheBucket holds the last uploaded backup of each account.
var cacheBucket = []byte("cloud-backup-cache")

// CachedBackup is the local copy of the last backup written to the cloud.
type CachedBackup struct {
	Encoded  string
	CachedAt time.Time
}

func (c *CachedBackup) encode(w io.Writer) error {
	encoded := tlv.NewPrimitiveRecord[tlv.TlvType0]([]byte(c.Encoded))
	cachedAt := tlv.NewPrimitiveRecord[tlv.TlvType1](
		uint64(c.CachedAt.UnixNano()),
	)

	stream, err := tlv.NewStream(encoded.Record(), cachedAt.Record())
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

func decodeCachedBackup(r io.Reader) (*CachedBackup, error) {
	encoded := tlv.ZeroRecordT[tlv.TlvType0, []byte]()
	cachedAt := tlv.ZeroRecordT[tlv.TlvType1, uint64]()

	stream, err := tlv.NewStream(encoded.Record(), cachedAt.Record())
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	return &CachedBackup{
		Encoded:  string(encoded.Val),
		CachedAt: time.Unix(0, int64(cachedAt.Val)),
	}, nil
}

// Cache is the local backup cache.
type Cache struct {
	db kvdb.Backend
}

// NewCache creates the cache bucket if needed.
func NewCache(db kvdb.Backend) (*Cache, error) {
	err := kvdb.Update(db, func(tx kvdb.RwTx) error {
		_, err := tx.CreateTopLevelBucket(cacheBucket)
		return err
	}, func() {})
	if err != nil {
		return nil, fmt.Errorf("unable to create backup cache: %w", err)
	}

	return &Cache{db: db}, nil
}

// Put replaces the cached backup of id.
func (c *Cache) Put(id account.ID, cached *CachedBackup) error {
	var b bytes.Buffer
	if err := cached.encode(&b); err != nil {
		return err
	}

	return kvdb.Update(c.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(cacheBucket)
		if bucket == nil {
			return kvdb.ErrBucketNotFound
		}

		return bucket.Put([]byte(id), b.Bytes())
	}, func() {})
}

// Get returns the cached backup of id, if any.
func (c *Cache) Get(id account.ID) (fn.Option[CachedBackup], error) {
	var cached *CachedBackup
	err := kvdb.View(c.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(cacheBucket)
		if bucket == nil {
			return kvdb.ErrBucketNotFound
		}

		v := bucket.Get([]byte(id))
		if v == nil {
			return nil
		}

		var err error
		cached, err = decodeCachedBackup(bytes.NewReader(v))

		return err
	}, func() {
		cached = nil
	})
	if err != nil || cached == nil {
		return fn.None[CachedBackup](), err
	}

	return fn.Some(*cached), nil
}

// Delete drops the cached backup of id.
func (c *Cache) Delete(id account.ID) error {
	return kvdb.Update(c.db, func(tx kvdb.RwTx) error {
		bucket := tx.ReadWriteBucket(cacheBucket)
		if bucket == nil {
			return kvdb.ErrBucketNotFound
		}

		return bucket.Delete([]byte(id))
	}, func() {})
}
