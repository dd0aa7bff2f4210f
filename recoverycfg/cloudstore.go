package recoverycfg

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/recoverykit/cloudstore"
	"github.com/redis/go-redis/v9"
)

const (
	// CloudStoreMemory keeps backups in process memory. Only useful for
	// tests and dry runs.
	CloudStoreMemory = "memory"

	// CloudStoreRedis keeps backups in a redis instance.
	CloudStoreRedis = "redis"

	// CloudStoreS3 keeps backups in an S3 compatible bucket.
	CloudStoreS3 = "s3"
)

// Redis holds the redis connection settings.
//
//nolint:lll
type Redis struct {
	Addr     string `long:"addr" description:"host:port of the redis server."`
	Password string `long:"password" description:"Password of the redis server."`
	DB       int    `long:"db" description:"Redis logical database."`
}

// S3 holds the object storage settings.
//
//nolint:lll
type S3 struct {
	Bucket    string `long:"bucket" description:"Bucket holding the backups."`
	Region    string `long:"region" description:"Bucket region."`
	Endpoint  string `long:"endpoint" description:"Endpoint of an S3 compatible service. Empty for AWS."`
	AccessKey string `long:"accesskey" description:"Static access key id."`
	Secret    string `long:"secret" description:"Static secret access key."`
}

// CloudStore selects and configures the user's cloud key-value store.
//
//nolint:lll
type CloudStore struct {
	Backend string `long:"backend" description:"The cloud store backend." choice:"memory" choice:"redis" choice:"s3"`

	Account string `long:"account" description:"The cloud account the backups belong to."`

	Redis *Redis `group:"redis" namespace:"redis" description:"Redis settings."`

	S3 *S3 `group:"s3" namespace:"s3" description:"S3 settings."`
}

// DefaultCloudStore returns the default cloud store config.
func DefaultCloudStore() *CloudStore {
	return &CloudStore{
		Backend: CloudStoreMemory,
		Account: "default",
		Redis: &Redis{
			Addr: "localhost:6379",
		},
		S3: &S3{},
	}
}

// Validate validates the cloud store config.
//
// NOTE: This is part of the Validator interface.
func (c *CloudStore) Validate() error {
	if c.Account == "" {
		return fmt.Errorf("cloud account must be set")
	}

	switch c.Backend {
	case CloudStoreMemory:

	case CloudStoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr must be set")
		}

	case CloudStoreS3:
		if c.S3.Bucket == "" || c.S3.Region == "" {
			return fmt.Errorf("s3 bucket and region must be set")
		}

	default:
		return fmt.Errorf("unknown cloud store backend %q, must be "+
			"one of %q, %q or %q", c.Backend, CloudStoreMemory,
			CloudStoreRedis, CloudStoreS3)
	}

	return nil
}

// CloudAccount returns the configured cloud account.
func (c *CloudStore) CloudAccount() cloudstore.Account {
	return cloudstore.Account{ID: c.Account}
}

// Open connects to the configured backend.
func (c *CloudStore) Open(ctx context.Context) (cloudstore.Store, error) {
	switch c.Backend {
	case CloudStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})

		return cloudstore.NewRedisStore(client), nil

	case CloudStoreS3:
		return cloudstore.DialS3(ctx, &cloudstore.S3Config{
			Bucket:    c.S3.Bucket,
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			Secret:    c.S3.Secret,
		})
	}

	return cloudstore.NewMemoryStore(), nil
}
