package cloudstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput,
		optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)

	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)

	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput,
		optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)

	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input,
		optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds the connection settings of an S3 compatible bucket.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	Secret    string
}

// S3Store is a Store that keeps each value in an object under a per-account
// prefix.
type S3Store struct {
	client S3API
	bucket string
}

// A compile time check to ensure S3Store implements the Store interface.
var _ Store = (*S3Store)(nil)

// NewS3Store wraps an S3 client.
func NewS3Store(client S3API, bucket string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
	}
}

// DialS3 builds an S3 client from static credentials and wraps it in an
// S3Store.
func DialS3(ctx context.Context, cfg *S3Config) (*S3Store, error) {
	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		cfg.AccessKey, cfg.Secret, "",
	))
	awsConf, err := config.LoadDefaultConfig(
		ctx, config.WithCredentialsProvider(creds),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsConf, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3Store(client, cfg.Bucket), nil
}

// Get returns the value stored under key.
//
// NOTE: This is part of the Store interface.
func (s *S3Store) Get(ctx context.Context, acct Account,
	key string) (fn.Option[string], error) {

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key(acct, key)),
	})
	if err != nil {
		var noKey *s3Types.NoSuchKey
		if errors.As(err, &noKey) {
			return fn.None[string](), nil
		}

		return fn.None[string](), classifyS3Error(OpGet, key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return fn.None[string](), &CloudError{
			Op:  OpGet,
			Key: key,
			Err: err,
		}
	}

	return fn.Some(string(body)), nil
}

// Set stores value under key.
//
// NOTE: This is part of the Store interface.
func (s *S3Store) Set(ctx context.Context, acct Account, key,
	value string) error {

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key(acct, key)),
		Body:   strings.NewReader(value),
	})
	if err != nil {
		return classifyS3Error(OpSet, key, err)
	}

	return nil
}

// Remove deletes key.
//
// NOTE: This is part of the Store interface.
func (s *S3Store) Remove(ctx context.Context, acct Account,
	key string) error {

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s3Key(acct, key)),
	})
	if err != nil {
		var noKey *s3Types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}

		return classifyS3Error(OpRemove, key, err)
	}

	return nil
}

// ListKeys pages through the account prefix.
//
// NOTE: This is part of the Store interface.
func (s *S3Store) ListKeys(ctx context.Context,
	acct Account) ([]string, error) {

	prefix := s3Key(acct, "")
	paginator := s3.NewListObjectsV2Paginator(s.client,
		&s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		},
	)

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3Error(OpListKeys, "", err)
		}

		for _, obj := range page.Contents {
			keys = append(
				keys, strings.TrimPrefix(aws.ToString(obj.Key), prefix),
			)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

// s3Key maps an account scoped key to an object key.
func s3Key(acct Account, key string) string {
	return acct.ID + "/" + key
}

// classifyS3Error wraps an S3 failure, attaching rectification data for the
// error codes the user can fix.
func classifyS3Error(op Op, key string, err error) *CloudError {
	cloudErr := &CloudError{
		Op:            op,
		Key:           key,
		Err:           err,
		Rectification: fn.None[Rectification](),
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return cloudErr
	}

	switch apiErr.ErrorCode() {
	case "AccessDenied", "AllAccessDisabled":
		cloudErr.Rectification = fn.Some(Rectification{
			Kind: RectifyPermission,
		})

	case "QuotaExceeded", "ServiceQuotaExceededException",
		"EntityTooLarge":

		cloudErr.Rectification = fn.Some(Rectification{
			Kind: RectifyQuota,
		})

	case "ExpiredToken", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		cloudErr.Rectification = fn.Some(Rectification{
			Kind: RectifySignIn,
		})
	}

	return cloudErr
}
