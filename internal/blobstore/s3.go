package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures an S3Store.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	// CreateBucket makes the bucket on startup when it does not exist.
	CreateBucket bool
}

// S3Store keeps blobs in an S3 compatible bucket under <prefix>/<id>.
type S3Store struct {
	mc     *minio.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("s3 blobstore: endpoint and bucket are required")
	}
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 blobstore: %w", err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "payloads"
	}
	s := &S3Store{mc: mc, bucket: opts.Bucket, prefix: prefix}

	if opts.CreateBucket {
		exists, err := mc.BucketExists(ctx, opts.Bucket)
		if err != nil {
			return nil, fmt.Errorf("s3 blobstore: check bucket: %w", err)
		}
		if !exists {
			if err := mc.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("s3 blobstore: create bucket: %w", err)
			}
		}
	}
	return s, nil
}

// Key returns the object key for id.
func (s *S3Store) Key(id string) string {
	return path.Join(s.prefix, id)
}

func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	id := ID(data)
	if ok, err := s.Exists(ctx, id); err == nil && ok {
		return id, nil
	}
	_, err := s.mc.PutObject(ctx, s.bucket, s.Key(id), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", id, err)
	}
	return id, nil
}

func (s *S3Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	obj, err := s.mc.GetObject(ctx, s.bucket, s.Key(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", id, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("s3 read %s: %w", id, err)
	}
	if err := verify(id, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *S3Store) Exists(ctx context.Context, id string) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}
	_, err := s.mc.StatObject(ctx, s.bucket, s.Key(id), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3 stat %s: %w", id, err)
}

func (s *S3Store) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := s.mc.RemoveObject(ctx, s.bucket, s.Key(id), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3 delete %s: %w", id, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
