package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"bobbrain/internal/domain/vectorindex"
	applog "bobbrain/internal/platform/log"
)

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Object    string
	Secure    bool
}

// MinIOStore 把快照存为 S3 兼容对象存储中的单个对象，多副本共享同一份快照。
type MinIOStore struct {
	client *minio.Client
	bucket string
	object string
}

func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Object == "" {
		cfg.Object = "vector-index.snapshot"
	}
	c, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := c.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := c.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		applog.Info("[MinIO] bucket created", "bucket", cfg.Bucket)
	}
	return &MinIOStore{client: c, bucket: cfg.Bucket, object: cfg.Object}, nil
}

func (s *MinIOStore) Read(ctx context.Context) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.object, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.readErr(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.readErr(err)
	}
	return data, nil
}

func (s *MinIOStore) readErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return vectorindex.ErrSnapshotNotFound
	}
	return fmt.Errorf("read snapshot %s/%s: %w", s.bucket, s.object, err)
}

func (s *MinIOStore) Write(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/zstd"})
	if err != nil {
		return fmt.Errorf("write snapshot %s/%s: %w", s.bucket, s.object, err)
	}
	return nil
}
