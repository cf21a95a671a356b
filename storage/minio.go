package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"soundroom/config"
	"soundroom/logger"
)

// ArtworkStore serves cached track artwork out of a MinIO bucket so clients
// hit the object store instead of the upstream catalog CDN.
type ArtworkStore struct {
	client *minio.Client
	bucket string
}

// NewArtworkStore connects to MinIO and makes sure the artwork bucket exists.
func NewArtworkStore(cfg *config.Config) (*ArtworkStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("created artwork bucket", logger.String("bucket", cfg.MinioBucket))
	}

	logger.Info("connected to minio",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return &ArtworkStore{client: client, bucket: cfg.MinioBucket}, nil
}

// Get streams a stored object. The returned reader must be closed by the
// caller; size is -1 when the object store does not report one.
func (s *ArtworkStore) Get(ctx context.Context, objectName string) (io.ReadCloser, string, int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to get object %s: %w", objectName, err)
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, "", 0, fmt.Errorf("failed to stat object %s: %w", objectName, err)
	}
	return obj, stat.ContentType, stat.Size, nil
}

// Put uploads an object, overwriting any previous version.
func (s *ArtworkStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", objectName, err)
	}
	return nil
}

// Exists reports whether an object is already cached.
func (s *ArtworkStore) Exists(ctx context.Context, objectName string) bool {
	_, err := s.client.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{})
	return err == nil
}
