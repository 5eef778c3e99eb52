package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectPutter is the slice of *minio.Client the store needs.
type objectPutter interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

type Store struct {
	client     objectPutter
	bucketName string
	baseURL    string
}

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool, publicBaseURL string) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		slog.Info("created storage bucket", "bucket", bucket)
	}

	if publicBaseURL == "" {
		publicBaseURL = cli.EndpointURL().String()
	}
	return newStore(cli, bucket, publicBaseURL), nil
}

func newStore(client objectPutter, bucket, baseURL string) *Store {
	return &Store{client: client, bucketName: bucket, baseURL: baseURL}
}

// Upload puts the file at localPath under key and returns its public URL.
func (s *Store) Upload(ctx context.Context, localPath, key, contentType string) (string, error) {
	if contentType == "" {
		contentType = contentTypeFor(localPath)
	}
	_, err := s.client.FPutObject(ctx, s.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	// URL publik (bucket harus public-read), kalau private harus generate presigned URL
	return objectURL(s.baseURL, s.bucketName, key), nil
}

// UploadAndCleanup upload file ke MinIO dan hapus file lokal setelahnya, sukses maupun gagal
func (s *Store) UploadAndCleanup(ctx context.Context, localPath, key, contentType string) (string, error) {
	defer removeLocal(localPath)
	return s.Upload(ctx, localPath, key, contentType)
}

// Ping reports whether the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucketName)
	}
	return nil
}
