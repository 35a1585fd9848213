package authstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// MinioConfig reúne os parâmetros de conexão com o object store
type MinioConfig struct {
	Address   string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioStorage implementa ObjectStorage sobre um servidor S3-compatível
type MinioStorage struct {
	client *minio.Client
	logger logger.Logger
}

// NewMinioStorage conecta ao object store e valida a credencial
func NewMinioStorage(cfg MinioConfig, log logger.Logger) (*MinioStorage, error) {
	client, err := minio.New(cfg.Address, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	return &MinioStorage{
		client: client,
		logger: log.WithComponent("object-storage"),
	}, nil
}

func (m *MinioStorage) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (m *MinioStorage) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject é lazy; Stat força o erro de objeto inexistente agora
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

func (m *MinioStorage) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for info := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, info.Err
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}

func (m *MinioStorage) Remove(ctx context.Context, bucket, key string) error {
	return m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func (m *MinioStorage) PresignedGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Ping verifica a conectividade com o object store
func (m *MinioStorage) Ping(ctx context.Context, bucket string) error {
	_, err := m.client.BucketExists(ctx, bucket)
	return err
}

func (m *MinioStorage) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		// Outra instância pode ter criado o bucket entre as duas chamadas
		if exists, checkErr := m.client.BucketExists(ctx, bucket); checkErr == nil && exists {
			return nil
		}
		return err
	}

	m.logger.Info().Str("bucket", bucket).Msg("Bucket created")
	return nil
}
