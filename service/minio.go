package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/AnTengye/casedesk/config"
)

// DocumentStorage holds uploaded files
type DocumentStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	GetPresignedURL(ctx context.Context, objectName string) (string, error)
	DeleteFile(ctx context.Context, objectName string) error
}

type MinioService struct {
	client *minio.Client
	bucket string
	config *config.MinioConfig
}

func NewMinioService(cfg *config.MinioConfig) (*MinioService, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioService{
		client: client,
		bucket: cfg.Bucket,
		config: cfg,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (s *MinioService) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// maxPresignExpiry is the longest lifetime S3 accepts for a presigned URL
const maxPresignExpiry = 7 * 24 * time.Hour

// UploadFile stores a client or strategy document under objectName
func (s *MinioService) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: attachment(objectName),
	})
	if err != nil {
		return fmt.Errorf("failed to upload document %s: %w", objectName, err)
	}

	return nil
}

// GetPresignedURL returns a download link for a stored document. The link
// downloads under the document's original file name.
func (s *MinioService) GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", attachment(objectName))

	link, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, presignExpiry(s.config.ExpireDays), params)
	if err != nil {
		return "", fmt.Errorf("failed to generate download link: %w", err)
	}

	return link.String(), nil
}

// DeleteFile removes a stored document. The workflow uses it to roll back
// an upload whose record could not be saved.
func (s *MinioService) DeleteFile(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", objectName, err)
	}

	return nil
}

func presignExpiry(days int) time.Duration {
	expiry := time.Duration(days) * 24 * time.Hour
	if expiry <= 0 || expiry > maxPresignExpiry {
		return maxPresignExpiry
	}
	return expiry
}

func attachment(objectName string) string {
	return fmt.Sprintf("attachment; filename=%q", path.Base(objectName))
}

// ObjectKey builds the storage key of a document: <agreement>/<document>/<filename>
func ObjectKey(agreementID, documentID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return fmt.Sprintf("%s/%s/%s", agreementID, documentID, name)
}
