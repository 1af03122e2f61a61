package server

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		secure = (u.Scheme == "https")
		return u.Host, secure, nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

// MinioUploader pushes registry backup snapshots to a MinIO bucket.
type MinioUploader struct {
	client *minio.Client
	bucket string
}

// NewMinioUploader builds the backup uploader from FP_S3_* environment
// variables. Returns an error when the configuration is incomplete, so
// callers can distinguish "not configured" from "misconfigured".
func NewMinioUploader() (*MinioUploader, error) {
	rawEndpoint := os.Getenv("FP_S3_ENDPOINT")
	accessKey := os.Getenv("FP_S3_ACCESS_KEY")
	secretKey := os.Getenv("FP_S3_SECRET_KEY")
	bucket := os.Getenv("FP_S3_BUCKET")

	if rawEndpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(rawEndpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	return &MinioUploader{client: client, bucket: bucket}, nil
}

// Upload sends one snapshot file to the bucket.
func (m *MinioUploader) Upload(localPath, objectName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, err := m.client.FPutObject(ctx, m.bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	return err
}
