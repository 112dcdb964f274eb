package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
)

const contentType = "application/json"

type objectAPI interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// Store writes trigger payloads to an object store bucket.
type Store struct {
	client objectAPI
	bucket string
}

func New(client *minio.Client, bucket string) (*Store, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	return newStore(client, bucket)
}

func newStore(client objectAPI, bucket string) (*Store, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	return &Store{client: client, bucket: bucket}, nil
}

func ObjectKey(jobID int64, triggerID string) string {
	return fmt.Sprintf("triggers/%d/%s.json", jobID, triggerID)
}

func (s *Store) PutPayload(ctx context.Context, jobID int64, triggerID string, body []byte) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("payload archive not initialized")
	}
	if strings.TrimSpace(triggerID) == "" {
		return "", errors.New("trigger id is required")
	}
	key := ObjectKey(jobID, triggerID)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put payload %s: %w", key, err)
	}
	return key, nil
}

func (s *Store) GetPayload(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("payload archive not initialized")
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get payload %s: %w", key, err)
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read payload %s: %w", key, err)
	}
	return body, nil
}
