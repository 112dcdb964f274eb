package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
)

type fakeObjects struct {
	bucket      string
	key         string
	body        []byte
	contentType string
	err         error
}

func (f *fakeObjects) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.bucket, f.key, f.body, f.contentType = bucket, object, body, opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not implemented")
}

func TestPutPayload(t *testing.T) {
	objects := &fakeObjects{}
	store, err := newStore(objects, "retrigger-payloads")
	if err != nil {
		t.Fatalf("newStore() err=%v", err)
	}

	key, err := store.PutPayload(context.Background(), 3, "abc", []byte(`{"job_id":3}`))
	if err != nil {
		t.Fatalf("PutPayload() err=%v", err)
	}
	if key != "triggers/3/abc.json" || objects.key != key {
		t.Fatalf("key=%q stored=%q, want triggers/3/abc.json", key, objects.key)
	}
	if objects.bucket != "retrigger-payloads" || objects.contentType != "application/json" {
		t.Fatalf("bucket=%q contentType=%q", objects.bucket, objects.contentType)
	}
	if string(objects.body) != `{"job_id":3}` {
		t.Fatalf("body=%s", objects.body)
	}
}

func TestPutPayloadErrors(t *testing.T) {
	store, _ := newStore(&fakeObjects{err: errors.New("denied")}, "b")
	if _, err := store.PutPayload(context.Background(), 1, "id", nil); err == nil {
		t.Fatalf("PutPayload() expected error")
	}
	if _, err := store.PutPayload(context.Background(), 1, " ", nil); err == nil {
		t.Fatalf("PutPayload() expected error for blank trigger id")
	}
	if _, err := newStore(&fakeObjects{}, ""); err == nil {
		t.Fatalf("newStore() expected error for blank bucket")
	}
	if _, err := New(nil, "b"); err == nil {
		t.Fatalf("New() expected error for nil client")
	}
}
