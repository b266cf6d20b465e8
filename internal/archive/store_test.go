package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Upload(t *testing.T) {
	p := &fakePutter{}
	u := newS3Uploader(p, S3Config{
		Bucket:        "audits-public",
		PublicBaseURL: "https://cdn.example/",
		AppID:         "Tranquility-Audit",
	}, zap.NewNop())

	rcpt, err := u.Upload(context.Background(), []byte(`{"x":1}`))
	if err != nil {
		t.Fatal(err)
	}

	in := p.inputs[0]
	key := aws.ToString(in.Key)
	if !strings.HasPrefix(key, "audits/") || !strings.HasSuffix(key, ".json") {
		t.Errorf("unexpected key %q", key)
	}
	if aws.ToString(in.Bucket) != "audits-public" {
		t.Errorf("bucket: got %q", aws.ToString(in.Bucket))
	}
	if aws.ToString(in.ContentType) != "application/json" {
		t.Errorf("content type: got %q", aws.ToString(in.ContentType))
	}
	if in.Metadata["app-name"] != "Tranquility-Audit" {
		t.Errorf("metadata: got %v", in.Metadata)
	}
	if string(p.bodies[0]) != `{"x":1}` {
		t.Errorf("body: got %s", p.bodies[0])
	}
	if rcpt.ID != key || rcpt.URL != "https://cdn.example/"+key {
		t.Errorf("receipt: got %+v", rcpt)
	}
	if !rcpt.Cost.IsZero() {
		t.Errorf("cost: got %s, want 0", rcpt.Cost)
	}
}

func TestS3Upload_error(t *testing.T) {
	u := newS3Uploader(&fakePutter{err: errors.New("access denied")}, S3Config{Bucket: "b", PublicBaseURL: "https://x"}, zap.NewNop())
	if _, err := u.Upload(context.Background(), []byte(`{}`)); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
}

func TestNewS3Uploader_requiresBucket(t *testing.T) {
	if _, err := NewS3Uploader(S3Config{}, zap.NewNop()); err == nil {
		t.Fatal("expected error for empty config")
	}
}

type fakeWriter struct {
	buf      bytes.Buffer
	closeErr error
	closed   bool
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func TestGCSUpload(t *testing.T) {
	var (
		gotBucket, gotName string
		gotAttrs           storage.ObjectAttrs
		w                  = &fakeWriter{}
	)
	u := newGCSUploader(func(_ context.Context, bucket, name string, attrs storage.ObjectAttrs) io.WriteCloser {
		gotBucket, gotName, gotAttrs = bucket, name, attrs
		return w
	}, GCSConfig{Bucket: "notary", AppID: "Tranquility-Audit"}, zap.NewNop())

	rcpt, err := u.Upload(context.Background(), []byte(`{"y":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if gotBucket != "notary" || !strings.HasPrefix(gotName, "audits/") {
		t.Errorf("object: got %s/%s", gotBucket, gotName)
	}
	if gotAttrs.PredefinedACL != "publicRead" || gotAttrs.ContentType != "application/json" {
		t.Errorf("attrs: got %+v", gotAttrs)
	}
	if gotAttrs.Metadata["App-Name"] != "Tranquility-Audit" {
		t.Errorf("metadata: got %v", gotAttrs.Metadata)
	}
	if !w.closed || w.buf.String() != `{"y":2}` {
		t.Errorf("writer: closed=%v body=%s", w.closed, w.buf.String())
	}
	if rcpt.URL != "https://storage.googleapis.com/notary/"+gotName {
		t.Errorf("URL: got %q", rcpt.URL)
	}
	if err := u.Close(); err != nil {
		t.Errorf("Close without client: %v", err)
	}
}

func TestGCSUpload_closeError(t *testing.T) {
	u := newGCSUploader(func(context.Context, string, string, storage.ObjectAttrs) io.WriteCloser {
		return &fakeWriter{closeErr: errors.New("googleapi: 403")}
	}, GCSConfig{Bucket: "notary"}, zap.NewNop())

	if _, err := u.Upload(context.Background(), []byte(`{}`)); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
}
