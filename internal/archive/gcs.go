package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSConfig configures a GCSUploader.
type GCSConfig struct {
	Bucket string
	// CredentialsJSON is a service account key. Empty means application
	// default credentials.
	CredentialsJSON string
	// Prefix is prepended to every object name. Default "audits".
	Prefix string
	AppID  string
}

// objectWriterFunc opens a writer for bucket/name carrying attrs.
type objectWriterFunc func(ctx context.Context, bucket, name string, attrs storage.ObjectAttrs) io.WriteCloser

// GCSUploader writes each payload as a public-read object in a Google Cloud
// Storage bucket.
type GCSUploader struct {
	client    *storage.Client
	newWriter objectWriterFunc
	cfg       GCSConfig
	logger    *zap.Logger
}

// NewGCSUploader opens a storage client and returns a GCSUploader.
func NewGCSUploader(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*GCSUploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	u := newGCSUploader(func(ctx context.Context, bucket, name string, attrs storage.ObjectAttrs) io.WriteCloser {
		w := client.Bucket(bucket).Object(name).NewWriter(ctx)
		w.ContentType = attrs.ContentType
		w.Metadata = attrs.Metadata
		w.PredefinedACL = attrs.PredefinedACL
		return w
	}, cfg, logger)
	u.client = client
	return u, nil
}

func newGCSUploader(fn objectWriterFunc, cfg GCSConfig, logger *zap.Logger) *GCSUploader {
	if cfg.Prefix == "" {
		cfg.Prefix = "audits"
	}
	return &GCSUploader{newWriter: fn, cfg: cfg, logger: logger}
}

// Backend implements Uploader.
func (u *GCSUploader) Backend() string { return "gcs" }

// Upload stores payload under {prefix}/{uuid}.json.
func (u *GCSUploader) Upload(ctx context.Context, payload []byte) (*Receipt, error) {
	name := u.cfg.Prefix + "/" + uuid.New().String() + ".json"

	w := u.newWriter(ctx, u.cfg.Bucket, name, storage.ObjectAttrs{
		ContentType:   ContentType,
		Metadata:      Tags(u.cfg.AppID),
		PredefinedACL: "publicRead",
	})
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return nil, wrapFailure("write object "+name, err)
	}
	if err := w.Close(); err != nil {
		return nil, wrapFailure("close object "+name, err)
	}

	u.logger.Info("payload archived", zap.String("object", name), zap.Int("bytes", len(payload)))
	return &Receipt{
		ID:   name,
		URL:  fmt.Sprintf("https://storage.googleapis.com/%s/%s", u.cfg.Bucket, name),
		Cost: decimal.Zero,
	}, nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}
