package archive

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// S3Config configures an S3Uploader against AWS S3 or an S3-compatible store
// such as Cloudflare R2.
type S3Config struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	// Region defaults to "auto", which R2 expects.
	Region string
	// PublicBaseURL is the public read prefix objects are served under.
	PublicBaseURL string
	// Prefix is prepended to every object key. Default "audits".
	Prefix string
	AppID  string
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes each payload to a fresh object key. Storage is billed out
// of band, so receipts carry zero cost.
type S3Uploader struct {
	client objectPutter
	cfg    S3Config
	logger *zap.Logger
}

// NewS3Uploader builds the S3 client and returns an S3Uploader.
func NewS3Uploader(cfg S3Config, logger *zap.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("access key ID and secret access key are required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("public base URL is required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	opts := s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}
	return newS3Uploader(s3.New(opts), cfg, logger), nil
}

func newS3Uploader(client objectPutter, cfg S3Config, logger *zap.Logger) *S3Uploader {
	if cfg.Prefix == "" {
		cfg.Prefix = "audits"
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &S3Uploader{client: client, cfg: cfg, logger: logger}
}

// Backend implements Uploader.
func (u *S3Uploader) Backend() string { return "s3" }

// Upload stores payload under {prefix}/{uuid}.json.
func (u *S3Uploader) Upload(ctx context.Context, payload []byte) (*Receipt, error) {
	key := u.cfg.Prefix + "/" + uuid.New().String() + ".json"

	meta := make(map[string]string)
	for k, v := range Tags(u.cfg.AppID) {
		meta[strings.ToLower(k)] = v
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String(ContentType),
		ContentLength: aws.Int64(int64(len(payload))),
		Metadata:      meta,
	})
	if err != nil {
		return nil, wrapFailure("put object "+key, err)
	}

	u.logger.Info("payload archived", zap.String("key", key), zap.Int("bytes", len(payload)))
	return &Receipt{
		ID:   key,
		URL:  u.cfg.PublicBaseURL + "/" + key,
		Cost: decimal.Zero,
	}, nil
}
