package archive

import (
	"context"

	"go.uber.org/zap"
)

// Disabled is the Uploader used when no object store is configured. Every
// upload fails, which puts completions into hash-only mode.
type Disabled struct {
	logger *zap.Logger
}

// NewDisabled creates a Disabled uploader.
func NewDisabled(logger *zap.Logger) *Disabled {
	return &Disabled{logger: logger}
}

// Upload logs the skipped upload and returns ErrUploadFailed.
func (d *Disabled) Upload(_ context.Context, payload []byte) (*Receipt, error) {
	d.logger.Debug("archive upload skipped (no backend configured)", zap.Int("bytes", len(payload)))
	return nil, failf("no archive backend configured")
}

// Backend implements Uploader.
func (d *Disabled) Backend() string { return "none" }
