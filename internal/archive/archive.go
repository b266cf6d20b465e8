// Package archive publishes notarization payloads to an immutable public
// object store and reports where they landed and what they cost.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUploadFailed wraps every failure surfaced by an Uploader.
var ErrUploadFailed = errors.New("archive upload failed")

// ContentType is the media type every payload is tagged with.
const ContentType = "application/json"

// Receipt describes one stored copy of a payload.
type Receipt struct {
	// ID is the store-assigned identifier (transaction id or object key).
	ID string `json:"id"`
	// URL is the globally resolvable locator for the stored payload.
	URL string `json:"url"`
	// Cost is the price charged, in the store's native currency.
	Cost decimal.Decimal `json:"cost"`
}

// Uploader stores a payload exactly once per call. Implementations perform no
// retries and no deduplication: two calls with the same bytes yield two copies.
type Uploader interface {
	Upload(ctx context.Context, payload []byte) (*Receipt, error)
	// Backend names the store for status reporting.
	Backend() string
}

// Tags returns the metadata attached to every stored payload.
func Tags(appID string) map[string]string {
	return map[string]string{
		"Content-Type": ContentType,
		"App-Name":     appID,
	}
}

func failf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUploadFailed, fmt.Sprintf(format, args...))
}

func wrapFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUploadFailed, op, err)
}
