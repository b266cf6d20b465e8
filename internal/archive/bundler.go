package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BundlerConfig configures a BundlerUploader.
type BundlerConfig struct {
	// NodeURL is the base URL of a signing bundler proxy, e.g.
	// http://localhost:8090.
	NodeURL string
	// GatewayURL is the public read gateway, e.g. https://gateway.irys.xyz.
	GatewayURL string
	// Currency is the payment token the node prices in, e.g. "solana".
	Currency string
	// Decimals converts atomic price units to whole tokens. Default 9.
	Decimals int32
	// Token is sent as a bearer credential on upload.
	Token string
	// AppID is sent as the App-Name tag.
	AppID   string
	Timeout time.Duration
}

// BundlerUploader publishes payloads through an HTTP bundler proxy that fronts
// a permanent storage network.
//
// Public Irys nodes only accept signed ANS-104 data items on /tx/{token}, so
// NodeURL must point at a proxy that accepts a raw body with X-Tag-* headers
// and a bearer token, signs the data item itself, and replies {"id": ...}.
// The proxy must also serve GET /price/{token}/{bytes} in atomic units, as the
// nodes do.
type BundlerUploader struct {
	cfg    BundlerConfig
	http   *http.Client
	logger *zap.Logger
}

// NewBundlerUploader creates a BundlerUploader.
func NewBundlerUploader(cfg BundlerConfig, logger *zap.Logger) *BundlerUploader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = 9
	}
	if cfg.Currency == "" {
		cfg.Currency = "solana"
	}
	cfg.NodeURL = strings.TrimRight(cfg.NodeURL, "/")
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	return &BundlerUploader{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Backend implements Uploader.
func (u *BundlerUploader) Backend() string { return "bundler" }

type bundlerReceipt struct {
	ID string `json:"id"`
}

// Upload prices the payload, submits it, and returns the gateway locator.
func (u *BundlerUploader) Upload(ctx context.Context, payload []byte) (*Receipt, error) {
	price, err := u.Price(ctx, len(payload))
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/tx/%s", u.cfg.NodeURL, u.cfg.Currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, wrapFailure("build upload request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range Tags(u.cfg.AppID) {
		req.Header.Set("X-Tag-"+k, v)
	}
	if u.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.cfg.Token)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, wrapFailure("upload to "+u.cfg.NodeURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, wrapFailure("read upload response", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, failf("bundler node returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rcpt bundlerReceipt
	if err := json.Unmarshal(body, &rcpt); err != nil {
		return nil, wrapFailure("decode upload response", err)
	}
	if rcpt.ID == "" {
		return nil, failf("bundler node returned an empty id")
	}

	u.logger.Info("payload archived",
		zap.String("id", rcpt.ID),
		zap.Int("bytes", len(payload)),
		zap.String("cost", price.String()),
	)
	return &Receipt{
		ID:   rcpt.ID,
		URL:  u.cfg.GatewayURL + "/" + rcpt.ID,
		Cost: price,
	}, nil
}

// Price asks the node what storing size bytes currently costs, in whole tokens.
func (u *BundlerUploader) Price(ctx context.Context, size int) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/price/%s/%d", u.cfg.NodeURL, u.cfg.Currency, size)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, wrapFailure("build price request", err)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return decimal.Zero, wrapFailure("price request to "+u.cfg.NodeURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, failf("price endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return decimal.Zero, wrapFailure("read price response", err)
	}

	atomic, err := decimal.NewFromString(strings.TrimSpace(string(body)))
	if err != nil {
		return decimal.Zero, wrapFailure("parse price", err)
	}
	if atomic.IsNegative() {
		return decimal.Zero, failf("negative price %s", atomic)
	}
	return atomic.Shift(-u.cfg.Decimals), nil
}

// Ping reports whether the node answers a zero-byte price query.
func (u *BundlerUploader) Ping(ctx context.Context) error {
	_, err := u.Price(ctx, 0)
	return err
}
