// Package webhooks notifies external systems when an audit is completed.
// Each event is POSTed to every configured URL with an HMAC-SHA256
// signature of the body in the X-Notary-Signature header.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/auditnotary/internal/audit/model"
	"github.com/jmerrifield20/auditnotary/internal/notary"
)

// SignatureHeader carries "sha256=<hex hmac>" of the request body.
const SignatureHeader = "X-Notary-Signature"

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Notifier delivers completion events to a fixed set of subscriber URLs.
type Notifier struct {
	urls       []string
	secret     []byte
	httpClient *http.Client
	// delays[i] is slept before attempt i+1.
	delays    []time.Duration
	onMetrics MetricsRecorder
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// NewNotifier creates a Notifier. secret signs every body.
func NewNotifier(urls []string, secret string, logger *zap.Logger) *Notifier {
	return &Notifier{
		urls:       urls,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Retry after 1s, then 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// AuditCompleted implements notary.Notifier. Deliveries run in the
// background and outlive the request that triggered them.
func (n *Notifier) AuditCompleted(ctx context.Context, res *notary.Result) {
	eventType := EventAuditCompleted
	if res.Tier != model.TierFull {
		eventType = EventAuditDegraded
	}
	n.Dispatch(context.WithoutCancel(ctx), eventType, CompletionPayload(res))
}

// CompletionPayload flattens a completion result into event fields.
func CompletionPayload(res *notary.Result) map[string]string {
	a := res.Audit
	p := map[string]string{
		"audit_id":      a.ID.String(),
		"title":         a.Title,
		"type_key":      a.TypeKey,
		"tier":          string(res.Tier),
		"upload_status": string(res.Upload.Status),
		"anchor_status": string(res.Anchor.Status),
	}
	if a.IntegrityHash != nil {
		p["integrity_hash"] = *a.IntegrityHash
	}
	if a.ContentURL != nil {
		p["content_url"] = *a.ContentURL
	}
	if a.LedgerTransactionID != nil {
		p["ledger_transaction_id"] = *a.LedgerTransactionID
	}
	return p
}

// Dispatch fans out an event to every subscriber.
func (n *Notifier) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	if len(n.urls) == 0 {
		return
	}
	body, err := json.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		n.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}
	signature := signPayload(body, n.secret)

	for _, u := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			n.deliver(ctx, url, eventType, body, signature)
		}(u)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// deliver sends the event to a single URL with retries.
func (n *Notifier) deliver(ctx context.Context, url, eventType string, body []byte, signature string) {
	for attempt := 1; attempt <= len(n.delays); attempt++ {
		if d := n.delays[attempt-1]; d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
		}

		d := n.doDelivery(ctx, url, body, signature)
		d.EventType, d.Attempt = eventType, attempt

		if n.onMetrics != nil {
			n.onMetrics(d.Success)
		}
		if d.Success {
			return
		}
		n.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.String("event", eventType),
			zap.Int("attempt", attempt),
			zap.String("error", d.ErrorMessage),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (n *Notifier) doDelivery(ctx context.Context, url string, body []byte, signature string) Delivery {
	d := Delivery{URL: url}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.ErrorMessage = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		d.ErrorMessage = err.Error()
		return d
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	d.StatusCode = resp.StatusCode
	d.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !d.Success {
		d.ErrorMessage = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return d
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(signPayload(body, []byte(secret))), []byte(signature))
}
