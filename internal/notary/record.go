// Package notary turns a completed audit into verifiable evidence: it
// publishes the checklist, hashes it together with where it was published,
// and anchors that hash on a public ledger.
package notary

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/auditnotary/internal/audit/model"
	"github.com/jmerrifield20/auditnotary/internal/canonical"
)

// DefaultAppID is the auditor_application tag on published payloads.
const DefaultAppID = "Tranquility-Audit"

// NoLocator replaces the locator URL in a memo when nothing was published.
const NoLocator = "N/A"

const memoHeader = "Verifiable Audit Record"

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ExtractVerifiableContent returns the checklist from state, the only part
// of an audit that is ever published. Anything other than a sequence yields
// an empty one.
func ExtractVerifiableContent(state model.State) []any {
	if items, ok := state["checklist"].([]any); ok {
		return items
	}
	return []any{}
}

// PayloadMetadata describes a published checklist.
type PayloadMetadata struct {
	Title              string `json:"title"`
	Type               string `json:"type"`
	Timestamp          string `json:"timestamp"`
	AuditorApplication string `json:"auditor_application"`
}

// Payload is the JSON document uploaded to the archive.
type Payload struct {
	Metadata PayloadMetadata `json:"metadata"`
	Content  []any           `json:"content"`
}

// CompositeRecord is exactly what the integrity hash covers.
type CompositeRecord struct {
	Title          string  `json:"title"`
	TypeKey        string  `json:"typeKey"`
	Content        []any   `json:"content"`
	Timestamp      string  `json:"timestamp"`
	ContentLocator *string `json:"contentLocator"`
}

// RecordFromPayload rebuilds the hashed record from a published payload and
// the locator it was fetched from. This is the computation a third party runs.
func RecordFromPayload(p *Payload, locator *string) CompositeRecord {
	content := p.Content
	if content == nil {
		content = []any{}
	}
	return CompositeRecord{
		Title:          p.Metadata.Title,
		TypeKey:        p.Metadata.Type,
		Content:        content,
		Timestamp:      p.Metadata.Timestamp,
		ContentLocator: locator,
	}
}

// Hash returns the canonical SHA-256 of the record.
func (r CompositeRecord) Hash() (string, error) {
	return canonical.Hash(r)
}

// DecodePayload parses a published payload keeping number literals intact.
func DecodePayload(data []byte) (*Payload, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}

// BuildMemo renders the three-line proof memo. An empty locatorURL is
// written as N/A.
func BuildMemo(locatorURL, hash string) string {
	if locatorURL == "" {
		locatorURL = NoLocator
	}
	return memoHeader + "\nURL:" + locatorURL + "\nHASH:" + hash + "\n"
}

// ErrMalformedMemo is returned by ParseMemo.
var ErrMalformedMemo = errors.New("malformed memo")

// ParseMemo extracts the locator URL and hash from a memo produced by
// BuildMemo. A URL of N/A is returned as "".
func ParseMemo(memo string) (locatorURL, hash string, err error) {
	sc := bufio.NewScanner(strings.NewReader(memo))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 3 || lines[0] != memoHeader || !strings.HasSuffix(memo, "\n") {
		return "", "", ErrMalformedMemo
	}
	u, ok := strings.CutPrefix(lines[1], "URL:")
	if !ok {
		return "", "", ErrMalformedMemo
	}
	h, ok := strings.CutPrefix(lines[2], "HASH:")
	if !ok || h == "" {
		return "", "", ErrMalformedMemo
	}
	if u == NoLocator {
		u = ""
	}
	return u, h, nil
}
