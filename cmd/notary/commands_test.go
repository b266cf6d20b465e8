package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jmerrifield20/auditnotary/internal/canonical"
	"github.com/jmerrifield20/auditnotary/internal/notary"
)

const samplePayload = `{
  "content": [{"status": "pass", "id": "1.1", "weight": 2.50}],
  "metadata": {
    "title": "Kitchen inspection",
    "type": "restaurant",
    "timestamp": "2024-03-05T14:07:09.123Z",
    "auditor_application": "Tranquility-Audit"
  }
}`

func expectedHash(t *testing.T, locator *string) string {
	t.Helper()
	p, err := notary.DecodePayload([]byte(samplePayload))
	if err != nil {
		t.Fatal(err)
	}
	h, err := notary.RecordFromPayload(p, locator).Hash()
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestHashJSON_orderIndependent(t *testing.T) {
	a, err := hashJSON([]byte(`{"b":1,"a":[true,null]}`))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := hashJSON([]byte("{\n  \"a\": [true, null],\n  \"b\": 1\n}"))
	if a != b {
		t.Error("whitespace and key order must not change the hash")
	}
	if want, _ := canonical.Hash(map[string]any{"a": []any{true, nil}, "b": 1}); a != want {
		t.Errorf("got %s, want %s", a, want)
	}
	if _, err := hashJSON([]byte(`{`)); err == nil {
		t.Error("expected parse error")
	}
}

func TestLocatorFromURL(t *testing.T) {
	cases := map[string]string{
		"https://gateway.irys.xyz/abc123":   "abc123",
		"https://gateway.irys.xyz/abc123/":  "abc123",
		"https://cdn.example/audits/x.json": "x.json",
	}
	for in, want := range cases {
		got, err := locatorFromURL(in)
		if err != nil || got != want {
			t.Errorf("locatorFromURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := locatorFromURL("https://gateway.irys.xyz/"); err == nil {
		t.Error("expected error for a URL without path")
	}
}

func TestExpectation_fromMemo(t *testing.T) {
	memo := notary.BuildMemo("https://gateway.example/abc123", "cafe")

	hash, loc, err := expectation("", "", memo)
	if err != nil {
		t.Fatal(err)
	}
	if hash != "cafe" || loc == nil || *loc != "abc123" {
		t.Errorf("got (%q, %v)", hash, loc)
	}

	if _, _, err := expectation("beef", "", memo); err == nil {
		t.Error("conflicting --hash must be rejected")
	}

	hash, loc, err = expectation("", "", notary.BuildMemo("", "cafe"))
	if err != nil || hash != "cafe" || loc != nil {
		t.Errorf("N/A memo: got (%q, %v, %v)", hash, loc, err)
	}

	if _, _, err := expectation("", "", ""); err == nil {
		t.Error("missing hash must be rejected")
	}
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "payload.json")
	if err := os.WriteFile(file, []byte(samplePayload), 0o600); err != nil {
		t.Fatal(err)
	}
	loc := "abc123"
	want := expectedHash(t, &loc)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"verify", file, "--locator", "abc123", "--hash", want, "--memo", ""})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("verify: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "OK") {
		t.Errorf("unexpected output: %s", out.String())
	}

	out.Reset()
	rootCmd.SetArgs([]string{"verify", file, "--locator", "other", "--hash", want, "--memo", ""})
	if err := rootCmd.Execute(); !errors.Is(err, errMismatch) {
		t.Errorf("wrong locator: want errMismatch, got %v", err)
	}
}

func TestFetchVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/abc123" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(samplePayload)) //nolint:errcheck
	}))
	defer srv.Close()

	loc := "abc123"
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"fetch-verify", srv.URL + "/abc123", "--hash", expectedHash(t, &loc), "--locator", ""})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("fetch-verify: %v\n%s", err, out.String())
	}

	rootCmd.SetArgs([]string{"fetch-verify", srv.URL + "/missing", "--hash", "x", "--locator", ""})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error for a 404 payload")
	}
}

func TestCheck(t *testing.T) {
	id := uuid.New()
	matches := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/audits/"+id.String()+"/verification" {
			http.NotFound(w, r)
			return
		}
		tx := "5sigTx"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(notary.Verification{ //nolint:errcheck
			AuditID:             id,
			Tier:                "full",
			Matches:             matches,
			LedgerTransactionID: &tx,
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check", id.String(), "--server", srv.URL})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("check: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "ledger:   5sigTx") || !strings.Contains(out.String(), "matches:  true") {
		t.Errorf("unexpected output: %s", out.String())
	}

	matches = false
	rootCmd.SetArgs([]string{"check", id.String(), "--server", srv.URL})
	if err := rootCmd.Execute(); !errors.Is(err, errMismatch) {
		t.Errorf("want errMismatch, got %v", err)
	}
}
