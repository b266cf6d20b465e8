package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/auditnotary/internal/canonical"
	"github.com/jmerrifield20/auditnotary/internal/notary"
)

// errMismatch makes the process exit non-zero when evidence does not verify.
var errMismatch = errors.New("integrity hash mismatch")

// maxPayloadBytes bounds a downloaded payload.
const maxPayloadBytes = 16 << 20

// ── hash ─────────────────────────────────────────────────────────────────────

var hashCmd = &cobra.Command{
	Use:   "hash <file.json>",
	Short: "Print the canonical SHA-256 of a JSON document",
	Long: `hash canonicalizes a JSON document (sorted keys, no whitespace, literal
UTF-8) and prints its SHA-256. Use "-" to read standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		h, err := hashJSON(data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), h)
		return nil
	},
}

func hashJSON(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("parse JSON: %w", err)
	}
	return canonical.Hash(v)
}

// ── memo ─────────────────────────────────────────────────────────────────────

var (
	memoURL  string
	memoHash string
)

var memoCmd = &cobra.Command{
	Use:   "memo",
	Short: "Print the proof memo for a locator URL and hash",
	RunE: func(cmd *cobra.Command, args []string) error {
		if memoHash == "" {
			return errors.New("--hash is required")
		}
		fmt.Fprint(cmd.OutOrStdout(), notary.BuildMemo(memoURL, memoHash))
		return nil
	},
}

func init() {
	memoCmd.Flags().StringVar(&memoURL, "url", "", "Locator URL of the published payload (N/A when empty)")
	memoCmd.Flags().StringVar(&memoHash, "hash", "", "Integrity hash")
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyLocator string
	verifyHash    string
	verifyMemo    string
)

var verifyCmd = &cobra.Command{
	Use:   "verify <payload.json>",
	Short: "Recompute an audit's integrity hash from its published payload",
	Long: `verify rebuilds the hashed record from a published payload and the
locator it was stored under, and compares the result with the expected hash.

The expected hash and locator URL can be given directly or taken from the
memo text found on the ledger:

  notary verify payload.json --locator abc123 --hash 9f86d0...
  notary verify payload.json --memo "$(cat memo.txt)"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		expected, locator, err := expectation(verifyHash, verifyLocator, verifyMemo)
		if err != nil {
			return err
		}
		return report(cmd, data, locator, expected)
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyLocator, "locator", "", "Archive locator (receipt id); empty means the payload was never published")
	verifyCmd.Flags().StringVar(&verifyHash, "hash", "", "Expected integrity hash")
	verifyCmd.Flags().StringVar(&verifyMemo, "memo", "", "Ledger memo text; supplies --hash and the locator")
}

// ── fetch-verify ─────────────────────────────────────────────────────────────

var (
	fetchHash    string
	fetchLocator string
	fetchTimeout time.Duration
)

var fetchVerifyCmd = &cobra.Command{
	Use:   "fetch-verify <url>",
	Short: "Download a published payload and verify it",
	Long: `fetch-verify downloads the payload at url and runs verify on it. The
locator defaults to the last path segment of url, which is the receipt id
for the bundler gateway.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if fetchHash == "" {
			return errors.New("--hash is required")
		}
		locator := fetchLocator
		if locator == "" {
			var err error
			if locator, err = locatorFromURL(args[0]); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
		defer cancel()
		data, err := fetch(ctx, args[0])
		if err != nil {
			return err
		}
		return report(cmd, data, &locator, fetchHash)
	},
}

func init() {
	fetchVerifyCmd.Flags().StringVar(&fetchHash, "hash", "", "Expected integrity hash")
	fetchVerifyCmd.Flags().StringVar(&fetchLocator, "locator", "", "Archive locator; defaults to the last URL path segment")
	fetchVerifyCmd.Flags().DurationVar(&fetchTimeout, "timeout", 30*time.Second, "Download timeout")
}

// ── check ────────────────────────────────────────────────────────────────────

var checkCmd = &cobra.Command{
	Use:   "check <audit-id>",
	Short: "Ask auditd to re-verify a stored audit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		endpoint := strings.TrimRight(serverURL, "/") + "/api/v1/audits/" + url.PathEscape(args[0]) + "/verification"
		data, err := fetch(ctx, endpoint)
		if err != nil {
			return err
		}
		var v notary.Verification
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode verification: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "audit:    %s\ntier:     %s\nmatches:  %t\n", v.AuditID, v.Tier, v.Matches)
		if v.LedgerTransactionID != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "ledger:   %s\n", *v.LedgerTransactionID)
		}
		if v.Reason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "reason:   %s\n", v.Reason)
		}
		if !v.Matches {
			return errMismatch
		}
		return nil
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

// expectation resolves the expected hash and locator from flags or a memo.
func expectation(hash, locator, memo string) (string, *string, error) {
	if memo != "" {
		memoURL, memoHash, err := notary.ParseMemo(memo)
		if err != nil {
			return "", nil, err
		}
		if hash != "" && hash != memoHash {
			return "", nil, errors.New("--hash disagrees with the memo")
		}
		hash = memoHash
		if locator == "" && memoURL != "" {
			if locator, err = locatorFromURL(memoURL); err != nil {
				return "", nil, err
			}
		}
	}
	if hash == "" {
		return "", nil, errors.New("--hash or --memo is required")
	}
	if locator == "" {
		return hash, nil, nil
	}
	return hash, &locator, nil
}

func report(cmd *cobra.Command, data []byte, locator *string, expected string) error {
	computed, ok, err := notary.VerifyPayload(data, locator, expected)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "computed: %s\nexpected: %s\n", computed, expected)
	if !ok {
		return errMismatch
	}
	fmt.Fprintln(cmd.OutOrStdout(), "OK")
	return nil
}

// locatorFromURL returns the last non-empty path segment of raw.
func locatorFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	if seg == "" || seg == "." || seg == "/" {
		return "", fmt.Errorf("cannot derive a locator from %q; pass --locator", raw)
	}
	return seg, nil
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

func fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
}
