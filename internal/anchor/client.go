// Package anchor records short memos on the Solana ledger through the memo
// program and waits for the network to confirm them.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrNotConfigured is returned when no signing identity is loaded. No
	// network I/O happens in that case.
	ErrNotConfigured = errors.New("ledger signer not configured")
	// ErrAnchorFailed wraps rejections, unreachable endpoints and timeouts.
	ErrAnchorFailed = errors.New("ledger anchor failed")
)

// MemoProgramID is the SPL memo program.
var MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// MaxMemoBytes is the largest memo that fits a single-signature transaction.
const MaxMemoBytes = 566

// DefaultRPCURL is the public devnet endpoint.
const DefaultRPCURL = "https://api.devnet.solana.com"

// lamportsPerSOL expressed as a decimal exponent.
const solDecimals = 9

// RPC is the subset of the ledger JSON-RPC API the Client needs.
// *rpc.Client satisfies it.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetHealth(ctx context.Context) (string, error)
}

// Config tunes confirmation behaviour.
type Config struct {
	// Commitment is the level Anchor waits for. Default confirmed.
	Commitment rpc.CommitmentType
	// ConfirmTimeout bounds the whole submit-and-confirm sequence.
	ConfirmTimeout time.Duration
	// PollInterval is the delay between signature status queries.
	PollInterval time.Duration
	// LamportsPerSignature is used to report the network fee.
	LamportsPerSignature uint64
}

func (c Config) withDefaults() Config {
	if c.Commitment == "" {
		c.Commitment = rpc.CommitmentConfirmed
	}
	if c.ConfirmTimeout == 0 {
		c.ConfirmTimeout = 60 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.LamportsPerSignature == 0 {
		c.LamportsPerSignature = 5000
	}
	return c
}

// Anchor is the durable proof of a confirmed memo. TransactionID and
// Signature carry the same value.
type Anchor struct {
	TransactionID string `json:"transaction_id"`
	Signature     string `json:"signature"`
	// Fee is the network fee paid, in SOL.
	Fee decimal.Decimal `json:"fee"`
}

// Client submits memo transactions signed by one Signer.
type Client struct {
	rpc    RPC
	signer *Signer
	cfg    Config
	logger *zap.Logger
}

// NewClient dials nothing; the RPC client connects lazily. A nil signer
// yields a Client whose Anchor always returns ErrNotConfigured.
func NewClient(rpcURL string, signer *Signer, cfg Config, logger *zap.Logger) *Client {
	if rpcURL == "" {
		rpcURL = DefaultRPCURL
	}
	return NewClientWithRPC(rpc.New(rpcURL), signer, cfg, logger)
}

// NewClientWithRPC creates a Client over an existing RPC implementation.
func NewClientWithRPC(r RPC, signer *Signer, cfg Config, logger *zap.Logger) *Client {
	return &Client{rpc: r, signer: signer, cfg: cfg.withDefaults(), logger: logger}
}

// Available reports whether a signer is loaded.
func (c *Client) Available() bool {
	return c != nil && c.signer != nil
}

// Identity returns the signer's base58 address, or "" when not configured.
func (c *Client) Identity() string {
	if !c.Available() {
		return ""
	}
	return c.signer.PublicKey().String()
}

// Ping checks that the RPC node reports itself healthy.
func (c *Client) Ping(ctx context.Context) error {
	status, err := c.rpc.GetHealth(ctx)
	if err != nil {
		return err
	}
	if status != rpc.HealthOk {
		return fmt.Errorf("rpc node health: %s", status)
	}
	return nil
}

// Anchor submits memo in a single memo-program instruction and blocks until
// the transaction reaches the configured commitment, is rejected, or ctx ends.
func (c *Client) Anchor(ctx context.Context, memo []byte) (*Anchor, error) {
	if !c.Available() {
		return nil, ErrNotConfigured
	}
	if len(memo) == 0 {
		return nil, fmt.Errorf("%w: empty memo", ErrAnchorFailed)
	}
	if len(memo) > MaxMemoBytes {
		return nil, fmt.Errorf("%w: memo is %d bytes, limit %d", ErrAnchorFailed, len(memo), MaxMemoBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	payer := c.signer.PublicKey()
	recent, err := c.rpc.GetLatestBlockhash(ctx, c.cfg.Commitment)
	if err != nil {
		return nil, fmt.Errorf("%w: get latest blockhash: %v", ErrAnchorFailed, err)
	}
	if recent == nil || recent.Value == nil {
		return nil, fmt.Errorf("%w: empty blockhash response", ErrAnchorFailed)
	}

	instr := solana.NewInstruction(
		MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(payer, false, true)},
		memo,
	)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{instr},
		recent.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: build transaction: %v", ErrAnchorFailed, err)
	}
	if _, err := tx.Sign(c.signer.sign); err != nil {
		return nil, fmt.Errorf("%w: sign transaction: %v", ErrAnchorFailed, err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.cfg.Commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: send transaction: %v", ErrAnchorFailed, err)
	}

	if err := c.waitForConfirmation(ctx, sig); err != nil {
		c.logger.Warn("anchor transaction not confirmed",
			zap.String("signature", sig.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrAnchorFailed, err)
	}

	fee := decimal.NewFromInt(int64(c.cfg.LamportsPerSignature)).Shift(-solDecimals)
	c.logger.Info("memo anchored",
		zap.String("signature", sig.String()),
		zap.String("commitment", string(c.cfg.Commitment)),
		zap.String("fee_sol", fee.String()),
	)
	return &Anchor{
		TransactionID: sig.String(),
		Signature:     sig.String(),
		Fee:           fee,
	}, nil
}

func (c *Client) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	want := commitmentRank(c.cfg.Commitment)
	for {
		res, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("confirmation wait: %w", ctx.Err())
			}
			c.logger.Debug("signature status query failed", zap.Error(err))
		} else if res != nil && len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return fmt.Errorf("transaction rejected: %v", st.Err)
			}
			if statusRank(st.ConfirmationStatus) >= want {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func commitmentRank(c rpc.CommitmentType) int {
	switch c {
	case rpc.CommitmentProcessed:
		return 1
	case rpc.CommitmentFinalized:
		return 3
	default:
		return 2
	}
}

func statusRank(s rpc.ConfirmationStatusType) int {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

// ParseCommitment accepts processed, confirmed or finalized. An empty string
// yields confirmed.
func ParseCommitment(s string) (rpc.CommitmentType, error) {
	switch c := rpc.CommitmentType(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return rpc.CommitmentConfirmed, nil
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return c, nil
	default:
		return "", fmt.Errorf("unknown commitment level %q", s)
	}
}
