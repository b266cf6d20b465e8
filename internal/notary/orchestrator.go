package notary

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditnotary/internal/anchor"
	"github.com/jmerrifield20/auditnotary/internal/archive"
	"github.com/jmerrifield20/auditnotary/internal/audit/model"
	"github.com/jmerrifield20/auditnotary/internal/audit/repository"
	"github.com/jmerrifield20/auditnotary/internal/canonical"
	"github.com/jmerrifield20/auditnotary/internal/journal"
	"github.com/jmerrifield20/auditnotary/internal/tracing"
)

// auditStore is the persistence the orchestrator needs.
// repository.Repository satisfies it.
type auditStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Audit, error)
	Complete(ctx context.Context, a *model.Audit) error
}

// Anchorer records a memo on a public ledger. *anchor.Client satisfies it.
type Anchorer interface {
	Anchor(ctx context.Context, memo []byte) (*anchor.Anchor, error)
}

// Notifier is told about every successful completion.
// *webhooks.Notifier satisfies it.
type Notifier interface {
	AuditCompleted(ctx context.Context, res *Result)
}

// Orchestrator runs the DRAFT to COMPLETED transition and everything that
// makes the completed audit verifiable.
type Orchestrator struct {
	repo     auditStore
	uploader archive.Uploader
	anchorer Anchorer
	journal  journal.Journal // nil = no journal writes
	appID    string
	now      func() time.Time
	metrics  func(*Result) // nil = no metrics
	notifier Notifier      // nil = no notifications
	logger   *zap.Logger
}

// NewOrchestrator creates an Orchestrator. An empty appID uses DefaultAppID.
func NewOrchestrator(repo auditStore, uploader archive.Uploader, anchorer Anchorer, appID string, logger *zap.Logger) *Orchestrator {
	if appID == "" {
		appID = DefaultAppID
	}
	return &Orchestrator{
		repo:     repo,
		uploader: uploader,
		anchorer: anchorer,
		appID:    appID,
		now:      time.Now,
		logger:   logger,
	}
}

// SetJournal enables the local notarization journal.
func (o *Orchestrator) SetJournal(j journal.Journal) { o.journal = j }

// SetMetricsRecorder installs a callback invoked after every successful
// completion.
func (o *Orchestrator) SetMetricsRecorder(fn func(*Result)) { o.metrics = fn }

// SetNotifier enables completion notifications.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// SetClock replaces the time source.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Complete applies patch to a DRAFT audit, notarizes it and saves it as
// COMPLETED. Upload and anchoring failures degrade the evidentiary tier but
// never fail the call; only validation, a missing or already completed
// audit, and the final save return errors.
func (o *Orchestrator) Complete(ctx context.Context, id uuid.UUID, patch *model.AuditPatch) (_ *Result, err error) {
	ctx, end := tracing.StartSpan(ctx, "notary.complete", attribute.String("audit.id", id.String()))
	defer func() { end(err) }()

	if err := patch.Validate(); err != nil {
		return nil, err
	}
	audit, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if audit.Status == model.StatusCompleted {
		return nil, repository.ErrAlreadyCompleted
	}
	patch.Apply(audit)

	content := ExtractVerifiableContent(audit.State)
	ts := FormatTimestamp(o.now())
	res := &Result{Cost: zeroCost}

	res.Upload = o.upload(ctx, audit, content, ts)
	var locator, locatorURL *string
	if rcpt := res.Upload.Receipt; rcpt != nil {
		locator, locatorURL = &rcpt.ID, &rcpt.URL
		res.Cost.StorageCost = rcpt.Cost
	}

	record := CompositeRecord{
		Title:          audit.Title,
		TypeKey:        audit.TypeKey,
		Content:        content,
		Timestamp:      ts,
		ContentLocator: locator,
	}
	var integrityHash *string
	if h, herr := o.hash(ctx, record); herr != nil {
		o.logger.Error("integrity hash failed (non-fatal)",
			zap.String("audit_id", id.String()),
			zap.Error(herr),
		)
		res.Anchor = AnchorOutcome{Status: StepSkipped, Reason: "no integrity hash", Err: herr}
	} else {
		integrityHash = &h
		url := ""
		if locatorURL != nil {
			url = *locatorURL
		}
		res.Memo = BuildMemo(url, h)
		res.Anchor = o.anchor(ctx, id, res.Memo)
	}

	audit.ContentLocator = locator
	audit.ContentURL = locatorURL
	audit.ContentTimestamp = &ts
	audit.IntegrityHash = integrityHash
	audit.LedgerTransactionID, audit.LedgerSignature, audit.NotarizedAt = nil, nil, nil
	if a := res.Anchor.Anchor; a != nil {
		txID, sig := a.TransactionID, a.Signature
		notarizedAt := o.now().UTC()
		audit.LedgerTransactionID = &txID
		audit.LedgerSignature = &sig
		audit.NotarizedAt = &notarizedAt
		res.Cost.NetworkFee = a.Fee
	}

	if err := o.repo.Complete(ctx, audit); err != nil {
		return nil, fmt.Errorf("save completed audit: %w", err)
	}

	res.Audit = audit
	res.Tier = audit.ComputeTier()
	audit.Tier = res.Tier

	o.appendJournal(ctx, audit, res.Tier)
	if o.metrics != nil {
		o.metrics(res)
	}
	if o.notifier != nil {
		o.notifier.AuditCompleted(ctx, res)
	}
	o.logger.Info("audit completed",
		zap.String("audit_id", id.String()),
		zap.String("tier", string(res.Tier)),
		zap.String("upload", string(res.Upload.Status)),
		zap.String("anchor", string(res.Anchor.Status)),
		zap.String("cost_total", res.Cost.Total().String()),
	)
	return res, nil
}

func (o *Orchestrator) upload(ctx context.Context, audit *model.Audit, content []any, ts string) (out UploadOutcome) {
	ctx, end := tracing.StartSpan(ctx, "notary.upload")
	defer func() { end(out.Err) }()

	body, err := canonical.Canonicalize(Payload{
		Metadata: PayloadMetadata{
			Title:              audit.Title,
			Type:               audit.TypeKey,
			Timestamp:          ts,
			AuditorApplication: o.appID,
		},
		Content: content,
	})
	if err != nil {
		return o.uploadDegraded(audit.ID, fmt.Errorf("%w: encode payload: %v", archive.ErrUploadFailed, err))
	}

	rcpt, err := o.uploader.Upload(ctx, body)
	if err != nil {
		return o.uploadDegraded(audit.ID, err)
	}
	tracing.SetAttributes(ctx, attribute.String("archive.id", rcpt.ID))
	return UploadOutcome{Status: StepOK, Receipt: rcpt}
}

func (o *Orchestrator) uploadDegraded(id uuid.UUID, err error) UploadOutcome {
	o.logger.Warn("archive upload failed (non-fatal)",
		zap.String("audit_id", id.String()),
		zap.String("backend", o.uploader.Backend()),
		zap.Error(err),
	)
	return UploadOutcome{Status: StepDegraded, Reason: err.Error(), Err: err}
}

func (o *Orchestrator) hash(ctx context.Context, record CompositeRecord) (h string, err error) {
	_, end := tracing.StartSpan(ctx, "notary.hash")
	defer func() { end(err) }()
	return record.Hash()
}

func (o *Orchestrator) anchor(ctx context.Context, id uuid.UUID, memo string) (out AnchorOutcome) {
	ctx, end := tracing.StartSpan(ctx, "notary.anchor")
	defer func() { end(out.Err) }()

	a, err := o.anchorer.Anchor(ctx, []byte(memo))
	if err != nil {
		o.logger.Warn("ledger anchor failed (non-fatal)",
			zap.String("audit_id", id.String()),
			zap.Error(err),
		)
		return AnchorOutcome{Status: StepDegraded, Reason: err.Error(), Err: err}
	}
	tracing.SetAttributes(ctx, attribute.String("ledger.tx", a.TransactionID))
	return AnchorOutcome{Status: StepOK, Anchor: a}
}

// appendJournal records the outcome in the local journal in a non-fatal
// manner.
func (o *Orchestrator) appendJournal(ctx context.Context, audit *model.Audit, tier model.Tier) {
	if o.journal == nil {
		return
	}
	if _, err := o.journal.Append(ctx, journal.Record{
		AuditID:             audit.ID.String(),
		Tier:                string(tier),
		IntegrityHash:       audit.IntegrityHash,
		ContentLocator:      audit.ContentLocator,
		LedgerTransactionID: audit.LedgerTransactionID,
	}); err != nil {
		o.logger.Error("journal append failed (non-fatal)",
			zap.String("audit_id", audit.ID.String()),
			zap.Error(err),
		)
	}
}

// zeroCost is a CostReport with both parts zero.
var zeroCost = CostReport{StorageCost: decimal.Zero, NetworkFee: decimal.Zero}
