package river

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/b2xlabs/tenantgate/internal/app"
	"github.com/b2xlabs/tenantgate/internal/domain"
)

// EventWorker processes domain event jobs from the River queue.
// For now it logs the event; future versions will dispatch to
// certificate provisioning, webhooks, or notification systems.
type EventWorker struct {
	river.WorkerDefaults[EventJobArgs]
}

// Work processes a single event job.
func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventJobArgs]) error {
	slog.InfoContext(ctx, "processing domain event",
		"event", job.Args.Event,
		"domain_id", job.Args.DomainID,
		"domain_name", job.Args.DomainName,
		"tenant_id", job.Args.TenantID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}

// SweepArgs triggers a sweep over all pending domains, retrying their
// DNS ownership check. Scheduled periodically when the sweep is enabled.
type SweepArgs struct{}

// Kind returns the unique job type identifier used by River's job routing.
func (SweepArgs) Kind() string { return "domain.verification_sweep" }

// PendingLister returns the domains awaiting an ownership check.
// Satisfied by domain.DomainRepository.
type PendingLister interface {
	ListPendingVerification(ctx context.Context) ([]domain.Domain, error)
}

// DomainVerifier runs one background ownership check. A miss must leave
// the domain pending so it stays in the sweep pool. Satisfied by
// app.VerificationService.
type DomainVerifier interface {
	RecheckDomain(ctx context.Context, domainID uuid.UUID) (app.VerifyResult, error)
}

// SweepWorker walks all pending domains and retries verification for
// each. DNS propagation often lags the tenant's console change, so a
// background retry usually succeeds where the initial manual check did
// not. Per-domain failures are logged and do not fail the sweep.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]

	lister   PendingLister
	verifier DomainVerifier
}

// NewSweepWorker creates a sweep worker over the given repository and
// verification service.
func NewSweepWorker(lister PendingLister, verifier DomainVerifier) *SweepWorker {
	return &SweepWorker{lister: lister, verifier: verifier}
}

// Work runs a single sweep.
func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	pending, err := w.lister.ListPendingVerification(ctx)
	if err != nil {
		return err
	}

	verified := 0
	for _, d := range pending {
		result, err := w.verifier.RecheckDomain(ctx, d.ID)
		if err != nil {
			slog.WarnContext(ctx, "sweep verification errored",
				"domain_id", d.ID,
				"domain_name", d.DomainName,
				"error", err,
			)
			continue
		}
		if result.Success {
			verified++
		}
	}

	slog.InfoContext(ctx, "verification sweep complete",
		"pending", len(pending),
		"verified", verified,
		"job_id", job.ID,
	)
	return nil
}
