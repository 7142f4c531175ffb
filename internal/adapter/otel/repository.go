package otel

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/b2xlabs/tenantgate/internal/domain"
)

const tracerName = "github.com/b2xlabs/tenantgate/internal/adapter/otel"

// TracingRepository wraps a domain.DomainRepository with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingRepository struct {
	next   domain.DomainRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.DomainRepository.
var _ domain.DomainRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.DomainRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) Create(ctx context.Context, d domain.Domain) error {
	ctx, span := r.tracer.Start(ctx, "DomainRepository.Create",
		trace.WithAttributes(
			attribute.String("domain.id", d.ID.String()),
			attribute.String("domain.name", d.DomainName),
			attribute.String("tenant.id", d.TenantID.String()),
		),
	)
	defer span.End()

	err := r.next.Create(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Domain, error) {
	ctx, span := r.tracer.Start(ctx, "DomainRepository.GetByID",
		trace.WithAttributes(attribute.String("domain.id", id.String())),
	)
	defer span.End()

	d, err := r.next.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return d, err
}

func (r *TracingRepository) GetByName(ctx context.Context, name string) (domain.Domain, error) {
	ctx, span := r.tracer.Start(ctx, "DomainRepository.GetByName",
		trace.WithAttributes(attribute.String("domain.name", name)),
	)
	defer span.End()

	d, err := r.next.GetByName(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return d, err
}

func (r *TracingRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Domain, error) {
	ctx, span := r.tracer.Start(ctx, "DomainRepository.ListByTenant",
		trace.WithAttributes(attribute.String("tenant.id", tenantID.String())),
	)
	defer span.End()

	domains, err := r.next.ListByTenant(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(domains)))
	}
	return domains, err
}

func (r *TracingRepository) ListPendingVerification(ctx context.Context) ([]domain.Domain, error) {
	ctx, span := r.tracer.Start(ctx, "DomainRepository.ListPendingVerification")
	defer span.End()

	domains, err := r.next.ListPendingVerification(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("result.count", len(domains)))
	}
	return domains, err
}

func (r *TracingRepository) Update(ctx context.Context, d domain.Domain) error {
	ctx, span := r.tracer.Start(ctx, "DomainRepository.Update",
		trace.WithAttributes(
			attribute.String("domain.id", d.ID.String()),
			attribute.String("domain.verification_status", string(d.VerificationStatus)),
		),
	)
	defer span.End()

	err := r.next.Update(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.tracer.Start(ctx, "DomainRepository.Delete",
		trace.WithAttributes(attribute.String("domain.id", id.String())),
	)
	defer span.End()

	err := r.next.Delete(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *TracingRepository) SetPrimary(ctx context.Context, tenantID, domainID uuid.UUID) error {
	ctx, span := r.tracer.Start(ctx, "DomainRepository.SetPrimary",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID.String()),
			attribute.String("domain.id", domainID.String()),
		),
	)
	defer span.End()

	err := r.next.SetPrimary(ctx, tenantID, domainID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
