package otel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	adapter "github.com/b2xlabs/tenantgate/internal/adapter/otel"
	"github.com/b2xlabs/tenantgate/internal/domain"
)

// --- Test tracer setup ---

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

// --- Mock repository ---

type mockRepo struct {
	domains map[uuid.UUID]domain.Domain
}

func newMockRepo() *mockRepo {
	return &mockRepo{domains: make(map[uuid.UUID]domain.Domain)}
}

func (m *mockRepo) Create(_ context.Context, d domain.Domain) error {
	m.domains[d.ID] = d
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (domain.Domain, error) {
	d, ok := m.domains[id]
	if !ok {
		return domain.Domain{}, domain.ErrDomainNotFound
	}
	return d, nil
}

func (m *mockRepo) GetByName(_ context.Context, name string) (domain.Domain, error) {
	for _, d := range m.domains {
		if d.DomainName == name {
			return d, nil
		}
	}
	return domain.Domain{}, domain.ErrDomainNotFound
}

func (m *mockRepo) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]domain.Domain, error) {
	var out []domain.Domain
	for _, d := range m.domains {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockRepo) ListPendingVerification(_ context.Context) ([]domain.Domain, error) {
	var out []domain.Domain
	for _, d := range m.domains {
		if d.VerificationStatus == domain.StatusPending {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockRepo) Update(_ context.Context, d domain.Domain) error {
	if _, ok := m.domains[d.ID]; !ok {
		return domain.ErrDomainNotFound
	}
	m.domains[d.ID] = d
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.domains[id]; !ok {
		return domain.ErrDomainNotFound
	}
	delete(m.domains, id)
	return nil
}

func (m *mockRepo) SetPrimary(_ context.Context, tenantID, domainID uuid.UUID) error {
	target, ok := m.domains[domainID]
	if !ok || target.TenantID != tenantID {
		return domain.ErrDomainNotFound
	}
	for id, d := range m.domains {
		if d.TenantID == tenantID {
			d.IsPrimary = id == domainID
			m.domains[id] = d
		}
	}
	return nil
}

// --- Tests ---

func TestTracingRepository_Create_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockRepo()
	repo := adapter.NewTracingRepository(inner)

	tenantID := uuid.New()
	d := domain.NewDomain(uuid.New(), tenantID, "shop.example.com", domain.TypeCustom)
	if err := repo.Create(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "DomainRepository.Create" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "DomainRepository.Create")
	}

	assertAttribute(t, spans[0], "domain.name", "shop.example.com")
	assertAttribute(t, spans[0], "tenant.id", tenantID.String())
}

func TestTracingRepository_GetByID_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockRepo()
	repo := adapter.NewTracingRepository(inner)

	d := domain.NewDomain(uuid.New(), uuid.New(), "shop.example.com", domain.TypeCustom)
	inner.domains[d.ID] = d

	got, err := repo.GetByID(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != d.ID {
		t.Errorf("ID = %v, want %v", got.ID, d.ID)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "DomainRepository.GetByID" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "DomainRepository.GetByID")
	}
}

func TestTracingRepository_GetByID_RecordsError(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockRepo()
	repo := adapter.NewTracingRepository(inner)

	_, err := repo.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, domain.ErrDomainNotFound) {
		t.Fatalf("expected ErrDomainNotFound, got %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want %v", spans[0].Status.Code, codes.Error)
	}

	if len(spans[0].Events) == 0 {
		t.Error("expected error event on span")
	}
}

func TestTracingRepository_GetByName_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockRepo()
	repo := adapter.NewTracingRepository(inner)

	d := domain.NewDomain(uuid.New(), uuid.New(), "shop.example.com", domain.TypeCustom)
	inner.domains[d.ID] = d

	got, err := repo.GetByName(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != d.ID {
		t.Errorf("ID = %v, want %v", got.ID, d.ID)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	assertAttribute(t, spans[0], "domain.name", "shop.example.com")
}

func TestTracingRepository_ListByTenant_RecordsResultCount(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockRepo()
	repo := adapter.NewTracingRepository(inner)

	tenantID := uuid.New()
	for _, name := range []string{"a.example.com", "b.example.com"} {
		d := domain.NewDomain(uuid.New(), tenantID, name, domain.TypeCustom)
		inner.domains[d.ID] = d
	}

	domains, err := repo.ListByTenant(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(domains) != 2 {
		t.Errorf("got %d domains, want 2", len(domains))
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	assertAttribute(t, spans[0], "result.count", "2")
}

func TestTracingRepository_Update_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockRepo()
	repo := adapter.NewTracingRepository(inner)

	d := domain.NewDomain(uuid.New(), uuid.New(), "shop.example.com", domain.TypeCustom)
	inner.domains[d.ID] = d

	d.IsActive = false
	if err := repo.Update(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "DomainRepository.Update" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "DomainRepository.Update")
	}
}

func TestTracingRepository_SetPrimary_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := newMockRepo()
	repo := adapter.NewTracingRepository(inner)

	tenantID := uuid.New()
	d := domain.NewDomain(uuid.New(), tenantID, "shop.example.com", domain.TypeCustom)
	inner.domains[d.ID] = d

	if err := repo.SetPrimary(context.Background(), tenantID, d.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "DomainRepository.SetPrimary" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "DomainRepository.SetPrimary")
	}

	assertAttribute(t, spans[0], "tenant.id", tenantID.String())
	assertAttribute(t, spans[0], "domain.id", d.ID.String())
}

// assertAttribute checks that a span has an attribute with the given key and string value.
func assertAttribute(t *testing.T, span tracetest.SpanStub, key, want string) {
	t.Helper()
	for _, attr := range span.Attributes {
		if string(attr.Key) == key {
			got := attr.Value.Emit()
			if got != want {
				t.Errorf("attribute %q = %q, want %q", key, got, want)
			}
			return
		}
	}
	t.Errorf("attribute %q not found on span %q", key, span.Name)
}
