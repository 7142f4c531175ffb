package otel_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	adapter "github.com/b2xlabs/tenantgate/internal/adapter/otel"
	"github.com/b2xlabs/tenantgate/internal/domain"
)

// --- Mock publisher ---

type mockPublisher struct {
	events []publishedEvent
}

type publishedEvent struct {
	event domain.Event
	d     domain.Domain
}

func (m *mockPublisher) Publish(_ context.Context, e domain.Event, d domain.Domain) error {
	m.events = append(m.events, publishedEvent{event: e, d: d})
	return nil
}

type failingPublisher struct{}

func (p *failingPublisher) Publish(_ context.Context, _ domain.Event, _ domain.Domain) error {
	return fmt.Errorf("publish failed")
}

// --- Tests ---

func TestTracingPublisher_Publish_RecordsSpan(t *testing.T) {
	exporter := setupTestTracer(t)
	inner := &mockPublisher{}
	pub := adapter.NewTracingPublisher(inner)

	tenantID := uuid.New()
	d := domain.NewDomain(uuid.New(), tenantID, "shop.example.com", domain.TypeCustom)
	if err := pub.Publish(context.Background(), domain.EventDomainAdded, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "EventPublisher.Publish" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "EventPublisher.Publish")
	}

	assertAttribute(t, spans[0], "event.type", "domain_added")
	assertAttribute(t, spans[0], "domain.name", "shop.example.com")
	assertAttribute(t, spans[0], "tenant.id", tenantID.String())

	if len(inner.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(inner.events))
	}
	if inner.events[0].event != domain.EventDomainAdded {
		t.Errorf("event = %q, want %q", inner.events[0].event, domain.EventDomainAdded)
	}
}

func TestTracingPublisher_Publish_RecordsError(t *testing.T) {
	exporter := setupTestTracer(t)
	pub := adapter.NewTracingPublisher(&failingPublisher{})

	d := domain.NewDomain(uuid.New(), uuid.New(), "shop.example.com", domain.TypeCustom)
	err := pub.Publish(context.Background(), domain.EventDomainAdded, d)
	if err == nil {
		t.Fatal("expected error")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want %v", spans[0].Status.Code, codes.Error)
	}
}
