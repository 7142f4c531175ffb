package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/b2xlabs/tenantgate/internal/domain"
)

// Compile-time check: Publisher implements domain.EventPublisher.
var _ domain.EventPublisher = (*Publisher)(nil)

// EventJobArgs carries the data needed to process a domain event asynchronously.
// River serializes this as JSON into its job queue table. It includes a snapshot
// of the domain at the time the event was published, so the worker never needs
// to query the database.
type EventJobArgs struct {
	Event              string `json:"event"`
	DomainID           string `json:"domain_id"`
	TenantID           string `json:"tenant_id"`
	DomainName         string `json:"domain_name"`
	Type               string `json:"type"`
	IsPrimary          bool   `json:"is_primary"`
	VerificationStatus string `json:"verification_status"`
	SslStatus          string `json:"ssl_status"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (EventJobArgs) Kind() string { return "domain.event" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher implements domain.EventPublisher by enqueuing River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues a domain lifecycle event as an async job in River.
func (p *Publisher) Publish(ctx context.Context, event domain.Event, d domain.Domain) error {
	_, err := p.client.Insert(ctx, EventJobArgs{
		Event:              string(event),
		DomainID:           d.ID.String(),
		TenantID:           d.TenantID.String(),
		DomainName:         d.DomainName,
		Type:               string(d.Type),
		IsPrimary:          d.IsPrimary,
		VerificationStatus: string(d.VerificationStatus),
		SslStatus:          string(d.SslStatus),
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing event job: %w", err)
	}
	return nil
}
