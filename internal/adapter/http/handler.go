package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/b2xlabs/tenantgate/internal/app"
	"github.com/b2xlabs/tenantgate/internal/domain"
)

// DnsInstructionsResponse is the payload a tenant copies into a
// third-party DNS console. Values stay stable for the token's lifetime.
type DnsInstructionsResponse struct {
	RecordType     string `json:"record_type" doc:"DNS record type to publish"`
	RecordName     string `json:"record_name" doc:"Fully-qualified record name"`
	RecordValue    string `json:"record_value" doc:"Exact value to publish"`
	TokenExpiresAt string `json:"token_expires_at,omitempty" doc:"Token expiry (ISO 8601)"`
}

// DomainResponse is the API representation of a domain record.
type DomainResponse struct {
	ID                   string                   `json:"id" doc:"Unique identifier"`
	TenantID             string                   `json:"tenant_id" doc:"Owning tenant"`
	DomainName           string                   `json:"domain_name" doc:"Fully-qualified host name"`
	Type                 string                   `json:"type" doc:"primary (platform subdomain) or custom"`
	IsPrimary            bool                     `json:"is_primary" doc:"Canonical domain for the tenant"`
	IsActive             bool                     `json:"is_active" doc:"Inactive domains never resolve"`
	VerificationStatus   string                   `json:"verification_status" doc:"pending, verified or failed"`
	VerificationAttempts int                      `json:"verification_attempts" doc:"Failed proof attempts so far"`
	FailureReason        string                   `json:"failure_reason,omitempty" doc:"Last verification failure"`
	SslStatus            string                   `json:"ssl_status" doc:"Certificate provisioning state (externally driven)"`
	CreatedAt            string                   `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	VerifiedAt           string                   `json:"verified_at,omitempty" doc:"Verification timestamp (ISO 8601)"`
	DnsInstructions      *DnsInstructionsResponse `json:"dns_instructions,omitempty" doc:"Present for unverified custom domains"`
}

func toDomainResponse(d domain.Domain, instructions *app.DnsInstructions) DomainResponse {
	resp := DomainResponse{
		ID:                   d.ID.String(),
		TenantID:             d.TenantID.String(),
		DomainName:           d.DomainName,
		Type:                 string(d.Type),
		IsPrimary:            d.IsPrimary,
		IsActive:             d.IsActive,
		VerificationStatus:   string(d.VerificationStatus),
		VerificationAttempts: d.VerificationAttempts,
		FailureReason:        d.FailureReason,
		SslStatus:            string(d.SslStatus),
		CreatedAt:            d.CreatedAt.Format(time.RFC3339),
	}
	if d.VerifiedAt != nil {
		resp.VerifiedAt = d.VerifiedAt.Format(time.RFC3339)
	}
	if instructions != nil {
		resp.DnsInstructions = toInstructionsResponse(instructions)
	}
	return resp
}

func toInstructionsResponse(in *app.DnsInstructions) *DnsInstructionsResponse {
	out := &DnsInstructionsResponse{
		RecordType:  in.RecordType,
		RecordName:  in.RecordName,
		RecordValue: in.RecordValue,
	}
	if in.TokenExpiresAt != nil {
		out.TokenExpiresAt = in.TokenExpiresAt.Format(time.RFC3339)
	}
	return out
}

// --- Add Domain ---

type AddDomainInput struct {
	TenantID string `path:"tenantId" doc:"Tenant ID"`
	Body     struct {
		DomainName string `json:"domain_name" minLength:"1" maxLength:"253" doc:"Fully-qualified host name"`
		SetPrimary bool   `json:"set_primary,omitempty" doc:"Make this the tenant's primary domain"`
	}
}

type AddDomainOutput struct {
	Body DomainResponse
}

// --- Verify Domain ---

type VerifyDomainInput struct {
	ID string `path:"id" doc:"Domain ID"`
}

type VerifyDomainOutput struct {
	Body struct {
		Success bool   `json:"success" doc:"Whether the domain is now verified"`
		Status  string `json:"status" doc:"Verification status after the attempt"`
		Message string `json:"message" doc:"Human-readable outcome"`
	}
}

// --- Reverify Domain ---

type ReverifyDomainInput struct {
	ID string `path:"id" doc:"Domain ID"`
}

type ReverifyDomainOutput struct {
	Body DomainResponse
}

// --- Get Domain ---

type GetDomainInput struct {
	ID string `path:"id" doc:"Domain ID"`
}

type GetDomainOutput struct {
	Body DomainResponse
}

// --- List Domains ---

type ListDomainsInput struct {
	TenantID string `path:"tenantId" doc:"Tenant ID"`
}

type ListDomainsOutput struct {
	Body []DomainResponse
}

// --- Set Primary ---

type SetPrimaryInput struct {
	TenantID string `path:"tenantId" doc:"Tenant ID"`
	ID       string `path:"id" doc:"Domain ID"`
}

// --- Remove Domain ---

type RemoveDomainInput struct {
	TenantID string `path:"tenantId" doc:"Tenant ID"`
	ID       string `path:"id" doc:"Domain ID"`
	Force    bool   `query:"force" required:"false" doc:"Allow removing the last domain (tenant decommission)"`
}

// Register adds all domain management routes to the Huma API.
func Register(api huma.API, svc *app.VerificationService) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-domain",
		Method:        http.MethodPost,
		Path:          "/api/v1/tenants/{tenantId}/domains",
		Summary:       "Register a domain for a tenant",
		Tags:          []string{"Domains"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *AddDomainInput) (*AddDomainOutput, error) {
		tenantID, err := uuid.Parse(input.TenantID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid tenant id")
		}

		result, err := svc.AddDomain(ctx, tenantID, input.Body.DomainName, input.Body.SetPrimary)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &AddDomainOutput{Body: toDomainResponse(result.Domain, result.DnsInstructions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-domain",
		Method:      http.MethodPost,
		Path:        "/api/v1/domains/{id}/verify",
		Summary:     "Run a DNS ownership check for a domain",
		Tags:        []string{"Domains"},
	}, func(ctx context.Context, input *VerifyDomainInput) (*VerifyDomainOutput, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid domain id")
		}

		result, err := svc.VerifyDomain(ctx, id)
		if err != nil {
			return nil, toHumaError(err)
		}

		out := &VerifyDomainOutput{}
		out.Body.Success = result.Success
		out.Body.Status = string(result.Status)
		out.Body.Message = result.Message
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reverify-domain",
		Method:      http.MethodPost,
		Path:        "/api/v1/domains/{id}/reverify",
		Summary:     "Demand a fresh ownership proof for a verified domain",
		Tags:        []string{"Domains"},
	}, func(ctx context.Context, input *ReverifyDomainInput) (*ReverifyDomainOutput, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid domain id")
		}

		result, err := svc.ReverifyDomain(ctx, id)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &ReverifyDomainOutput{Body: toDomainResponse(result.Domain, result.DnsInstructions)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-domain",
		Method:      http.MethodGet,
		Path:        "/api/v1/domains/{id}",
		Summary:     "Get a domain by ID",
		Tags:        []string{"Domains"},
	}, func(ctx context.Context, input *GetDomainInput) (*GetDomainOutput, error) {
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid domain id")
		}

		d, err := svc.GetDomain(ctx, id)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetDomainOutput{Body: toDomainResponse(d, svc.DnsInstructions(d))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-domains",
		Method:      http.MethodGet,
		Path:        "/api/v1/tenants/{tenantId}/domains",
		Summary:     "List a tenant's domains",
		Tags:        []string{"Domains"},
	}, func(ctx context.Context, input *ListDomainsInput) (*ListDomainsOutput, error) {
		tenantID, err := uuid.Parse(input.TenantID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid tenant id")
		}

		domains, err := svc.ListDomains(ctx, tenantID)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]DomainResponse, len(domains))
		for i, d := range domains {
			resp[i] = toDomainResponse(d, svc.DnsInstructions(d))
		}
		return &ListDomainsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "set-primary-domain",
		Method:        http.MethodPut,
		Path:          "/api/v1/tenants/{tenantId}/domains/{id}/primary",
		Summary:       "Promote a verified domain to primary",
		Tags:          []string{"Domains"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *SetPrimaryInput) (*struct{}, error) {
		tenantID, err := uuid.Parse(input.TenantID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid tenant id")
		}
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid domain id")
		}

		if err := svc.SetPrimaryDomain(ctx, tenantID, id); err != nil {
			return nil, toHumaError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-domain",
		Method:        http.MethodDelete,
		Path:          "/api/v1/tenants/{tenantId}/domains/{id}",
		Summary:       "Remove a domain",
		Tags:          []string{"Domains"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *RemoveDomainInput) (*struct{}, error) {
		tenantID, err := uuid.Parse(input.TenantID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid tenant id")
		}
		id, err := uuid.Parse(input.ID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid domain id")
		}

		if err := svc.RemoveDomain(ctx, tenantID, id, input.Force); err != nil {
			return nil, toHumaError(err)
		}
		return nil, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors. Conflict
// responses never reveal which tenant owns a contested domain.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrDomainNotFound) {
		return huma.Error404NotFound("domain not found")
	}
	if errors.Is(err, domain.ErrInvalidDomainName) {
		return huma.Error422UnprocessableEntity("invalid domain name")
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return huma.Error503ServiceUnavailable("domain store unavailable")
	}

	var claimed *domain.AlreadyClaimedError
	if errors.As(err, &claimed) {
		return huma.Error409Conflict(claimed.Error())
	}

	var invariant *domain.PrimaryInvariantError
	if errors.As(err, &invariant) {
		return huma.Error422UnprocessableEntity(invariant.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
