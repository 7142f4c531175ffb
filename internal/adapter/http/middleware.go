package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/b2xlabs/tenantgate/internal/domain"
)

// Resolver maps a host name to a tenant binding. Satisfied by
// app.LookupService.
type Resolver interface {
	Resolve(ctx context.Context, host string) (domain.Binding, error)
}

// ResolverOptions tunes TenantResolver behavior.
type ResolverOptions struct {
	// SkipPrefixes lists path prefixes served without tenant resolution
	// (admin API, health checks, docs).
	SkipPrefixes []string

	// DefaultTenantID, when set, handles unknown hosts instead of a 404.
	// Used for bare-IP access and platform landing pages.
	DefaultTenantID uuid.UUID
}

// TenantResolver resolves the request's Host header to a tenant and
// attaches the binding to the request context. Malformed hosts get a
// 400, unknown hosts a 404, store outages a 503. Downstream handlers
// read the binding with domain.BindingFromContext.
func TenantResolver(resolver Resolver, logger *slog.Logger, opts ResolverOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range opts.SkipPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			host := domain.NormalizeName(hostOnly(r.Host))
			if !domain.ValidHostname(host) {
				// Malformed hosts never reach the resolver, the cache, or
				// the default-tenant fallback.
				logger.WarnContext(r.Context(), "rejected malformed host header", "host", r.Host)
				writeJSONError(w, http.StatusBadRequest, "missing or malformed Host header")
				return
			}

			binding, err := resolver.Resolve(r.Context(), host)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrDomainNotFound):
				if opts.DefaultTenantID != uuid.Nil {
					binding = domain.Binding{TenantID: opts.DefaultTenantID, DomainName: host}
					break
				}
				writeJSONError(w, http.StatusNotFound, "no such site")
				return
			case errors.Is(err, domain.ErrStoreUnavailable):
				logger.ErrorContext(r.Context(), "tenant resolution unavailable", "host", host, "error", err)
				writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			default:
				logger.ErrorContext(r.Context(), "tenant resolution failed", "host", host, "error", err)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(domain.WithBinding(r.Context(), binding)))
		})
	}
}

// hostOnly strips an optional port from a Host header value.
func hostOnly(hostport string) string {
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// BindingInfo reports the tenant binding resolved for the request. It is
// the hand-off point for the storefront proxy sitting behind this service.
func BindingInfo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		binding, ok := domain.BindingFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no such site")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"tenant_id":   binding.TenantID.String(),
			"domain_id":   binding.DomainID.String(),
			"domain_name": binding.DomainName,
		})
	})
}
