package dns

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/b2xlabs/tenantgate/internal/domain"
)

// Compile-time check: Verifier implements domain.TxtVerifier.
var _ domain.TxtVerifier = (*Verifier)(nil)

// TXTResolver is the slice of net.Resolver the verifier needs.
// Injectable so tests run without a network.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DefaultTimeout bounds a single TXT lookup. Verification is an
// operator-invoked synchronous call; a hung resolver must not hang the
// operator.
const DefaultTimeout = 5 * time.Second

// Verifier proves domain ownership through DNS TXT records. Every
// failure mode maps to a result value; it never returns an error or
// panics, and it never retries on its own.
type Verifier struct {
	resolver TXTResolver
	timeout  time.Duration
}

// New creates a verifier. A nil resolver falls back to net.DefaultResolver;
// a non-positive timeout falls back to DefaultTimeout.
func New(resolver TXTResolver, timeout time.Duration) *Verifier {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Verifier{resolver: resolver, timeout: timeout}
}

// CheckTxt looks up recordName and compares each TXT string against the
// expected token. Record values are compared after trimming whitespace;
// DNS consoles love to add it.
func (v *Verifier) CheckTxt(ctx context.Context, recordName, expected string) domain.TxtCheck {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	records, err := v.resolver.LookupTXT(ctx, strings.TrimSuffix(recordName, "."))
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return domain.TxtCheck{
				Result: domain.TxtNotFound,
				Detail: "no TXT record found at " + recordName,
			}
		}
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &dnsErr) && dnsErr.IsTimeout) {
			return domain.TxtCheck{
				Result: domain.TxtLookupError,
				Detail: "TXT lookup for " + recordName + " timed out",
			}
		}
		return domain.TxtCheck{
			Result: domain.TxtLookupError,
			Detail: err.Error(),
		}
	}

	for _, record := range records {
		if strings.TrimSpace(record) == expected {
			return domain.TxtCheck{
				Result: domain.TxtMatch,
				Detail: "found expected token at " + recordName,
			}
		}
	}

	return domain.TxtCheck{
		Result: domain.TxtMismatch,
		Detail: "TXT record exists at " + recordName + " but does not contain the expected token",
	}
}
