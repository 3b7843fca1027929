package ports

import (
	"context"

	"github.com/atelierhq/loom/internal/domain"
)

// AuditPort is the append-only audit/metrics sink. Append must be safe for
// concurrent use and should never fail the caller's main operation; errors
// are for the caller to log, not to propagate.
type AuditPort interface {
	Append(ctx context.Context, record domain.AuditRecord) error
	Close() error
}
