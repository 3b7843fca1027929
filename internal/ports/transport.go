package ports

import (
	"context"
)

type BodyKind string

const (
	BodyKindJSON   BodyKind = "json"
	BodyKindText   BodyKind = "text"
	BodyKindBinary BodyKind = "binary"
)

type TransportRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    any
}

// TransportResponse carries the decoded body: map[string]any or []any for
// JSON, string for text, []byte otherwise, as indicated by Kind.
type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Kind       BodyKind
	Body       any
}

// TransportPort performs one outbound HTTP exchange. Implementations return
// an error for connection-level failures and *domain.UpstreamError for
// HTTP >= 400 responses; they never retry on their own.
type TransportPort interface {
	Do(ctx context.Context, req TransportRequest) (*TransportResponse, error)
}
