package transport

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"

	"github.com/atelierhq/loom/internal/domain"
	"github.com/atelierhq/loom/internal/ports"
)

const maxErrorBody = 512

// Client is the resty-backed HTTP transport. It performs a single exchange
// per call; retries, caching, and breaker accounting live above it in the
// gateway.
type Client struct {
	client *resty.Client
	logger *slog.Logger
}

func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		client: resty.New().
			SetTimeout(timeout).
			SetRetryCount(0),
		logger: logger.With("component", "http-transport"),
	}
}

func (c *Client) Do(ctx context.Context, req ports.TransportRequest) (*ports.TransportResponse, error) {
	r := c.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetQueryParams(req.Query)

	if req.Body != nil {
		r = r.SetBody(req.Body)
	}

	resp, err := r.Execute(strings.ToUpper(req.Method), req.URL)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, domain.ErrCallTimeout
		}
		return nil, err
	}

	if resp.StatusCode() >= 400 {
		body := string(resp.Body())
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &domain.UpstreamError{
			StatusCode: resp.StatusCode(),
			Body:       body,
		}
	}

	kind, decoded, err := decodeBody(resp.Header().Get("Content-Type"), resp.Body())
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header()))
	for name := range resp.Header() {
		headers[name] = resp.Header().Get(name)
	}

	return &ports.TransportResponse{
		StatusCode: resp.StatusCode(),
		Headers:    headers,
		Kind:       kind,
		Body:       decoded,
	}, nil
}

// decodeBody picks the representation by content type: JSON decodes into
// generic values, text/* becomes a string, anything else stays raw bytes.
func decodeBody(contentType string, body []byte) (ports.BodyKind, any, error) {
	ct := strings.ToLower(contentType)

	switch {
	case strings.Contains(ct, "application/json"):
		if len(body) == 0 {
			return ports.BodyKindJSON, nil, nil
		}
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return ports.BodyKindJSON, nil, err
		}
		return ports.BodyKindJSON, decoded, nil
	case strings.HasPrefix(ct, "text/"):
		return ports.BodyKindText, string(body), nil
	default:
		return ports.BodyKindBinary, body, nil
	}
}
