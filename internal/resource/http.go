package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/fault"
)

// Source serves raw resource payloads. The primary and fallback
// sources share the same shape so callers cannot tell which one
// produced the data except via Response.Source.
type Source interface {
	Name() string
	Fetch(ctx context.Context, req Request) (map[string]any, error)
}

// HTTPSource fetches resources from the primary remote endpoint.
type HTTPSource struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPSource creates an HTTPSource. Per-call deadlines come from
// the request context; the client itself carries no timeout.
func NewHTTPSource(endpoint, apiKey string, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{},
		logger:   logger,
	}
}

func (s *HTTPSource) Name() string { return "primary" }

// Fetch posts the request to the primary endpoint. Timeouts, network
// errors and 5xx responses come back as transient faults; other non-OK
// statuses as validation faults, which are never retried.
func (s *HTTPSource) Fetch(ctx context.Context, req Request) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, "resource.primary", fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/resources", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, "resource.primary", fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Timeouts, connection resets and DNS failures land here.
		return nil, fault.Wrap(fault.KindTransient, "resource.primary", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fault.Newf(fault.KindTransient, "resource.primary", "status %d: %s", resp.StatusCode, string(respBody))
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fault.Newf(fault.KindValidation, "resource.primary", "status %d: %s", resp.StatusCode, string(respBody))
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "resource.primary", fmt.Errorf("decode response: %w", err))
	}
	return payload, nil
}
