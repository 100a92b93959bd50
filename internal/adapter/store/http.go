package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"voxspawn/internal/domain"
)

// HTTPStore implements domain.AgentStore against the agent configuration
// service's REST API.
type HTTPStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPStore creates an HTTP-backed agent store. timeout bounds each
// request end to end.
func NewHTTPStore(baseURL, apiKey string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the descriptor for agentID via GET /v1/agents/{id}.
// 404 maps to ErrAgentNotFound; connection failures and 5xx responses
// map to ErrStoreUnavailable so the retry layer can distinguish them.
func (s *HTTPStore) Fetch(ctx context.Context, agentID string) (*domain.AgentDescriptor, error) {
	endpoint := s.baseURL + "/v1/agents/" + url.PathEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	s.auth(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewDomainError("HTTPStore.Fetch", domain.ErrAgentNotFound, "agent "+agentID)
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.NewDomainError("HTTPStore.Fetch", domain.ErrStoreUnavailable,
			fmt.Sprintf("status %d: %s", resp.StatusCode, body))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTPStore.Fetch: unexpected status %d: %s", resp.StatusCode, body)
	}

	var d domain.AgentDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrStoreUnavailable, err)
	}
	if d.Status == domain.StatusArchived {
		return nil, domain.NewDomainError("HTTPStore.Fetch", domain.ErrAgentNotFound, "agent "+agentID+" is archived")
	}
	return &d, nil
}

// ListActive retrieves active agent summaries via GET /v1/agents?status=active.
func (s *HTTPStore) ListActive(ctx context.Context, limit int) ([]domain.AgentSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	endpoint := s.baseURL + "/v1/agents?status=active&limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	s.auth(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 {
			return nil, domain.NewDomainError("HTTPStore.ListActive", domain.ErrStoreUnavailable,
				fmt.Sprintf("status %d: %s", resp.StatusCode, body))
		}
		return nil, fmt.Errorf("HTTPStore.ListActive: unexpected status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Agents []domain.AgentSummary `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrStoreUnavailable, err)
	}
	return payload.Agents, nil
}

func (s *HTTPStore) auth(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}
