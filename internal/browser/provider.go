// File: internal/browser/provider.go

// Package browser talks to the remote browser-session provider and exposes
// live pages over the Chrome DevTools Protocol.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/itslolan/TravelAgent-sub001/internal/config"
)

// RemoteSession describes one provider-hosted browser instance.
type RemoteSession struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Status      string    `json:"status"`
	Region      string    `json:"region,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
	ConnectURL  string    `json:"connectUrl"`
	LiveViewURL string    `json:"-"`
}

type createSessionRequest struct {
	ProjectID string `json:"projectId"`
	Region    string `json:"region,omitempty"`
	Timeout   int    `json:"timeout,omitempty"`
}

type releaseSessionRequest struct {
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
}

type debugLinksResponse struct {
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
	DebuggerURL           string `json:"debuggerUrl"`
}

// Provider is a client for the session-provider REST API. Session creation is
// rate limited; the provider rejects bursts.
type Provider struct {
	baseURL    string
	apiKey     string
	projectID  string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewProvider builds a provider client from configuration.
func NewProvider(cfg config.BrowserConfig, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("browser provider API key is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("browser provider project ID is required")
	}

	createRate := cfg.CreateRate
	if createRate <= 0 {
		createRate = 0.5
	}

	return &Provider{
		baseURL:    cfg.ProviderURL,
		apiKey:     cfg.APIKey,
		projectID:  cfg.ProjectID,
		timeout:    cfg.SessionTimeout,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(createRate), 1),
		logger:     logger.Named("browser.provider"),
	}, nil
}

// CreateSession provisions a fresh remote browser and resolves its live view
// URL for human handoff. Blocks on the rate limiter.
func (p *Provider) CreateSession(ctx context.Context) (*RemoteSession, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for session-create slot: %w", err)
	}

	reqBody := createSessionRequest{
		ProjectID: p.projectID,
		Timeout:   int(p.timeout.Seconds()),
	}

	var session RemoteSession
	if err := p.do(ctx, http.MethodPost, "/v1/sessions", reqBody, &session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	// The live view link comes from a separate debug endpoint.
	var links debugLinksResponse
	if err := p.do(ctx, http.MethodGet, "/v1/sessions/"+session.ID+"/debug", nil, &links); err != nil {
		p.logger.Warn("Could not resolve live view URL for session",
			zap.String("session_id", session.ID), zap.Error(err))
	} else {
		session.LiveViewURL = links.DebuggerFullscreenURL
		if session.LiveViewURL == "" {
			session.LiveViewURL = links.DebuggerURL
		}
	}

	p.logger.Info("Remote browser session created",
		zap.String("session_id", session.ID),
		zap.String("status", session.Status),
	)
	return &session, nil
}

// ReleaseSession asks the provider to tear the session down. Idempotent on
// already-released sessions.
func (p *Provider) ReleaseSession(ctx context.Context, sessionID string) error {
	reqBody := releaseSessionRequest{ProjectID: p.projectID, Status: "REQUEST_RELEASE"}
	if err := p.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID, reqBody, nil); err != nil {
		return fmt.Errorf("releasing session %s: %w", sessionID, err)
	}
	p.logger.Info("Remote browser session released", zap.String("session_id", sessionID))
	return nil
}

// GetSession fetches the current provider-side state of a session.
func (p *Provider) GetSession(ctx context.Context, sessionID string) (*RemoteSession, error) {
	var session RemoteSession
	if err := p.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID, nil, &session); err != nil {
		return nil, fmt.Errorf("fetching session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (p *Provider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("X-BB-API-Key", p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response body: %w", err)
		}
	}
	return nil
}
