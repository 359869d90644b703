// Package dashboard publishes run events to the remote operator dashboard.
//
// The dashboard owns presentation; this client only delivers the initial-state
// and final-result payloads plus non-fatal warnings. Delivery failures are
// reported to the caller, which downgrades them to warnings rather than
// failing the run.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"settlecam/internal/config"
	"settlecam/internal/metrics"
	"settlecam/internal/retry"
	"settlecam/internal/services"
)

const userAgent = "settlecam/0.1.0"

// InitialEvent announces a run before capture begins.
type InitialEvent struct {
	RunID       string `json:"run_id"`
	FactoryCode string `json:"factory_code"`
	Operator    string `json:"operator"`
	Phase       string `json:"phase"`
	StartedAt   string `json:"started_at"`
}

// ResultEvent carries the final measurement set.
type ResultEvent struct {
	RunID       string            `json:"run_id"`
	FactoryCode string            `json:"factory_code"`
	Operator    string            `json:"operator"`
	Phase       string            `json:"phase"`
	FinishedAt  string            `json:"finished_at"`
	Result      metrics.Published `json:"result"`
	ColorSample any               `json:"color_sample,omitempty"`
}

// WarningEvent surfaces a non-fatal alert.
type WarningEvent struct {
	RunID     string `json:"run_id"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// Service defines the publish surface exposed to the workflow.
type Service interface {
	SendInitial(ctx context.Context, event InitialEvent) error
	SendResult(ctx context.Context, event ResultEvent) error
	SendWarning(ctx context.Context, runID, message string) error
}

// NewService builds a dashboard client when configured. When the dashboard is
// disabled, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if !cfg.Dashboard.Enabled {
		return noopService{}
	}

	timeout := time.Duration(cfg.Dashboard.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &httpService{
		baseURL:     strings.TrimRight(cfg.Dashboard.URL, "/"),
		factoryCode: cfg.Dashboard.FactoryCode,
		operator:    cfg.Dashboard.Operator,
		client:      &http.Client{Timeout: timeout},
		policy: retry.Policy{
			MaxAttempts: cfg.Dashboard.RetryAttempts,
			Delay:       time.Second,
			MaxDelay:    30 * time.Second,
		},
	}
}

// Phase labels the test by wall-clock hour: shifts sample in the morning,
// afternoon, and evening, and the dashboard groups results accordingly.
func Phase(t time.Time) string {
	switch hour := t.Hour(); {
	case hour >= 4 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 20:
		return "afternoon"
	default:
		return "evening"
	}
}

type httpService struct {
	baseURL     string
	factoryCode string
	operator    string
	client      *http.Client
	policy      retry.Policy
}

func (s *httpService) SendInitial(ctx context.Context, event InitialEvent) error {
	event.FactoryCode = s.factoryCode
	if event.Operator == "" {
		event.Operator = s.operator
	}
	return s.post(ctx, "/api/v1/tests/initial", event)
}

func (s *httpService) SendResult(ctx context.Context, event ResultEvent) error {
	event.FactoryCode = s.factoryCode
	if event.Operator == "" {
		event.Operator = s.operator
	}
	return s.post(ctx, "/api/v1/tests/result", event)
}

func (s *httpService) SendWarning(ctx context.Context, runID, message string) error {
	event := WarningEvent{
		RunID:     runID,
		Message:   message,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	return s.post(ctx, "/api/v1/tests/warning", event)
}

func (s *httpService) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return services.Wrap(services.ErrValidation, "publishing", "encode_event", path, err)
	}

	return s.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return services.Wrap(services.ErrValidation, "publishing", "build_request", path, err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return services.Wrap(services.ErrTransient, "publishing", "send_event", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return services.Wrap(services.ErrTransient, "publishing", "send_event",
				fmt.Sprintf("dashboard returned %d for %s", resp.StatusCode, path), nil)
		}
		if resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return services.Wrap(services.ErrValidation, "publishing", "send_event",
				fmt.Sprintf("dashboard returned %d for %s: %s", resp.StatusCode, path,
					strings.TrimSpace(string(respBody))), nil)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
}

type noopService struct{}

func (noopService) SendInitial(context.Context, InitialEvent) error   { return nil }
func (noopService) SendResult(context.Context, ResultEvent) error     { return nil }
func (noopService) SendWarning(context.Context, string, string) error { return nil }
