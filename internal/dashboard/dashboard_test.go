package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"settlecam/internal/config"
	"settlecam/internal/metrics"
)

func serviceFor(t *testing.T, url string, retries int) Service {
	t.Helper()
	cfg := config.Default()
	cfg.Dashboard.Enabled = true
	cfg.Dashboard.URL = url
	cfg.Dashboard.FactoryCode = "WWTP-07"
	cfg.Dashboard.RetryAttempts = retries
	svc := NewService(&cfg)
	if httpSvc, ok := svc.(*httpService); ok {
		httpSvc.policy.Delay = time.Millisecond
	}
	return svc
}

func TestPhaseByHour(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{4, "morning"},
		{11, "morning"},
		{12, "afternoon"},
		{19, "afternoon"},
		{20, "evening"},
		{23, "evening"},
		{0, "evening"},
		{3, "evening"},
	}
	for _, tc := range cases {
		at := time.Date(2026, 3, 14, tc.hour, 30, 0, 0, time.Local)
		if got := Phase(at); got != tc.want {
			t.Errorf("Phase(hour %d) = %s, want %s", tc.hour, got, tc.want)
		}
	}
}

func TestSendInitialPostsJSON(t *testing.T) {
	var got InitialEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/tests/initial" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := serviceFor(t, server.URL, 1)
	err := svc.SendInitial(context.Background(), InitialEvent{
		RunID:     "r1",
		Phase:     "morning",
		StartedAt: "2026-03-14T09:26:53Z",
	})
	if err != nil {
		t.Fatalf("send initial: %v", err)
	}
	if got.FactoryCode != "WWTP-07" {
		t.Fatalf("factory code = %s, want configured value stamped in", got.FactoryCode)
	}
	if got.Operator == "" {
		t.Fatal("operator not defaulted from config")
	}
}

func TestSendResultRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := serviceFor(t, server.URL, 3)
	result := metrics.SV30Result{SludgeHeightMM: 64.2, MixtureHeightMM: 214}.Publish()
	err := svc.SendResult(context.Background(), ResultEvent{RunID: "r1", Result: result})
	if err != nil {
		t.Fatalf("send result: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestSendWarningClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	svc := serviceFor(t, server.URL, 3)
	err := svc.SendWarning(context.Background(), "r1", "prior run data was never uploaded")
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1 for a non-retryable failure", calls.Load())
	}
}

func TestDisabledDashboardIsNoop(t *testing.T) {
	cfg := config.Default()
	svc := NewService(&cfg)
	if err := svc.SendWarning(context.Background(), "r1", "anything"); err != nil {
		t.Fatalf("noop service returned error: %v", err)
	}
}
