package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/models"
	"github.com/observastack/health-sentinel/internal/utils"
	"github.com/observastack/health-sentinel/pkg/kvstore"
)

func telemetryClientConfig() config.TelemetryClientConfig {
	return config.TelemetryClientConfig{
		BaseURL:       "https://telemetry.example.com",
		AggregatePath: "/api/v1/telemetry/aggregate",
		HistoryPath:   "/api/v1/telemetry/history",
		Timeout:       time.Second,
		MaxRetries:    2,
		HistoryTTL:    time.Minute,
	}
}

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestFetchAggregate(t *testing.T) {
	client := NewTelemetryClient(telemetryClientConfig(), kvstore.NewMemory())
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/telemetry/aggregate" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["target_id"] != "gateway-1" || body["target_type"] != "service" {
			t.Fatalf("unexpected request body: %v", body)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"target_id":      "gateway-1",
			"target_type":    "service",
			"request_count":  1000,
			"error_count":    5,
			"latency_avg_ms": 180.0,
		}), nil
	})

	end := time.Now().UTC()
	agg, err := client.FetchAggregate(context.Background(), models.Target{Type: "service", ID: "gateway-1"}, models.TimeRange{Start: end.Add(-5 * time.Minute), End: end})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.RequestCount != 1000 || agg.ErrorCount != 5 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}

func TestFetchAggregateUpstreamError(t *testing.T) {
	client := NewTelemetryClient(telemetryClientConfig(), nil)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusBadRequest, map[string]any{"error": "unknown target"}), nil
	})

	_, err := client.FetchAggregate(context.Background(), models.Target{Type: "service", ID: "nope"}, models.TimeRange{})
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if utils.KindOf(err) != utils.KindUpstream {
		t.Fatalf("expected upstream kind, got %d", utils.KindOf(err))
	}
}

func TestFetchAggregateRetriesServerErrors(t *testing.T) {
	hits := 0
	client := NewTelemetryClient(telemetryClientConfig(), nil)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		hits++
		if hits == 1 {
			return jsonResponse(t, http.StatusInternalServerError, map[string]any{}), nil
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"request_count": 10}), nil
	})

	agg, err := client.FetchAggregate(context.Background(), models.Target{Type: "service", ID: "gateway-1"}, models.TimeRange{})
	if err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits)
	}
	if agg.RequestCount != 10 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}

func TestFetchAggregateNotConfigured(t *testing.T) {
	client := NewTelemetryClient(config.TelemetryClientConfig{}, nil)
	_, err := client.FetchAggregate(context.Background(), models.Target{Type: "service", ID: "x"}, models.TimeRange{})
	if err == nil || utils.KindOf(err) != utils.KindUpstream {
		t.Fatalf("missing base URL must be an upstream error, got %v", err)
	}
}

func TestFetchIndicatorHistoryCachesResults(t *testing.T) {
	hits := 0
	client := NewTelemetryClient(telemetryClientConfig(), kvstore.NewMemory())
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/api/v1/telemetry/history" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"series": map[string]any{
				"latency": []map[string]any{
					{"timestamp": "2026-08-30T10:00:00Z", "value": 120.0},
					{"timestamp": "2026-08-30T11:00:00Z", "value": 140.0},
				},
			},
		}), nil
	})

	target := models.Target{Type: "service", ID: "gateway-1"}
	start := time.Unix(1_756_500_000, 0)
	end := start.Add(6 * time.Hour)

	series, err := client.FetchIndicatorHistory(context.Background(), target, start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series[models.IndicatorLatency]) != 2 {
		t.Fatalf("unexpected series: %+v", series)
	}

	cached, err := client.FetchIndicatorHistory(context.Background(), target, start, end)
	if err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if len(cached[models.IndicatorLatency]) != 2 {
		t.Fatalf("unexpected cached payload: %+v", cached)
	}
}

func TestFetchIndicatorHistoryNetworkFailure(t *testing.T) {
	client := NewTelemetryClient(telemetryClientConfig(), nil)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	_, err := client.FetchIndicatorHistory(context.Background(), models.Target{Type: "service", ID: "gateway-1"}, time.Now().Add(-time.Hour), time.Now())
	if err == nil || utils.KindOf(err) != utils.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
}
