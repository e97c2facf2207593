package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/models"
	"github.com/observastack/health-sentinel/internal/utils"
	"github.com/observastack/health-sentinel/pkg/kvstore"
)

func auditConfig() config.AuditConfig {
	return config.AuditConfig{
		Endpoint: "https://audit.example.com",
		APIKey:   "secret",
		Timeout:  time.Second,
		ListTTL:  time.Minute,
	}
}

func sampleEvaluation(id string, evaluatedAt time.Time) models.HealthEvaluation {
	return models.HealthEvaluation{
		EvaluationID:  id,
		EvaluatedAt:   evaluatedAt,
		Target:        models.Target{Type: "service", ID: "gateway-1"},
		OverallState:  models.StateHealthy,
		OverallTrend:  models.TrendStable,
		SchemaVersion: models.SchemaVersion,
	}
}

func TestHTTPAuditStoreEvaluation(t *testing.T) {
	store := NewHTTPAuditStore(auditConfig(), nil)
	store.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || req.URL.Path != "/v1/evaluations" {
			t.Fatalf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("missing bearer token, got %q", got)
		}
		var body models.HealthEvaluation
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.EvaluationID != "eval-1" {
			t.Fatalf("unexpected evaluation: %+v", body)
		}
		return jsonResponse(t, http.StatusCreated, map[string]any{}), nil
	})

	if err := store.StoreEvaluation(context.Background(), sampleEvaluation("eval-1", time.Now())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHTTPAuditStoreRejection(t *testing.T) {
	store := NewHTTPAuditStore(auditConfig(), nil)
	store.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusForbidden, map[string]any{"error": "bad key"}), nil
	})

	err := store.StoreEvaluation(context.Background(), sampleEvaluation("eval-1", time.Now()))
	if err == nil || utils.KindOf(err) != utils.KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestHTTPAuditListCachesResults(t *testing.T) {
	hits := 0
	store := NewHTTPAuditStore(auditConfig(), kvstore.NewMemory())
	store.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/v1/evaluations" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.URL.Query().Get("target_id"); got != "gateway-1" {
			t.Fatalf("filter not forwarded, got %q", got)
		}
		return jsonResponse(t, http.StatusOK, models.ListEvaluationsResponse{
			Evaluations: []models.HealthEvaluation{sampleEvaluation("eval-1", time.Now())},
		}), nil
	})

	req := models.ListEvaluationsRequest{TargetType: "service", TargetID: "gateway-1", PageSize: 10}
	out, err := store.ListEvaluations(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Evaluations) != 1 {
		t.Fatalf("unexpected response: %+v", out)
	}

	if _, err := store.ListEvaluations(context.Background(), req); err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
}

func TestMemoryAuditStoreFiltersAndPaginates(t *testing.T) {
	store := NewMemoryAuditStore(16)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		eval := sampleEvaluation("eval-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := store.StoreEvaluation(ctx, eval); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	other := sampleEvaluation("other", base)
	other.Target = models.Target{Type: "service", ID: "checkout-1"}
	if err := store.StoreEvaluation(ctx, other); err != nil {
		t.Fatalf("store: %v", err)
	}

	page1, err := store.ListEvaluations(ctx, models.ListEvaluationsRequest{TargetID: "gateway-1", PageSize: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page1.Evaluations) != 3 || page1.NextPageToken == "" {
		t.Fatalf("expected full first page with token, got %+v", page1)
	}
	// Newest first.
	if !page1.Evaluations[0].EvaluatedAt.After(page1.Evaluations[1].EvaluatedAt) {
		t.Fatalf("expected newest-first ordering")
	}

	page2, err := store.ListEvaluations(ctx, models.ListEvaluationsRequest{TargetID: "gateway-1", PageSize: 3, PageToken: page1.NextPageToken})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2.Evaluations) != 2 || page2.NextPageToken != "" {
		t.Fatalf("expected final page of 2, got %+v", page2)
	}

	if _, err := store.ListEvaluations(ctx, models.ListEvaluationsRequest{PageToken: "junk"}); err == nil {
		t.Fatalf("malformed page token must be rejected")
	}
}

func TestMemoryAuditStoreTimeWindow(t *testing.T) {
	store := NewMemoryAuditStore(16)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		if err := store.StoreEvaluation(ctx, sampleEvaluation("e", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	out, err := store.ListEvaluations(ctx, models.ListEvaluationsRequest{
		Start: base.Add(30 * time.Minute),
		End:   base.Add(150 * time.Minute),
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out.Evaluations) != 2 {
		t.Fatalf("expected 2 records inside window, got %d", len(out.Evaluations))
	}
}

func TestMemoryAuditStoreBoundsRetention(t *testing.T) {
	store := NewMemoryAuditStore(3)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 10; i++ {
		if err := store.StoreEvaluation(ctx, sampleEvaluation("e", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	out, err := store.ListEvaluations(ctx, models.ListEvaluationsRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out.Evaluations) != 3 {
		t.Fatalf("retention cap not enforced, got %d records", len(out.Evaluations))
	}
}
