package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/models"
	"github.com/observastack/health-sentinel/internal/utils"
	"github.com/observastack/health-sentinel/pkg/kvstore"
)

// AuditStore persists immutable evaluation records and answers history
// queries about them.
type AuditStore interface {
	StoreEvaluation(ctx context.Context, evaluation models.HealthEvaluation) error
	ListEvaluations(ctx context.Context, req models.ListEvaluationsRequest) (models.ListEvaluationsResponse, error)
}

// HTTPAuditStore talks to an external audit service over JSON. List results
// are cached briefly since dashboards poll the same filters repeatedly.
type HTTPAuditStore struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	cache      kvstore.Store
	listTTL    time.Duration
}

// NewHTTPAuditStore constructs an audit client. A nil cache disables list
// caching.
func NewHTTPAuditStore(cfg config.AuditConfig, cache kvstore.Store) *HTTPAuditStore {
	if cache == nil {
		cache = kvstore.Noop{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAuditStore{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		listTTL:    cfg.ListTTL,
	}
}

// StoreEvaluation appends one record to the audit trail.
func (s *HTTPAuditStore) StoreEvaluation(ctx context.Context, evaluation models.HealthEvaluation) error {
	const op = "audit.store"
	if s == nil || s.endpoint == "" {
		return utils.E(utils.KindUpstream, op, "audit store not configured", nil)
	}

	body, err := json.Marshal(evaluation)
	if err != nil {
		return utils.E(utils.KindInternal, op, "marshal evaluation", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/evaluations", bytes.NewReader(body))
	if err != nil {
		return utils.E(utils.KindInternal, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return utils.E(utils.KindUpstream, op, "store evaluation", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return utils.E(utils.KindUpstream, op, fmt.Sprintf("audit store returned %s: %s", resp.Status, strings.TrimSpace(string(data))), nil)
	}
	return nil
}

// ListEvaluations queries historical records matching the filters.
func (s *HTTPAuditStore) ListEvaluations(ctx context.Context, req models.ListEvaluationsRequest) (models.ListEvaluationsResponse, error) {
	const op = "audit.list"
	if s == nil || s.endpoint == "" {
		return models.ListEvaluationsResponse{}, utils.E(utils.KindUpstream, op, "audit store not configured", nil)
	}

	query := url.Values{}
	if req.TargetType != "" {
		query.Set("target_type", req.TargetType)
	}
	if req.TargetID != "" {
		query.Set("target_id", req.TargetID)
	}
	if !req.Start.IsZero() {
		query.Set("start", req.Start.Format(time.RFC3339))
	}
	if !req.End.IsZero() {
		query.Set("end", req.End.Format(time.RFC3339))
	}
	if req.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(req.PageSize))
	}
	if req.PageToken != "" {
		query.Set("page_token", req.PageToken)
	}
	endpoint := s.endpoint + "/v1/evaluations?" + query.Encode()

	cacheKey := "audit:list:" + query.Encode()
	if s.listTTL > 0 {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var cached models.ListEvaluationsResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.ListEvaluationsResponse{}, utils.E(utils.KindInternal, op, "build request", err)
	}
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return models.ListEvaluationsResponse{}, utils.E(utils.KindUpstream, op, "query evaluations", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ListEvaluationsResponse{}, utils.E(utils.KindUpstream, op, "audit store returned "+resp.Status, nil)
	}

	var out models.ListEvaluationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.ListEvaluationsResponse{}, utils.E(utils.KindUpstream, op, "decode response", err)
	}

	if s.listTTL > 0 {
		if data, err := json.Marshal(out); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.listTTL)
		}
	}
	return out, nil
}

// MemoryAuditStore keeps a bounded in-process audit trail. It backs localdev
// and single-replica deployments that run without an external audit service.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []models.HealthEvaluation
	cap     int
}

// NewMemoryAuditStore creates a store retaining up to capacity records.
func NewMemoryAuditStore(capacity int) *MemoryAuditStore {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryAuditStore{cap: capacity}
}

func (s *MemoryAuditStore) StoreEvaluation(_ context.Context, evaluation models.HealthEvaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, evaluation)
	if len(s.records) > s.cap {
		s.records = s.records[len(s.records)-s.cap:]
	}
	return nil
}

func (s *MemoryAuditStore) ListEvaluations(_ context.Context, req models.ListEvaluationsRequest) (models.ListEvaluationsResponse, error) {
	const op = "audit.list"

	s.mu.RLock()
	matched := make([]models.HealthEvaluation, 0)
	for _, record := range s.records {
		if req.TargetType != "" && record.Target.Type != req.TargetType {
			continue
		}
		if req.TargetID != "" && record.Target.ID != req.TargetID {
			continue
		}
		if !req.Start.IsZero() && record.EvaluatedAt.Before(req.Start) {
			continue
		}
		if !req.End.IsZero() && record.EvaluatedAt.After(req.End) {
			continue
		}
		matched = append(matched, record)
	}
	s.mu.RUnlock()

	// Newest first, matching what the external audit service returns.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].EvaluatedAt.After(matched[j].EvaluatedAt)
	})

	offset := 0
	if req.PageToken != "" {
		parsed, err := strconv.Atoi(req.PageToken)
		if err != nil || parsed < 0 {
			return models.ListEvaluationsResponse{}, utils.E(utils.KindInvalid, op, "malformed page token", err)
		}
		offset = parsed
	}
	if offset >= len(matched) {
		return models.ListEvaluationsResponse{}, nil
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	end := offset + pageSize
	next := ""
	if end < len(matched) {
		next = strconv.Itoa(end)
	} else {
		end = len(matched)
	}
	return models.ListEvaluationsResponse{Evaluations: matched[offset:end], NextPageToken: next}, nil
}
