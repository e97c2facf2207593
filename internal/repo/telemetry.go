package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/observastack/health-sentinel/internal/config"
	"github.com/observastack/health-sentinel/internal/models"
	"github.com/observastack/health-sentinel/internal/utils"
	"github.com/observastack/health-sentinel/pkg/kvstore"
)

// TelemetryClient fetches pre-computed aggregates and indicator history from
// the external telemetry store. History responses are cached because trend
// queries cover hours of data that changes slowly.
type TelemetryClient struct {
	baseURL       string
	aggregatePath string
	historyPath   string
	httpClient    *http.Client
	maxRetries    int
	store         kvstore.Store
	historyTTL    time.Duration
}

// NewTelemetryClient constructs a client for the configured telemetry store.
// A nil store disables history caching.
func NewTelemetryClient(cfg config.TelemetryClientConfig, store kvstore.Store) *TelemetryClient {
	if store == nil {
		store = kvstore.Noop{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	return &TelemetryClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		aggregatePath: cfg.AggregatePath,
		historyPath:   cfg.HistoryPath,
		httpClient:    &http.Client{Timeout: timeout},
		maxRetries:    retries,
		store:         store,
		historyTTL:    cfg.HistoryTTL,
	}
}

// FetchAggregate queries the telemetry store for one target's aggregate over
// the requested window.
func (c *TelemetryClient) FetchAggregate(ctx context.Context, target models.Target, window models.TimeRange) (models.TelemetryAggregate, error) {
	const op = "telemetry.fetch_aggregate"
	if c == nil || c.baseURL == "" {
		return models.TelemetryAggregate{}, utils.E(utils.KindUpstream, op, "telemetry store not configured", nil)
	}

	payload := map[string]any{
		"target_type": target.Type,
		"target_id":   target.ID,
		"start":       window.Start.Format(time.RFC3339),
		"end":         window.End.Format(time.RFC3339),
	}

	var agg models.TelemetryAggregate
	if err := c.postJSON(ctx, c.resolvePath(c.aggregatePath), payload, &agg); err != nil {
		return models.TelemetryAggregate{}, utils.E(utils.KindUpstream, op, "query aggregate", err)
	}
	if agg.TargetID == "" {
		agg.TargetID = target.ID
		agg.TargetType = target.Type
	}
	return agg, nil
}

// FetchIndicatorHistory retrieves per-indicator time series for trend
// analysis, served from cache when a recent identical query exists.
func (c *TelemetryClient) FetchIndicatorHistory(ctx context.Context, target models.Target, start, end time.Time) (map[models.IndicatorType][]models.TrendPoint, error) {
	const op = "telemetry.fetch_history"
	if c == nil || c.baseURL == "" {
		return nil, utils.E(utils.KindUpstream, op, "telemetry store not configured", nil)
	}

	cacheKey := fmt.Sprintf("telemetry:history:%s:%d:%d", target.Key(), start.Unix(), end.Unix())
	if c.historyTTL > 0 {
		if data, err := c.store.Get(ctx, cacheKey); err == nil {
			var cached map[models.IndicatorType][]models.TrendPoint
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	payload := map[string]any{
		"target_type": target.Type,
		"target_id":   target.ID,
		"start":       start.Format(time.RFC3339),
		"end":         end.Format(time.RFC3339),
	}

	var response struct {
		Series map[models.IndicatorType][]models.TrendPoint `json:"series"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.historyPath), payload, &response); err != nil {
		return nil, utils.E(utils.KindUpstream, op, "query indicator history", err)
	}

	if c.historyTTL > 0 && len(response.Series) > 0 {
		if data, err := json.Marshal(response.Series); err == nil {
			_ = c.store.Set(ctx, cacheKey, data, c.historyTTL)
		}
	}
	return response.Series, nil
}

func (c *TelemetryClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *TelemetryClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			time.Sleep(time.Duration(1<<(attempt-1)) * 50 * time.Millisecond)
		}

		retry, err := c.roundTrip(ctx, endpoint, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

func (c *TelemetryClient) roundTrip(ctx context.Context, endpoint string, body []byte, out any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return true, fmt.Errorf("telemetry store returned %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("telemetry store returned %s", resp.Status)
	}
	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}
