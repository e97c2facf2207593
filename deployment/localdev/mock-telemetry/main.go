package main

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"time"
)

type aggregateRequest struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Start      string `json:"start"`
	End        string `json:"end"`
}

type trendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/telemetry/aggregate", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var req aggregateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		now := time.Now().UTC()
		p95 := 240.0
		saturation := 42.5
		writeJSON(w, map[string]any{
			"target_id":      req.TargetID,
			"target_type":    req.TargetType,
			"window_start":   now.Add(-time.Minute),
			"window_end":     now,
			"request_count":  1200,
			"error_count":    6,
			"latency_avg_ms": 145.0,
			"latency_p95_ms": p95,
			"saturation_pct": saturation,
		})
	})

	mux.HandleFunc("/api/v1/telemetry/history", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		now := time.Now().UTC()
		writeJSON(w, map[string]any{
			"series": map[string][]trendPoint{
				"latency":    hourlySeries(now, 24, 160, -1.5),
				"error_rate": hourlySeries(now, 24, 0.6, -0.005),
				"throughput": hourlySeries(now, 24, 20, 0.1),
			},
		})
	})

	logger := log.New(log.Writer(), "telemetry-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// hourlySeries fabricates an hourly series ending now with a gentle linear
// drift plus a small ripple so trend fits stay believable.
func hourlySeries(end time.Time, hours int, base, slopePerHour float64) []trendPoint {
	points := make([]trendPoint, 0, hours)
	for i := 0; i < hours; i++ {
		offset := float64(hours - 1 - i)
		value := base - slopePerHour*offset + 2*math.Sin(float64(i))
		if value < 0 {
			value = 0
		}
		points = append(points, trendPoint{
			Timestamp: end.Add(-time.Duration(offset) * time.Hour),
			Value:     value,
		})
	}
	return points
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
