package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// PingFunc checks connectivity to one backing service; nil means healthy.
type PingFunc func(ctx context.Context) error

type serviceStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

type healthResponse struct {
	Status   string                   `json:"status"`
	Services map[string]serviceStatus `json:"services"`
}

// HealthHandler serves GET /healthz: it pings every configured backend
// concurrently and reports 200 when the critical ones (Postgres, NATS)
// are reachable, 503 otherwise. Redis and ClickHouse are optional
// backends (memory layer backend, no telemetry sink) and are reported
// but never drag the aggregate status down.
type HealthHandler struct {
	critical map[string]PingFunc
	optional map[string]PingFunc
}

// NewHealthHandler builds the handler. Any ping func left nil is reported
// as not_configured and excluded from the aggregate decision.
func NewHealthHandler(postgres, nats PingFunc, redis, clickhouse PingFunc) *HealthHandler {
	h := &HealthHandler{critical: map[string]PingFunc{}, optional: map[string]PingFunc{}}
	if postgres != nil {
		h.critical["postgresql"] = postgres
	}
	if nats != nil {
		h.critical["nats"] = nats
	}
	if redis != nil {
		h.optional["redis"] = redis
	}
	if clickhouse != nil {
		h.optional["clickhouse"] = clickhouse
	}
	return h
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]serviceStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	check := func(name string, ping PingFunc) {
		defer wg.Done()
		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start).Milliseconds()

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			services[name] = serviceStatus{Status: "unhealthy", LatencyMS: latency, Error: err.Error()}
		} else {
			services[name] = serviceStatus{Status: "healthy", LatencyMS: latency}
		}
	}

	for name, ping := range h.critical {
		wg.Add(1)
		go check(name, ping)
	}
	for name, ping := range h.optional {
		wg.Add(1)
		go check(name, ping)
	}
	wg.Wait()

	for _, name := range []string{"postgresql", "nats", "redis", "clickhouse"} {
		if _, ok := services[name]; !ok {
			services[name] = serviceStatus{Status: "not_configured"}
		}
	}

	healthy := true
	for name := range h.critical {
		if services[name].Status == "unhealthy" {
			healthy = false
		}
	}

	resp := healthResponse{Services: services}
	if healthy {
		resp.Status = "healthy"
		JSON(w, http.StatusOK, resp)
	} else {
		resp.Status = "degraded"
		JSON(w, http.StatusServiceUnavailable, resp)
	}
}
