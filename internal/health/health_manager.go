package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/23skdu/blockpool/internal/metrics"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

func (s HealthStatus) value() float64 {
	switch s {
	case StatusHealthy:
		return 1.0
	case StatusDegraded:
		return 0.5
	default:
		return 0.0
	}
}

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// SystemHealth represents the overall health of every registered component
type SystemHealth struct {
	Status     HealthStatus                `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     time.Duration               `json:"uptime"`
	Components map[string]*ComponentHealth `json:"components"`
	System     *SystemInfo                 `json:"system"`
	CheckCount int64                       `json:"check_count"`
}

// SystemInfo provides Go runtime information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	HeapAlloc     uint64 `json:"heap_alloc_bytes"`
	HeapInuse     uint64 `json:"heap_inuse_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// HealthChecker defines the interface for component health checks
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) *ComponentHealth
}

// HealthManager runs the registered checkers and folds their results into
// one status. It is safe for concurrent use.
type HealthManager struct {
	startTime    time.Time
	logger       zerolog.Logger
	checkCounter atomic.Int64

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger zerolog.Logger) *HealthManager {
	return &HealthManager{
		startTime: time.Now(),
		logger:    logger,
		checkers:  make(map[string]HealthChecker),
	}
}

// RegisterChecker registers a health checker, replacing any with the same name
func (hm *HealthManager) RegisterChecker(checker HealthChecker) {
	hm.mu.Lock()
	hm.checkers[checker.Name()] = checker
	hm.mu.Unlock()
	hm.logger.Debug().Str("component", checker.Name()).Msg("Registered health checker")
}

// CheckHealth performs health checks on all registered components. The
// overall status is the worst component status.
func (hm *HealthManager) CheckHealth(ctx context.Context) *SystemHealth {
	count := hm.checkCounter.Add(1)
	checkStart := time.Now()

	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	checkers := make([]HealthChecker, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		checkers = append(checkers, hm.checkers[name])
	}
	hm.mu.RUnlock()

	health := &SystemHealth{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Uptime:     time.Since(hm.startTime),
		Components: make(map[string]*ComponentHealth, len(checkers)),
		System:     systemInfo(),
		CheckCount: count,
	}

	for _, checker := range checkers {
		start := time.Now()
		component := checker.Check(ctx)
		metrics.HealthCheckDuration.WithLabelValues(checker.Name()).Observe(time.Since(start).Seconds())
		metrics.HealthCheckStatus.WithLabelValues(checker.Name()).Set(component.Status.value())

		health.Components[checker.Name()] = component
		if component.Status.value() < health.Status.value() {
			health.Status = component.Status
		}
	}

	hm.logger.Debug().
		Str("overall_status", string(health.Status)).
		Int("components_checked", len(checkers)).
		Int64("duration_ms", time.Since(checkStart).Milliseconds()).
		Msg("Health check completed")

	return health
}

func systemInfo() *SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		HeapAlloc:     m.HeapAlloc,
		HeapInuse:     m.HeapInuse,
		NumGC:         m.NumGC,
	}
}

// HTTPHandler returns an http handler for health checks. Unhealthy systems
// answer 503.
func (hm *HealthManager) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := hm.CheckHealth(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if health.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			http.Error(w, "Failed to encode health response", http.StatusInternalServerError)
		}
	})
}
