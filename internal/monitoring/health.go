package monitoring

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

type HealthCheckFunc func(ctx context.Context) error

type HealthCheck struct {
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Critical bool      `json:"critical"`
	Message  string    `json:"message,omitempty"`
	Latency  string    `json:"latency"`
	LastRun  time.Time `json:"last_run"`
}

type registeredCheck struct {
	fn       HealthCheckFunc
	critical bool
}

// HealthChecker runs dependency probes on demand. A failing critical check
// makes the service unhealthy; a failing non-critical one only degrades it.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	timeout time.Duration
	metrics *Metrics
}

func NewHealthChecker(timeout time.Duration, metrics *Metrics) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]registeredCheck),
		timeout: timeout,
		metrics: metrics,
	}
}

func (h *HealthChecker) Register(name string, critical bool, fn HealthCheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = registeredCheck{fn: fn, critical: critical}
}

// Run executes the selected checks concurrently and returns each result plus
// the overall status.
func (h *HealthChecker) Run(ctx context.Context, criticalOnly bool) (map[string]HealthCheck, string) {
	h.mu.RLock()
	selected := make(map[string]registeredCheck, len(h.checks))
	for name, check := range h.checks {
		if criticalOnly && !check.critical {
			continue
		}
		selected[name] = check
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]HealthCheck, len(selected))
	)
	for name, check := range selected {
		wg.Add(1)
		go func(name string, check registeredCheck) {
			defer wg.Done()

			start := time.Now()
			result := HealthCheck{Name: name, Status: StatusHealthy, Critical: check.critical}
			if err := check.fn(ctx); err != nil {
				result.Status = StatusUnhealthy
				result.Message = err.Error()
			}
			result.Latency = time.Since(start).String()
			result.LastRun = time.Now()

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, result := range results {
		if result.Status == StatusHealthy {
			continue
		}
		if result.Critical {
			overall = StatusUnhealthy
			break
		}
		overall = StatusDegraded
	}

	return results, overall
}

func (h *HealthChecker) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		checks, overall := h.Run(c.Request.Context(), false)

		response := gin.H{
			"status":    overall,
			"timestamp": time.Now(),
			"checks":    checks,
		}
		if h.metrics != nil {
			response["uptime"] = h.metrics.Uptime().Round(time.Second).String()
		}

		status := http.StatusOK
		if overall == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, response)
	}
}

func (h *HealthChecker) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, overall := h.Run(c.Request.Context(), true)

		if overall == StatusUnhealthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not ready",
				"timestamp": time.Now(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now(),
		})
	}
}

func (h *HealthChecker) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response := gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
		}
		if h.metrics != nil {
			response["uptime"] = h.metrics.Uptime().Round(time.Second).String()
		}
		c.JSON(http.StatusOK, response)
	}
}
