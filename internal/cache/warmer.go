package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"taskforum/backend/internal/logging"

	"github.com/sirupsen/logrus"
)

// WarmupJob refreshes one cached view. Run is expected to recompute and
// store the value itself.
type WarmupJob struct {
	Name string
	Run  func(ctx context.Context) error
}

type WarmupStrategy struct {
	Jobs            []WarmupJob
	ConcurrentJobs  int
	WarmupInterval  time.Duration
	JobTimeout      time.Duration
	HealthCheckFunc func(ctx context.Context) error
}

// CacheWarmer runs every job once on Start and then again on each interval
// tick until Stop. A failing health check skips the tick.
type CacheWarmer struct {
	strategy *WarmupStrategy
	log      *logrus.Logger
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	runs     int64
	failures int64
	skipped  int64
}

func NewCacheWarmer(strategy *WarmupStrategy, log *logrus.Logger) *CacheWarmer {
	if strategy == nil {
		strategy = &WarmupStrategy{}
	}
	if strategy.ConcurrentJobs <= 0 {
		strategy.ConcurrentJobs = 2
	}
	if strategy.JobTimeout <= 0 {
		strategy.JobTimeout = 5 * time.Second
	}
	if log == nil {
		log = logging.Discard()
	}

	return &CacheWarmer{
		strategy: strategy,
		log:      log,
	}
}

func (cw *CacheWarmer) AddWarmupJob(job WarmupJob) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.strategy.Jobs = append(cw.strategy.Jobs, job)
	cw.log.WithField("job", job.Name).Debug("added warmup job")
}

// Start performs the first warmup synchronously so callers can rely on a warm
// cache once it returns.
func (cw *CacheWarmer) Start(ctx context.Context) {
	cw.mu.Lock()
	if cw.running {
		cw.mu.Unlock()
		return
	}
	cw.running = true
	cw.stopCh = make(chan struct{})
	interval := cw.strategy.WarmupInterval
	cw.mu.Unlock()

	cw.warmCache(ctx)

	if interval <= 0 {
		return
	}

	cw.wg.Add(1)
	go func() {
		defer cw.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if cw.shouldWarmup(ctx) {
					cw.warmCache(ctx)
				} else {
					atomic.AddInt64(&cw.skipped, 1)
				}
			case <-cw.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (cw *CacheWarmer) Stop() {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return
	}
	cw.running = false
	close(cw.stopCh)
	cw.mu.Unlock()

	cw.wg.Wait()
	cw.log.Info("cache warmer stopped")
}

func (cw *CacheWarmer) WarmCacheManually(ctx context.Context) {
	cw.warmCache(ctx)
}

func (cw *CacheWarmer) warmCache(ctx context.Context) {
	cw.mu.RLock()
	jobs := make([]WarmupJob, len(cw.strategy.Jobs))
	copy(jobs, cw.strategy.Jobs)
	concurrency := cw.strategy.ConcurrentJobs
	cw.mu.RUnlock()

	if len(jobs) == 0 {
		return
	}

	jobCh := make(chan WarmupJob, len(jobs))
	var wg sync.WaitGroup

	for i := 0; i < concurrency && i < len(jobs); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				select {
				case <-ctx.Done():
					return
				default:
					cw.processJob(ctx, job)
				}
			}
		}()
	}

	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	wg.Wait()
}

func (cw *CacheWarmer) processJob(ctx context.Context, job WarmupJob) {
	ctx, cancel := context.WithTimeout(ctx, cw.strategy.JobTimeout)
	defer cancel()

	atomic.AddInt64(&cw.runs, 1)
	if err := job.Run(ctx); err != nil {
		atomic.AddInt64(&cw.failures, 1)
		cw.log.WithError(err).WithField("job", job.Name).Warn("cache warmup job failed")
	}
}

func (cw *CacheWarmer) shouldWarmup(ctx context.Context) bool {
	if cw.strategy.HealthCheckFunc == nil {
		return true
	}
	return cw.strategy.HealthCheckFunc(ctx) == nil
}

func (cw *CacheWarmer) GetStats() map[string]interface{} {
	cw.mu.RLock()
	defer cw.mu.RUnlock()

	return map[string]interface{}{
		"running":         cw.running,
		"interval":        cw.strategy.WarmupInterval.String(),
		"total_jobs":      len(cw.strategy.Jobs),
		"concurrent_jobs": cw.strategy.ConcurrentJobs,
		"runs":            atomic.LoadInt64(&cw.runs),
		"failures":        atomic.LoadInt64(&cw.failures),
		"skipped_ticks":   atomic.LoadInt64(&cw.skipped),
	}
}
