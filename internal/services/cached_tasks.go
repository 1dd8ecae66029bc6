package services

import (
	"context"
	"fmt"
	"time"

	"taskforum/backend/internal/cache"
	"taskforum/backend/internal/logging"
	"taskforum/backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// PublicFeedKeyPrefix prefixes every cached copy of the public feed.
	PublicFeedKeyPrefix = "tasks:public_feed"

	feedGenerationKey = "tasks:feed_generation"
)

// CachedTaskService keeps the anonymous public feed in cache. Per-user lists
// and mutations always hit the store; any mutation that can change the feed
// bumps the feed generation.
//
// Feed entries are keyed by the generation read before the store query, so a
// read that raced a mutation lands under a generation nobody asks for again.
type CachedTaskService struct {
	taskService TaskService
	cache       cache.Cache
	feedTTL     time.Duration
	log         *logrus.Logger
}

func NewCachedTaskService(taskService TaskService, cacheInstance cache.Cache, feedTTL time.Duration, log *logrus.Logger) *CachedTaskService {
	if log == nil {
		log = logging.Discard()
	}
	return &CachedTaskService{
		taskService: taskService,
		cache:       cacheInstance,
		feedTTL:     feedTTL,
		log:         log,
	}
}

func (s *CachedTaskService) ListPublicTasks(db *gorm.DB, limit int) ([]models.Task, error) {
	ctx := contextOf(db)

	generation, err := s.cache.Counter(ctx, feedGenerationKey)
	if err != nil {
		s.log.WithError(err).Debug("feed generation unavailable, reading public feed from store")
		return s.taskService.ListPublicTasks(db, limit)
	}
	cacheKey := feedCacheKey(generation, limit)

	var cached []models.Task
	if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
		return nonNil(cached), nil
	}

	tasks, err := s.taskService.ListPublicTasks(db, limit)
	if err != nil {
		return tasks, err
	}

	if err := s.cache.Set(ctx, cacheKey, tasks, s.feedTTL); err != nil {
		s.log.WithError(err).Debug("failed to cache public feed")
	}
	return tasks, nil
}

func (s *CachedTaskService) CreateTask(db *gorm.DB, ownerID string, input NewTask) (models.Task, error) {
	task, err := s.taskService.CreateTask(db, ownerID, input)
	if err != nil {
		return task, err
	}
	if task.IsPublic {
		s.invalidateFeed(contextOf(db))
	}
	return task, nil
}

func (s *CachedTaskService) ListUserTasks(db *gorm.DB, ownerID string) ([]models.Task, error) {
	return s.taskService.ListUserTasks(db, ownerID)
}

func (s *CachedTaskService) CompleteTask(db *gorm.DB, ownerID string, id int64) (models.Task, error) {
	task, err := s.taskService.CompleteTask(db, ownerID, id)
	if err != nil {
		return task, err
	}
	s.invalidateFeed(contextOf(db))
	return task, nil
}

func (s *CachedTaskService) SetTaskPrivacy(db *gorm.DB, ownerID string, id int64, isPublic bool) (models.Task, error) {
	task, err := s.taskService.SetTaskPrivacy(db, ownerID, id, isPublic)
	if err != nil {
		return task, err
	}
	s.invalidateFeed(contextOf(db))
	return task, nil
}

// WarmPublicFeed preloads the feed so the first anonymous visitor after a
// restart is served from cache.
func (s *CachedTaskService) WarmPublicFeed(db *gorm.DB) error {
	s.invalidateFeed(contextOf(db))
	_, err := s.ListPublicTasks(db, PublicFeedLimit)
	return err
}

func (s *CachedTaskService) invalidateFeed(ctx context.Context) {
	// the request context may already be near its deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	if _, err := s.cache.Incr(ctx, feedGenerationKey); err != nil {
		s.log.WithError(err).Warn("failed to bump public feed generation")
	}
	// entries under old generations are unreachable; dropping them only frees memory
	if err := s.cache.DeletePattern(ctx, PublicFeedKeyPrefix+":*"); err != nil {
		s.log.WithError(err).Debug("failed to drop stale public feed entries")
	}
}

func feedCacheKey(generation int64, limit int) string {
	if limit <= 0 || limit > PublicFeedLimit {
		limit = PublicFeedLimit
	}
	return fmt.Sprintf("%s:%d:%d", PublicFeedKeyPrefix, generation, limit)
}

func contextOf(db *gorm.DB) context.Context {
	if db != nil && db.Statement != nil && db.Statement.Context != nil {
		return db.Statement.Context
	}
	return context.Background()
}
