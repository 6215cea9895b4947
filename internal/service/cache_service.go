package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/conversation"
	appErrors "github.com/noah-isme/sma-adp-assistant/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const sessionKeyPrefix = "assistant:session:"

// CacheService snapshots conversation state so a session survives a restart
// or an in-memory sweep.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// SessionKey is the Redis key of a session snapshot.
func SessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// LoadSession restores a snapshot. It returns false on a miss.
func (s *CacheService) LoadSession(ctx context.Context, sessionID string) (*conversation.State, bool, error) {
	if !s.Enabled() {
		return nil, false, nil
	}
	start := time.Now()
	var snap conversation.Snapshot
	err := s.repo.Get(ctx, SessionKey(sessionID), &snap)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return nil, false, nil
		}
		s.logger.Warn("session snapshot load failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil, false, err
	}
	s.metrics.RecordCacheOperation(true, duration)
	return conversation.Restore(snap), true, nil
}

// SaveSession stores a snapshot of state.
func (s *CacheService) SaveSession(ctx context.Context, state *conversation.State) error {
	if !s.Enabled() || state == nil {
		return nil
	}
	start := time.Now()
	err := s.repo.Set(ctx, SessionKey(state.SessionID), state.Snapshot(), s.defaultTTL)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("session snapshot save failed", zap.String("session_id", state.SessionID), zap.Error(err))
	}
	return err
}

// DeleteSession drops a snapshot.
func (s *CacheService) DeleteSession(ctx context.Context, sessionID string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.Delete(ctx, SessionKey(sessionID)); err != nil {
		s.logger.Warn("session snapshot delete failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}
