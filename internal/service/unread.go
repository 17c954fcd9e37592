package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/michel-DC/Teamify-sub004/internal/cache"
	"github.com/michel-DC/Teamify-sub004/internal/store"
	apperrors "github.com/michel-DC/Teamify-sub004/pkg/errors"
	"github.com/michel-DC/Teamify-sub004/pkg/logger"
)

// UnreadService serves the per-user unread counter. The store owns the
// counter; the optional cache only shortens the read path and is invalidated
// on every write that changes it.
type UnreadService struct {
	store  store.UnreadStore
	cache  cache.Cache
	ttl    time.Duration
	logger *logger.Logger
}

// NewUnreadService creates the service. c may be nil.
func NewUnreadService(s store.UnreadStore, c cache.Cache, ttl time.Duration, log *logger.Logger) *UnreadService {
	return &UnreadService{store: s, cache: c, ttl: ttl, logger: log.Named("unread")}
}

// Count returns the unread counter of userID.
func (s *UnreadService) Count(ctx context.Context, userID string) (int, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, cache.UnreadKey(userID))
		switch {
		case err == nil:
			if n, convErr := strconv.Atoi(raw); convErr == nil {
				return n, nil
			}
		case !errors.Is(err, cache.ErrMiss):
			s.logger.Warn("unread cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	n, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return 0, apperrors.Persistence("unread count", err)
	}
	s.remember(ctx, userID, n)
	return n, nil
}

// Recompute rebuilds the counter from persisted state.
func (s *UnreadService) Recompute(ctx context.Context, userID string) (int, error) {
	n, err := s.store.RecomputeUnread(ctx, userID)
	if err != nil {
		return 0, apperrors.Persistence("recompute unread", err)
	}
	s.remember(ctx, userID, n)
	return n, nil
}

// Invalidate drops cached counters.
func (s *UnreadService) Invalidate(ctx context.Context, userIDs ...string) {
	if s.cache == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = cache.UnreadKey(id)
	}
	if _, err := s.cache.Del(ctx, keys...); err != nil {
		s.logger.Warn("unread cache invalidation failed", zap.Strings("user_ids", userIDs), zap.Error(err))
	}
}

func (s *UnreadService) remember(ctx context.Context, userID string, n int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cache.UnreadKey(userID), strconv.Itoa(n), s.ttl); err != nil {
		s.logger.Warn("unread cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
}
