package leaderboard

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/energydesk-api/internal/errs"
	"github.com/ksred/energydesk-api/internal/events"
	"github.com/ksred/energydesk-api/internal/ledger"
	"github.com/ksred/energydesk-api/internal/types"
	"github.com/ksred/energydesk-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// AccountLister returns the traders that appear on the leaderboard
type AccountLister interface {
	ListActive(ctx context.Context) ([]types.Account, error)
}

type Service struct {
	ledger   *ledger.Database
	accounts AccountLister
	cache    Cache
	timeout  time.Duration

	// generation counts invalidations; a board computed across one is not cached
	mu         sync.Mutex
	generation uint64
}

// NewService creates a leaderboard service. cache may be nil, in which case every read recomputes.
func NewService(gormDB *gorm.DB, accounts AccountLister, cache Cache, timeout time.Duration) *Service {
	return &Service{
		ledger:   ledger.NewDatabase(gormDB),
		accounts: accounts,
		cache:    cache,
		timeout:  timeout,
	}
}

// Get returns the ranked leaderboard of all ACTIVE traders
func (s *Service) Get(ctx context.Context) ([]Entry, error) {
	if s.cache != nil {
		entries, ok, err := s.cache.Get(ctx)
		if err != nil {
			log.Warn().Err(err).Str("service", "leaderboard").Msg("cache read failed, recomputing")
		} else if ok {
			return entries, nil
		}
	}

	generation := s.currentGeneration()
	entries, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.store(ctx, generation, entries)
	}
	return entries, nil
}

func (s *Service) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// store caches entries unless the ledger changed after they were read
func (s *Service) store(ctx context.Context, generation uint64, entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		log.Debug().Str("service", "leaderboard").Msg("leaderboard changed during compute, not caching")
		return
	}
	if err := s.cache.Set(ctx, entries); err != nil {
		log.Warn().Err(err).Str("service", "leaderboard").Msg("failed to cache leaderboard")
	}
}

func (s *Service) compute(ctx context.Context) ([]Entry, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ids := make([]string, 0, len(accounts))
	for _, account := range accounts {
		ids = append(ids, account.TraderID)
	}

	trades, err := s.ledger.ListTradesForTraders(ctx, ids)
	if err != nil {
		return nil, errs.FromStorage(err, "load leaderboard trades")
	}
	return Compute(accounts, trades), nil
}

// Publish drops the cached leaderboard whenever the ledger changes
func (s *Service) Publish(ctx context.Context, event events.Event) error {
	if s.cache == nil {
		return nil
	}
	if event.Type != events.TypeLeaderboardUpdate {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.cache.Invalidate(ctx)
}

type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// LeaderboardHandler handles GET /leaderboard
func (h *GinHandlers) LeaderboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := h.service.Get(c.Request.Context())
		response.Handle(c, entries, err)
	}
}
