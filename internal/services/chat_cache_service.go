package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"chattriage/internal/cache"
	"chattriage/internal/config"
	"chattriage/internal/logging"
	"chattriage/internal/models"
	"chattriage/internal/settings"
	"chattriage/internal/transport"
)

// ChatCacheService holds the chat list window. The window only grows: a
// plain refresh re-fetches the largest limit ever requested, so a view
// asking for fewer chats than a previous view is served from the same cache.
// Views never talk to the transport directly.
type ChatCacheService struct {
	transport transport.Transport
	settings  settings.Provider
	cfg       *config.Config
	log       *logrus.Entry

	mu          sync.Mutex
	entry       cache.Entry[[]models.Chat]
	windowSize  int
	hasMore     bool
	loading     bool // UI-visible, set only on cold start
	inFlight    bool
	loadingMore bool
	lastErr     error
	rateLimited bool
}

// NewChatCacheService creates the chat collection cache
func NewChatCacheService(t transport.Transport, s settings.Provider, cfg *config.Config) *ChatCacheService {
	return &ChatCacheService{
		transport: t,
		settings:  s,
		cfg:       cfg,
		log:       logging.ForService("chat-cache"),
	}
}

// Load returns the chat list for the given filters, fetching only when the
// cache is stale, the filters changed, or the cached window is smaller than
// limit. On fetch failure the previous items are preserved and returned
// alongside the error; callers treating the refresh as routine may ignore it.
func (s *ChatCacheService) Load(ctx context.Context, limit int, filters models.ChatFilters, force bool) ([]models.Chat, error) {
	fp := cache.FingerprintFields(chatFilterFields(filters))
	ttl := s.ttl()

	s.mu.Lock()
	if !force && !s.entry.ShouldRefresh(ttl, fp) && s.windowSize >= limit {
		chats := snapshot(s.entry.Value)
		s.mu.Unlock()
		recordHit(storeChats)
		return chats, nil
	}
	if s.inFlight {
		chats := snapshot(s.entry.Value)
		s.mu.Unlock()
		recordInFlightRejected(storeChats)
		s.log.Debug("chat load already in flight, serving current window")
		return chats, nil
	}
	s.inFlight = true
	if len(s.entry.Value) == 0 {
		s.loading = true
	}
	// never shrink the window on a refresh
	requested := limit
	if s.windowSize > requested {
		requested = s.windowSize
	}
	s.mu.Unlock()

	recordMiss(storeChats)
	passID := uuid.NewString()[:8]
	s.log.WithFields(logrus.Fields{"pass": passID, "limit": requested, "force": force}).Info("fetching chats")

	chats, err := s.transport.FetchChats(ctx, requested, filters)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.loading = false

	if err != nil {
		s.recordFailure(passID, err)
		recordRefresh(storeChats, false)
		return snapshot(s.entry.Value), err
	}

	s.entry.Store(chats, fp)
	s.windowSize = requested
	s.hasMore = len(chats) >= requested
	s.lastErr = nil
	s.rateLimited = false
	recordRefresh(storeChats, true)
	s.log.WithFields(logrus.Fields{"pass": passID, "count": len(chats), "hasMore": s.hasMore}).Debug("chat window updated")
	return snapshot(chats), nil
}

// LoadMore grows the window by one page. It is a no-op while another load
// more is in flight, when the upstream has no more chats, or before the
// first successful Load.
func (s *ChatCacheService) LoadMore(ctx context.Context, filters models.ChatFilters) ([]models.Chat, error) {
	s.mu.Lock()
	if s.loadingMore || !s.hasMore || s.entry.FetchedAt.IsZero() {
		chats := snapshot(s.entry.Value)
		s.mu.Unlock()
		return chats, nil
	}
	s.loadingMore = true
	requested := s.windowSize + s.cfg.ChatPageSize
	s.mu.Unlock()

	s.log.WithField("limit", requested).Info("loading more chats")

	// the upstream returns the full ordered window every time, so the
	// result replaces items rather than appending
	chats, err := s.transport.FetchChats(ctx, requested, filters)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingMore = false

	if err != nil {
		s.recordFailure("", err)
		recordRefresh(storeChats, false)
		return snapshot(s.entry.Value), err
	}

	fp := cache.FingerprintFields(chatFilterFields(filters))
	s.entry.Store(chats, fp)
	s.windowSize = requested
	s.hasMore = len(chats) >= requested
	s.lastErr = nil
	s.rateLimited = false
	recordRefresh(storeChats, true)
	return snapshot(chats), nil
}

// NeedsRefresh reports whether a Load for these parameters would hit the
// network. Used by the background prefetcher.
func (s *ChatCacheService) NeedsRefresh(limit int, filters models.ChatFilters) bool {
	fp := cache.FingerprintFields(chatFilterFields(filters))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry.ShouldRefresh(s.ttl(), fp) || s.windowSize < limit
}

// Items returns the current window without triggering any fetch
func (s *ChatCacheService) Items() []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.entry.Value)
}

// ChatByID looks a chat up in the current window
func (s *ChatCacheService) ChatByID(id int64) (models.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.entry.Value {
		if c.ID == id {
			return c, true
		}
	}
	return models.Chat{}, false
}

// Loading reports the UI-visible loading flag; only a cold start sets it,
// a warm cache refreshes silently.
func (s *ChatCacheService) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LoadingMore reports whether a load-more fetch is in flight
func (s *ChatCacheService) LoadingMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingMore
}

// HasMore reports whether the upstream likely has chats beyond the window
func (s *ChatCacheService) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// WindowSize returns the largest limit ever fetched
func (s *ChatCacheService) WindowSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowSize
}

// Err returns the error recorded by the last failed refresh, if any
func (s *ChatCacheService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// RateLimited reports whether the last failure was a rate limit; cached
// data remains usable so views should show a warning, not an error.
func (s *ChatCacheService) RateLimited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLimited
}

// AgeLabel returns a human-readable age of the cached window
func (s *ChatCacheService) AgeLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry.FetchedAt.IsZero() {
		return ""
	}
	return cache.AgeLabel(s.entry.Age())
}

// Reset clears the cache entirely; called on logout
func (s *ChatCacheService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry.Reset()
	s.windowSize = 0
	s.hasMore = false
	s.loading = false
	s.loadingMore = false
	s.lastErr = nil
	s.rateLimited = false
	s.log.Info("chat cache reset")
}

func (s *ChatCacheService) ttl() time.Duration {
	minutes := s.settings.TTLMinutes(settings.EntityChats)
	if minutes <= 0 {
		minutes = s.cfg.ChatsTTLMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// recordFailure must be called with the mutex held
func (s *ChatCacheService) recordFailure(passID string, err error) {
	s.lastErr = err
	s.rateLimited = transport.IsRateLimited(err)
	entry := s.log.WithError(err)
	if passID != "" {
		entry = entry.WithField("pass", passID)
	}
	if s.rateLimited {
		entry.Warn("rate limited, keeping cached chats")
	} else {
		entry.Error("chat fetch failed, keeping cached chats")
	}
}
