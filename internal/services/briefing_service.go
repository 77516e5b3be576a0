package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"chattriage/internal/ai"
	"chattriage/internal/cache"
	"chattriage/internal/config"
	"chattriage/internal/logging"
	"chattriage/internal/models"
	"chattriage/internal/settings"
	"chattriage/internal/transport"
)

// briefingPage is one analyzed page kept in the page cache. hasMore records
// whether more eligible chats remained beyond this page when it was analyzed,
// so a replay reports pagination state faithfully.
type briefingPage struct {
	items   []models.BriefingItem
	hasMore bool
}

// BriefingItemPatch carries the fields an UpdateItem call may change.
// Nil pointers leave the current value untouched.
type BriefingItemPatch struct {
	Priority       *string
	Summary        *string
	SuggestedReply *string
	NeedsResponse  *bool
}

// BriefingService produces and caches the prioritized briefing derived from
// the chat and message caches. Results are paged: the first load analyzes one
// page of eligible chats and LoadMore extends the list one page at a time.
// Already-analyzed pages are kept keyed by fingerprint and offset so paging
// back and forth never re-runs the assistant.
type BriefingService struct {
	chats    *ChatCacheService
	messages *MessageCacheService
	ai       ai.Assistant
	settings settings.Provider
	cfg      *config.Config
	log      *logrus.Entry

	mu          sync.Mutex
	entry       cache.Entry[[]models.BriefingItem]
	stats       models.BriefingStats
	generatedAt int64
	offset      int
	hasMore     bool
	state       LoadState
	inFlight    bool
	loadingMore bool
	lastErr     error
	rateLimited bool
	sortBy      string
	pages       *gocache.Cache
}

// NewBriefingService creates the briefing derived cache
func NewBriefingService(chats *ChatCacheService, messages *MessageCacheService, assistant ai.Assistant, s settings.Provider, cfg *config.Config) *BriefingService {
	return &BriefingService{
		chats:    chats,
		messages: messages,
		ai:       assistant,
		settings: s,
		cfg:      cfg,
		log:      logging.ForService("briefing"),
		sortBy:   models.SortNeedsResponse,
		pages:    gocache.New(time.Hour, 10*time.Minute),
	}
}

// Load returns the briefing for the given options, running the assistant
// only when the cache is stale or the query changed. force bypasses the TTL.
func (s *BriefingService) Load(ctx context.Context, opts models.AnalysisOptions, force bool) (*models.BriefingResult, error) {
	return s.load(ctx, opts, force, false)
}

// Prefetch refreshes the briefing in the background without touching the
// UI-visible loading state. Stale cached items remain served until the
// refresh lands.
func (s *BriefingService) Prefetch(ctx context.Context, opts models.AnalysisOptions) error {
	_, err := s.load(ctx, opts, false, true)
	return err
}

func (s *BriefingService) load(ctx context.Context, opts models.AnalysisOptions, force, silent bool) (*models.BriefingResult, error) {
	filters := s.settings.ChatFilters()
	fp := cache.FingerprintFields(analysisFields(opts, filters))
	ttl := s.ttl()

	s.mu.Lock()
	if opts.SortBy != "" && opts.SortBy != s.sortBy {
		s.sortBy = opts.SortBy
		s.sortLocked(s.entry.Value)
	}
	if !force && !s.entry.ShouldRefresh(ttl, fp) {
		result := s.resultLocked(true)
		s.mu.Unlock()
		recordHit(storeBriefing)
		return result, nil
	}
	if s.inFlight {
		result := s.resultLocked(true)
		s.mu.Unlock()
		recordInFlightRejected(storeBriefing)
		s.log.Debug("briefing load already in flight, serving cached result")
		return result, nil
	}
	s.inFlight = true
	if !silent {
		s.state = StateLoading
	}
	s.mu.Unlock()

	recordMiss(storeBriefing)
	passID := uuid.NewString()[:8]
	s.log.WithFields(logrus.Fields{"pass": passID, "force": force, "silent": silent}).Info("generating briefing")

	items, stats, hasMore, err := s.analyzePage(ctx, opts, filters, force, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false

	if err != nil {
		s.recordFailure(err, silent)
		recordRefresh(storeBriefing, false)
		if len(s.entry.Value) > 0 {
			return s.resultLocked(true), err
		}
		return nil, err
	}

	s.sortLocked(items)
	s.entry.Store(items, fp)
	s.stats = stats
	s.generatedAt = time.Now().Unix()
	s.offset = s.cfg.AnalysisPageSize
	s.hasMore = hasMore
	s.state = StateReady
	s.lastErr = nil
	s.rateLimited = false
	s.pages.Set(pageKey(fp, 0), briefingPage{items: snapshot(items), hasMore: hasMore}, ttl)
	recordRefresh(storeBriefing, true)
	s.log.WithFields(logrus.Fields{"pass": passID, "items": len(items)}).Info("briefing generated")
	return s.resultLocked(false), nil
}

// LoadMore analyzes the next page of eligible chats and appends its items.
// The stats block stays frozen at the values computed by the initial load.
func (s *BriefingService) LoadMore(ctx context.Context, opts models.AnalysisOptions) (*models.BriefingResult, error) {
	filters := s.settings.ChatFilters()
	fp := cache.FingerprintFields(analysisFields(opts, filters))

	s.mu.Lock()
	if s.loadingMore || !s.hasMore || s.entry.FetchedAt.IsZero() {
		result := s.resultLocked(true)
		s.mu.Unlock()
		return result, nil
	}
	if s.entry.Fingerprint != fp {
		// query changed under us, a plain Load must run first
		result := s.resultLocked(true)
		s.mu.Unlock()
		return result, nil
	}
	s.loadingMore = true
	offset := s.offset
	s.mu.Unlock()

	var (
		items   []models.BriefingItem
		hasMore bool
		err     error
	)
	if cached, ok := s.pages.Get(pageKey(fp, offset)); ok {
		page := cached.(briefingPage)
		items = page.items
		hasMore = page.hasMore
		s.log.WithField("offset", offset).Debug("briefing page served from cache")
	} else {
		items, _, hasMore, err = s.analyzePage(ctx, opts, filters, false, offset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingMore = false

	if err != nil {
		s.recordFailure(err, false)
		recordRefresh(storeBriefing, false)
		return s.resultLocked(true), err
	}

	merged := appendBriefingItems(s.entry.Value, items)
	s.sortLocked(merged)
	s.entry.Value = merged
	s.offset = offset + s.cfg.AnalysisPageSize
	s.hasMore = hasMore
	s.lastErr = nil
	s.pages.Set(pageKey(fp, offset), briefingPage{items: snapshot(items), hasMore: hasMore}, s.ttl())
	return s.resultLocked(false), nil
}

// analyzePage builds assistant contexts for one page of eligible chats and
// runs the briefing over them. Large groups are summarized locally without an
// assistant call; chats with no loadable messages are skipped.
func (s *BriefingService) analyzePage(ctx context.Context, opts models.AnalysisOptions, filters models.ChatFilters, force bool, offset int) ([]models.BriefingItem, models.BriefingStats, bool, error) {
	chatList, err := s.chats.Load(ctx, s.cfg.ChatPageSize, filters, false)
	if err != nil && len(chatList) == 0 {
		return nil, models.BriefingStats{}, false, fmt.Errorf("failed to load chats for briefing: %w", err)
	}

	now := time.Now()
	eligible := eligibleChats(chatList, opts, filters, now)
	if offset >= len(eligible) {
		return nil, computeBriefingStats(nil, eligible), false, nil
	}
	end := offset + s.cfg.AnalysisPageSize
	if end > len(eligible) {
		end = len(eligible)
	}
	page := eligible[offset:end]
	hasMore := end < len(eligible)

	var (
		placeholders []models.BriefingItem
		candidates   []models.Chat
		requests     []transport.BatchRequest
	)
	for _, c := range page {
		if c.IsLargeGroup(s.cfg.LargeGroupThreshold) {
			placeholders = append(placeholders, largeGroupBriefingItem(c))
			continue
		}
		candidates = append(candidates, c)
		requests = append(requests, transport.BatchRequest{ChatID: c.ID, Limit: s.cfg.MessagesPerChat})
	}

	var contexts []models.ChatContext
	if len(requests) > 0 {
		byChat, err := s.messages.BatchLoadMessages(ctx, requests)
		if err != nil {
			return nil, models.BriefingStats{}, false, fmt.Errorf("failed to load messages for briefing: %w", err)
		}
		for _, c := range candidates {
			msgs := byChat[c.ID]
			if len(msgs) == 0 {
				if s.messages.Err(c.ID) != nil {
					placeholders = append(placeholders, failedBriefingItem(c))
				}
				continue
			}
			contexts = append(contexts, buildChatContext(c, msgs, now))
		}
	}

	items := placeholders
	if len(contexts) > 0 {
		result, err := s.ai.GenerateBriefing(ctx, contexts, force, s.ttlMinutes())
		if err != nil {
			return nil, models.BriefingStats{}, false, err
		}
		items = append(items, result.Items...)
	}

	if opts.NeedsResponseOnly {
		kept := items[:0]
		for _, it := range items {
			if it.NeedsResponse {
				kept = append(kept, it)
			}
		}
		items = kept
	}

	return items, computeBriefingStats(items, eligible), hasMore, nil
}

// UpdateItem patches a single briefing item in place, preserving its
// position. Used when the user acts on an item (for example after sending a
// reply) without invalidating the whole briefing.
func (s *BriefingService) UpdateItem(chatID int64, patch BriefingItemPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entry.Value {
		if s.entry.Value[i].ChatID != chatID {
			continue
		}
		item := &s.entry.Value[i]
		if patch.Priority != nil {
			item.Priority = *patch.Priority
		}
		if patch.Summary != nil {
			item.Summary = *patch.Summary
		}
		if patch.SuggestedReply != nil {
			item.SuggestedReply = *patch.SuggestedReply
		}
		if patch.NeedsResponse != nil {
			item.NeedsResponse = *patch.NeedsResponse
		}
		return true
	}
	return false
}

// RemoveItem drops a chat from the briefing, for example after it was
// archived. Stats stay frozen.
func (s *BriefingService) RemoveItem(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entry.Value {
		if s.entry.Value[i].ChatID == chatID {
			s.entry.Value = append(s.entry.Value[:i], s.entry.Value[i+1:]...)
			return true
		}
	}
	return false
}

// SetSortBy re-sorts the already-loaded items in place. Changing the sort
// never triggers a re-fetch.
func (s *BriefingService) SetSortBy(sortBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sortBy == sortBy {
		return
	}
	s.sortBy = sortBy
	s.sortLocked(s.entry.Value)
}

// NeedsRefresh reports whether a Load for these options would run the
// assistant. Used by the background prefetcher.
func (s *BriefingService) NeedsRefresh(opts models.AnalysisOptions) bool {
	fp := cache.FingerprintFields(analysisFields(opts, s.settings.ChatFilters()))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry.ShouldRefresh(s.ttl(), fp)
}

// Result returns the current briefing without triggering any work, or nil if
// nothing was ever generated.
func (s *BriefingService) Result() *models.BriefingResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultLocked(true)
}

// State reports the UI-visible load state
func (s *BriefingService) State() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LoadingMore reports whether a load-more pass is in flight
func (s *BriefingService) LoadingMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingMore
}

// HasMore reports whether more eligible chats remain unanalyzed
func (s *BriefingService) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Err returns the error recorded by the last failed refresh, if any
func (s *BriefingService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// RateLimited reports whether the last failure was a rate limit
func (s *BriefingService) RateLimited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLimited
}

// Reset clears the briefing and all cached pages; called on logout
func (s *BriefingService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry.Reset()
	s.stats = models.BriefingStats{}
	s.generatedAt = 0
	s.offset = 0
	s.hasMore = false
	s.state = StateIdle
	s.loadingMore = false
	s.lastErr = nil
	s.rateLimited = false
	s.pages.Flush()
	s.log.Info("briefing cache reset")
}

// resultLocked assembles a result snapshot; callers must hold mu
func (s *BriefingService) resultLocked(cached bool) *models.BriefingResult {
	if s.entry.FetchedAt.IsZero() {
		return nil
	}
	return &models.BriefingResult{
		Items:       snapshot(s.entry.Value),
		Stats:       s.stats,
		GeneratedAt: s.generatedAt,
		Cached:      cached,
		CacheAge:    cache.AgeLabel(s.entry.Age()),
	}
}

func (s *BriefingService) sortLocked(items []models.BriefingItem) {
	sortBriefingItems(items, s.sortBy)
}

func (s *BriefingService) ttlMinutes() int {
	minutes := s.settings.TTLMinutes(settings.EntityBriefing)
	if minutes <= 0 {
		minutes = s.cfg.BriefingTTLMinutes
	}
	return minutes
}

func (s *BriefingService) ttl() time.Duration {
	return time.Duration(s.ttlMinutes()) * time.Minute
}

// recordFailure must be called with the mutex held. A failure with cached
// items lands back in the ready state so views keep showing the stale data;
// only an empty cache surfaces as an error.
func (s *BriefingService) recordFailure(err error, silent bool) {
	s.lastErr = err
	s.rateLimited = transport.IsRateLimited(err)
	if !silent {
		if len(s.entry.Value) == 0 {
			s.state = StateError
		} else {
			s.state = StateReady
		}
	}
	if s.rateLimited {
		s.log.WithError(err).Warn("rate limited, keeping cached briefing")
	} else {
		s.log.WithError(err).Error("briefing generation failed, keeping cached briefing")
	}
}

// buildChatContext converts a chat and its message window into the
// assistant's input shape, trimming to the most recent messages.
func buildChatContext(c models.Chat, msgs []models.Message, now time.Time) models.ChatContext {
	last := lastActivity(&c)
	outgoing := false
	if len(msgs) > 0 {
		outgoing = msgs[len(msgs)-1].IsOutgoing
	}
	return models.ChatContext{
		ChatID:                c.ID,
		ChatTitle:             c.Title,
		ChatType:              c.Type,
		Messages:              tailMessages(msgs, 20),
		UnreadCount:           c.UnreadCount,
		LastMessageIsOutgoing: outgoing,
		HasUnansweredQuestion: hasUnansweredQuestion(msgs),
		HoursSinceActivity:    hoursSince(last, now),
		IsPrivateChat:         c.Type == models.ChatTypePrivate,
	}
}

// largeGroupBriefingItem is the placeholder for groups too large to analyze
func largeGroupBriefingItem(c models.Chat) models.BriefingItem {
	return models.BriefingItem{
		ChatID:       c.ID,
		ChatName:     c.Title,
		ChatType:     c.Type,
		UnreadCount:  c.UnreadCount,
		Priority:     models.PriorityFYI,
		Summary:      fmt.Sprintf("Large group with %d unread messages (not analyzed)", c.UnreadCount),
		LastActivity: lastActivity(&c),
	}
}

// failedBriefingItem stands in for a chat whose messages could not be loaded
func failedBriefingItem(c models.Chat) models.BriefingItem {
	return models.BriefingItem{
		ChatID:       c.ID,
		ChatName:     c.Title,
		ChatType:     c.Type,
		UnreadCount:  c.UnreadCount,
		Priority:     models.PriorityFYI,
		Summary:      "Unable to analyze this chat",
		LastActivity: lastActivity(&c),
	}
}

// appendBriefingItems adds new items, skipping chats already present
func appendBriefingItems(existing, extra []models.BriefingItem) []models.BriefingItem {
	seen := make(map[int64]struct{}, len(existing))
	for _, it := range existing {
		seen[it.ChatID] = struct{}{}
	}
	out := snapshot(existing)
	for _, it := range extra {
		if _, ok := seen[it.ChatID]; ok {
			continue
		}
		out = append(out, it)
	}
	return out
}

// computeBriefingStats derives the stat counters shown above the briefing.
// Unread counts cover every eligible chat, not just the analyzed page.
func computeBriefingStats(items []models.BriefingItem, eligible []models.Chat) models.BriefingStats {
	var stats models.BriefingStats
	for _, it := range items {
		if it.NeedsResponse {
			stats.NeedsResponseCount++
		}
		if it.Priority == models.PriorityFYI {
			stats.FYICount++
		}
	}
	for _, c := range eligible {
		stats.TotalUnread += c.UnreadCount
	}
	return stats
}

func priorityRank(p string) int {
	switch p {
	case models.PriorityUrgent:
		return 0
	case models.PriorityNeedsReply:
		return 1
	case models.PriorityFYI:
		return 2
	default:
		return 3
	}
}

// sortBriefingItems orders items by the selected key. Ties always break on
// chat id so the order is total and stable across re-sorts.
func sortBriefingItems(items []models.BriefingItem, sortBy string) {
	switch sortBy {
	case models.SortRecent:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].LastActivity != items[j].LastActivity {
				return items[i].LastActivity > items[j].LastActivity
			}
			return items[i].ChatID < items[j].ChatID
		})
	default: // needs_response
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].NeedsResponse != items[j].NeedsResponse {
				return items[i].NeedsResponse
			}
			if ri, rj := priorityRank(items[i].Priority), priorityRank(items[j].Priority); ri != rj {
				return ri < rj
			}
			if items[i].LastActivity != items[j].LastActivity {
				return items[i].LastActivity > items[j].LastActivity
			}
			return items[i].ChatID < items[j].ChatID
		})
	}
}
