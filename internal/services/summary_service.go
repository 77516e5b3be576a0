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

// summaryPage is one summarized page kept in the page cache. hasMore records
// whether more eligible chats remained beyond this page when it was built.
type summaryPage struct {
	items   []models.SummaryItem
	hasMore bool
}

// SummaryService produces and caches per-chat summaries derived from the chat
// and message caches. Like the briefing it pages through eligible chats one
// analysis page at a time and keeps analyzed pages keyed by fingerprint and
// offset.
type SummaryService struct {
	chats    *ChatCacheService
	messages *MessageCacheService
	ai       ai.Assistant
	settings settings.Provider
	cfg      *config.Config
	log      *logrus.Entry

	mu          sync.Mutex
	entry       cache.Entry[[]models.SummaryItem]
	totalCount  int
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

// NewSummaryService creates the summaries derived cache
func NewSummaryService(chats *ChatCacheService, messages *MessageCacheService, assistant ai.Assistant, s settings.Provider, cfg *config.Config) *SummaryService {
	return &SummaryService{
		chats:    chats,
		messages: messages,
		ai:       assistant,
		settings: s,
		cfg:      cfg,
		log:      logging.ForService("summaries"),
		sortBy:   models.SortRecent,
		pages:    gocache.New(time.Hour, 10*time.Minute),
	}
}

// Load returns summaries for the given options, running the assistant only
// when the cache is stale or the query changed. force bypasses the TTL.
func (s *SummaryService) Load(ctx context.Context, opts models.AnalysisOptions, force bool) (*models.SummaryBatch, error) {
	return s.load(ctx, opts, force, false)
}

// Prefetch refreshes summaries in the background without touching the
// UI-visible loading state.
func (s *SummaryService) Prefetch(ctx context.Context, opts models.AnalysisOptions) error {
	_, err := s.load(ctx, opts, false, true)
	return err
}

func (s *SummaryService) load(ctx context.Context, opts models.AnalysisOptions, force, silent bool) (*models.SummaryBatch, error) {
	filters := s.settings.ChatFilters()
	fp := cache.FingerprintFields(analysisFields(opts, filters))
	ttl := s.ttl()

	s.mu.Lock()
	if opts.SortBy != "" && opts.SortBy != s.sortBy {
		s.sortBy = opts.SortBy
		s.sortLocked(s.entry.Value)
	}
	if !force && !s.entry.ShouldRefresh(ttl, fp) {
		batch := s.batchLocked(true)
		s.mu.Unlock()
		recordHit(storeSummaries)
		return batch, nil
	}
	if s.inFlight {
		batch := s.batchLocked(true)
		s.mu.Unlock()
		recordInFlightRejected(storeSummaries)
		s.log.Debug("summary load already in flight, serving cached batch")
		return batch, nil
	}
	s.inFlight = true
	if !silent {
		s.state = StateLoading
	}
	s.mu.Unlock()

	recordMiss(storeSummaries)
	passID := uuid.NewString()[:8]
	s.log.WithFields(logrus.Fields{"pass": passID, "force": force, "silent": silent}).Info("generating summaries")

	items, total, hasMore, err := s.summarizePage(ctx, opts, filters, force, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false

	if err != nil {
		s.recordFailure(err, silent)
		recordRefresh(storeSummaries, false)
		if len(s.entry.Value) > 0 {
			return s.batchLocked(true), err
		}
		return nil, err
	}

	s.sortLocked(items)
	s.entry.Store(items, fp)
	s.totalCount = total
	s.generatedAt = time.Now().Unix()
	s.offset = s.cfg.AnalysisPageSize
	s.hasMore = hasMore
	s.state = StateReady
	s.lastErr = nil
	s.rateLimited = false
	s.pages.Set(pageKey(fp, 0), summaryPage{items: snapshot(items), hasMore: hasMore}, ttl)
	recordRefresh(storeSummaries, true)
	s.log.WithFields(logrus.Fields{"pass": passID, "summaries": len(items)}).Info("summaries generated")
	return s.batchLocked(false), nil
}

// LoadMore summarizes the next page of eligible chats and appends the
// results. TotalCount stays frozen at the initial load's value.
func (s *SummaryService) LoadMore(ctx context.Context, opts models.AnalysisOptions) (*models.SummaryBatch, error) {
	filters := s.settings.ChatFilters()
	fp := cache.FingerprintFields(analysisFields(opts, filters))

	s.mu.Lock()
	if s.loadingMore || !s.hasMore || s.entry.FetchedAt.IsZero() {
		batch := s.batchLocked(true)
		s.mu.Unlock()
		return batch, nil
	}
	if s.entry.Fingerprint != fp {
		batch := s.batchLocked(true)
		s.mu.Unlock()
		return batch, nil
	}
	s.loadingMore = true
	offset := s.offset
	s.mu.Unlock()

	var (
		items   []models.SummaryItem
		hasMore bool
		err     error
	)
	if cached, ok := s.pages.Get(pageKey(fp, offset)); ok {
		page := cached.(summaryPage)
		items = page.items
		hasMore = page.hasMore
		s.log.WithField("offset", offset).Debug("summary page served from cache")
	} else {
		items, _, hasMore, err = s.summarizePage(ctx, opts, filters, false, offset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingMore = false

	if err != nil {
		s.recordFailure(err, false)
		recordRefresh(storeSummaries, false)
		return s.batchLocked(true), err
	}

	merged := appendSummaryItems(s.entry.Value, items)
	s.sortLocked(merged)
	s.entry.Value = merged
	s.offset = offset + s.cfg.AnalysisPageSize
	s.hasMore = hasMore
	s.lastErr = nil
	s.pages.Set(pageKey(fp, offset), summaryPage{items: snapshot(items), hasMore: hasMore}, s.ttl())
	return s.batchLocked(false), nil
}

// summarizePage builds assistant contexts for one page of eligible chats and
// runs the summarizer over them. Chats with no loadable messages are skipped.
func (s *SummaryService) summarizePage(ctx context.Context, opts models.AnalysisOptions, filters models.ChatFilters, force bool, offset int) ([]models.SummaryItem, int, bool, error) {
	chatList, err := s.chats.Load(ctx, s.cfg.ChatPageSize, filters, false)
	if err != nil && len(chatList) == 0 {
		return nil, 0, false, fmt.Errorf("failed to load chats for summaries: %w", err)
	}

	eligible := eligibleChats(chatList, opts, filters, time.Now())
	if offset >= len(eligible) {
		return nil, len(eligible), false, nil
	}
	end := offset + s.cfg.AnalysisPageSize
	if end > len(eligible) {
		end = len(eligible)
	}
	page := eligible[offset:end]
	hasMore := end < len(eligible)

	requests := make([]transport.BatchRequest, 0, len(page))
	for _, c := range page {
		requests = append(requests, transport.BatchRequest{ChatID: c.ID, Limit: s.cfg.MessagesPerChat})
	}

	byChat, err := s.messages.BatchLoadMessages(ctx, requests)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to load messages for summaries: %w", err)
	}

	var (
		contexts []models.SummaryContext
		fallback []models.SummaryItem
	)
	for _, c := range page {
		msgs := byChat[c.ID]
		if len(msgs) == 0 {
			if s.messages.Err(c.ID) != nil {
				fallback = append(fallback, failedSummaryItem(c))
			}
			continue
		}
		contexts = append(contexts, models.SummaryContext{
			ChatID:      c.ID,
			ChatTitle:   c.Title,
			ChatType:    c.Type,
			Messages:    tailMessages(msgs, 20),
			UnreadCount: c.UnreadCount,
		})
	}

	items := fallback
	if len(contexts) > 0 {
		batch, err := s.ai.GenerateSummaries(ctx, contexts, force, s.ttlMinutes())
		if err != nil {
			return nil, 0, false, err
		}
		items = append(items, batch.Summaries...)
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
	return items, len(eligible), hasMore, nil
}

// failedSummaryItem stands in for a chat whose messages could not be loaded
func failedSummaryItem(c models.Chat) models.SummaryItem {
	return models.SummaryItem{
		ChatID:          c.ID,
		ChatTitle:       c.Title,
		ChatType:        c.Type,
		Summary:         "Unable to analyze this conversation",
		Sentiment:       models.SentimentNeutral,
		LastMessageDate: lastActivity(&c),
	}
}

// Draft asks the assistant for a reply draft. Drafts are one-shot and never
// cached; the chat's message window supplies the conversation context.
func (s *SummaryService) Draft(ctx context.Context, chatID int64) (string, error) {
	chat, ok := s.chats.ChatByID(chatID)
	if !ok {
		return "", fmt.Errorf("chat %d not in the cached window", chatID)
	}
	msgs := s.messages.Messages(chatID)
	if len(msgs) == 0 {
		loaded, err := s.messages.LoadMessages(ctx, chatID, s.cfg.MessagesPerChat, 0, false)
		if err != nil {
			return "", fmt.Errorf("failed to load messages for draft: %w", err)
		}
		msgs = loaded
	}
	return s.ai.GenerateDraft(ctx, chatID, chat.Title, tailMessages(msgs, 20))
}

// RemoveItem drops a chat from the summaries
func (s *SummaryService) RemoveItem(chatID int64) bool {
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

// SetSortBy re-sorts the already-loaded summaries in place. Changing the
// sort never triggers a re-fetch.
func (s *SummaryService) SetSortBy(sortBy string) {
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
func (s *SummaryService) NeedsRefresh(opts models.AnalysisOptions) bool {
	fp := cache.FingerprintFields(analysisFields(opts, s.settings.ChatFilters()))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry.ShouldRefresh(s.ttl(), fp)
}

// Batch returns the current summaries without triggering any work, or nil if
// nothing was ever generated.
func (s *SummaryService) Batch() *models.SummaryBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchLocked(true)
}

// State reports the UI-visible load state
func (s *SummaryService) State() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LoadingMore reports whether a load-more pass is in flight
func (s *SummaryService) LoadingMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingMore
}

// HasMore reports whether more eligible chats remain unsummarized
func (s *SummaryService) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Err returns the error recorded by the last failed refresh, if any
func (s *SummaryService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// RateLimited reports whether the last failure was a rate limit
func (s *SummaryService) RateLimited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLimited
}

// Reset clears the summaries and all cached pages; called on logout
func (s *SummaryService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry.Reset()
	s.totalCount = 0
	s.generatedAt = 0
	s.offset = 0
	s.hasMore = false
	s.state = StateIdle
	s.loadingMore = false
	s.lastErr = nil
	s.rateLimited = false
	s.pages.Flush()
	s.log.Info("summary cache reset")
}

// batchLocked assembles a batch snapshot; callers must hold mu
func (s *SummaryService) batchLocked(cached bool) *models.SummaryBatch {
	if s.entry.FetchedAt.IsZero() {
		return nil
	}
	return &models.SummaryBatch{
		Summaries:   snapshot(s.entry.Value),
		TotalCount:  s.totalCount,
		GeneratedAt: s.generatedAt,
		Cached:      cached,
		CacheAge:    cache.AgeLabel(s.entry.Age()),
	}
}

func (s *SummaryService) sortLocked(items []models.SummaryItem) {
	sortSummaryItems(items, s.sortBy)
}

func (s *SummaryService) ttlMinutes() int {
	minutes := s.settings.TTLMinutes(settings.EntitySummaries)
	if minutes <= 0 {
		minutes = s.cfg.SummariesTTLMinutes
	}
	return minutes
}

func (s *SummaryService) ttl() time.Duration {
	return time.Duration(s.ttlMinutes()) * time.Minute
}

// recordFailure must be called with the mutex held. A failure with cached
// items lands back in the ready state so views keep showing the stale data;
// only an empty cache surfaces as an error.
func (s *SummaryService) recordFailure(err error, silent bool) {
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
		s.log.WithError(err).Warn("rate limited, keeping cached summaries")
	} else {
		s.log.WithError(err).Error("summary generation failed, keeping cached summaries")
	}
}

// appendSummaryItems adds new summaries, skipping chats already present
func appendSummaryItems(existing, extra []models.SummaryItem) []models.SummaryItem {
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

func sentimentRank(sentiment string) int {
	switch sentiment {
	case models.SentimentNegative:
		return 0
	case models.SentimentNeutral:
		return 1
	case models.SentimentPositive:
		return 2
	default:
		return 3
	}
}

// sortSummaryItems orders summaries by the selected key. Ties always break
// on chat id so the order is total and stable across re-sorts.
func sortSummaryItems(items []models.SummaryItem, sortBy string) {
	switch sortBy {
	case models.SortSentiment:
		sort.SliceStable(items, func(i, j int) bool {
			if ri, rj := sentimentRank(items[i].Sentiment), sentimentRank(items[j].Sentiment); ri != rj {
				return ri < rj
			}
			if items[i].LastMessageDate != items[j].LastMessageDate {
				return items[i].LastMessageDate > items[j].LastMessageDate
			}
			return items[i].ChatID < items[j].ChatID
		})
	case models.SortNeedsResponse:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].NeedsResponse != items[j].NeedsResponse {
				return items[i].NeedsResponse
			}
			if items[i].LastMessageDate != items[j].LastMessageDate {
				return items[i].LastMessageDate > items[j].LastMessageDate
			}
			return items[i].ChatID < items[j].ChatID
		})
	default: // recent
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].LastMessageDate != items[j].LastMessageDate {
				return items[i].LastMessageDate > items[j].LastMessageDate
			}
			return items[i].ChatID < items[j].ChatID
		})
	}
}
