package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"chattriage/internal/config"
	"chattriage/internal/models"
	"chattriage/internal/settings"
	"chattriage/internal/transport"
)

// fakeTransport implements transport.Transport with overridable behavior.
// Shared by the service tests in this package.
type fakeTransport struct {
	fetchChats    func(ctx context.Context, limit int, filters models.ChatFilters) ([]models.Chat, error)
	fetchMessages func(ctx context.Context, chatID int64, limit int, fromMessageID int64) ([]models.Message, error)
	fetchBatch    func(ctx context.Context, requests []transport.BatchRequest) ([]transport.BatchResult, error)
	send          func(ctx context.Context, chatID int64, text string) (models.Message, error)

	chatCalls  atomic.Int32
	msgCalls   atomic.Int32
	batchCalls atomic.Int32
}

func (f *fakeTransport) FetchChats(ctx context.Context, limit int, filters models.ChatFilters) ([]models.Chat, error) {
	f.chatCalls.Add(1)
	if f.fetchChats != nil {
		return f.fetchChats(ctx, limit, filters)
	}
	return nil, nil
}

func (f *fakeTransport) FetchMessages(ctx context.Context, chatID int64, limit int, fromMessageID int64) ([]models.Message, error) {
	f.msgCalls.Add(1)
	if f.fetchMessages != nil {
		return f.fetchMessages(ctx, chatID, limit, fromMessageID)
	}
	return nil, nil
}

func (f *fakeTransport) FetchMessagesBatch(ctx context.Context, requests []transport.BatchRequest) ([]transport.BatchResult, error) {
	f.batchCalls.Add(1)
	if f.fetchBatch != nil {
		return f.fetchBatch(ctx, requests)
	}
	results := make([]transport.BatchResult, len(requests))
	for i, req := range requests {
		results[i] = transport.BatchResult{ChatID: req.ChatID}
	}
	return results, nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, chatID int64, text string) (models.Message, error) {
	if f.send != nil {
		return f.send(ctx, chatID, text)
	}
	return models.Message{ChatID: chatID, Text: text}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:         "test",
		ChatPageSize:        50,
		MessagesPerChat:     50,
		AnalysisPageSize:    10,
		ChatsTTLMinutes:     5,
		MessagesTTLMinutes:  10,
		BriefingTTLMinutes:  30,
		SummariesTTLMinutes: 30,
		BatchFreshness:      90 * time.Second,
		LargeGroupThreshold: 50,
		SendMinInterval:     time.Millisecond,
	}
}

func testSettings() *settings.Static {
	return &settings.Static{}
}

func makeChats(n int) []models.Chat {
	chats := make([]models.Chat, n)
	for i := 0; i < n; i++ {
		chats[i] = models.Chat{
			ID:    int64(i + 1),
			Type:  models.ChatTypePrivate,
			Title: fmt.Sprintf("chat %d", i+1),
		}
	}
	return chats
}

func TestChatLoadServesCachedWithinTTL(t *testing.T) {
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			return makeChats(limit), nil
		},
	}
	svc := NewChatCacheService(ft, testSettings(), testConfig())
	filters := models.ChatFilters{OnlyUnread: true}

	first, err := svc.Load(context.Background(), 50, filters, false)
	if err != nil {
		t.Fatalf("first Load() error: %v", err)
	}
	if len(first) != 50 {
		t.Fatalf("first Load() returned %d chats, want 50", len(first))
	}

	second, err := svc.Load(context.Background(), 50, filters, false)
	if err != nil {
		t.Fatalf("second Load() error: %v", err)
	}
	if len(second) != 50 {
		t.Fatalf("second Load() returned %d chats, want 50", len(second))
	}
	if calls := ft.chatCalls.Load(); calls != 1 {
		t.Errorf("transport called %d times, want 1 (second load should be a cache hit)", calls)
	}
}

func TestChatWindowGrowsAndNeverShrinks(t *testing.T) {
	available := 80
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			if limit > available {
				limit = available
			}
			return makeChats(limit), nil
		},
	}
	svc := NewChatCacheService(ft, testSettings(), testConfig())
	filters := models.ChatFilters{}

	chats, err := svc.Load(context.Background(), 50, filters, false)
	if err != nil {
		t.Fatalf("Load(50) error: %v", err)
	}
	if len(chats) != 50 || !svc.HasMore() {
		t.Fatalf("Load(50): len=%d hasMore=%v, want 50/true", len(chats), svc.HasMore())
	}

	// growing the window past what the upstream has
	chats, err = svc.Load(context.Background(), 100, filters, false)
	if err != nil {
		t.Fatalf("Load(100) error: %v", err)
	}
	if len(chats) != 80 {
		t.Errorf("Load(100) returned %d chats, want 80", len(chats))
	}
	if svc.WindowSize() != 100 {
		t.Errorf("WindowSize() = %d, want 100", svc.WindowSize())
	}
	if svc.HasMore() {
		t.Error("HasMore() = true after upstream returned fewer than requested")
	}

	// a smaller request is served from the grown window
	calls := ft.chatCalls.Load()
	if _, err := svc.Load(context.Background(), 50, filters, false); err != nil {
		t.Fatalf("Load(50) after growth error: %v", err)
	}
	if ft.chatCalls.Load() != calls {
		t.Error("smaller load after growth hit the transport")
	}
}

func TestChatForceRefetchesAtFullWindow(t *testing.T) {
	var lastLimit int
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			lastLimit = limit
			return makeChats(limit), nil
		},
	}
	svc := NewChatCacheService(ft, testSettings(), testConfig())
	filters := models.ChatFilters{}

	if _, err := svc.Load(context.Background(), 100, filters, false); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, err := svc.Load(context.Background(), 20, filters, true); err != nil {
		t.Fatalf("forced Load() error: %v", err)
	}
	if ft.chatCalls.Load() != 2 {
		t.Fatalf("transport called %d times, want 2", ft.chatCalls.Load())
	}
	if lastLimit != 100 {
		t.Errorf("forced refresh fetched %d chats, want the full window of 100", lastLimit)
	}
}

func TestChatFilterChangeTriggersRefetch(t *testing.T) {
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			return makeChats(limit), nil
		},
	}
	svc := NewChatCacheService(ft, testSettings(), testConfig())

	if _, err := svc.Load(context.Background(), 50, models.ChatFilters{OnlyUnread: true}, false); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, err := svc.Load(context.Background(), 50, models.ChatFilters{OnlyUnread: false}, false); err != nil {
		t.Fatalf("Load() with changed filters error: %v", err)
	}
	if ft.chatCalls.Load() != 2 {
		t.Errorf("transport called %d times, want 2 (filter change must refetch)", ft.chatCalls.Load())
	}
}

func TestChatFailureKeepsCachedItems(t *testing.T) {
	fail := false
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			if fail {
				return nil, &transport.Error{Kind: transport.KindRateLimited, Msg: "too many requests", RetryAfter: time.Minute}
			}
			return makeChats(limit), nil
		},
	}
	svc := NewChatCacheService(ft, testSettings(), testConfig())
	filters := models.ChatFilters{}

	if _, err := svc.Load(context.Background(), 50, filters, false); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	fail = true
	chats, err := svc.Load(context.Background(), 50, filters, true)
	if err == nil {
		t.Fatal("forced Load() during failure returned nil error")
	}
	if len(chats) != 50 {
		t.Errorf("failed refresh returned %d chats, want the 50 cached ones", len(chats))
	}
	if svc.Err() == nil {
		t.Error("Err() = nil after failed refresh")
	}
	if !svc.RateLimited() {
		t.Error("RateLimited() = false for a rate-limit failure")
	}

	// a later success clears the failure flags
	fail = false
	if _, err := svc.Load(context.Background(), 50, filters, true); err != nil {
		t.Fatalf("recovery Load() error: %v", err)
	}
	if svc.Err() != nil || svc.RateLimited() {
		t.Error("failure flags not cleared after successful refresh")
	}
}

func TestChatOverlappingLoadRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			close(started)
			<-release
			return makeChats(limit), nil
		},
	}
	svc := NewChatCacheService(ft, testSettings(), testConfig())
	filters := models.ChatFilters{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := svc.Load(context.Background(), 50, filters, false); err != nil {
			t.Errorf("background Load() error: %v", err)
		}
	}()

	<-started
	chats, err := svc.Load(context.Background(), 50, filters, false)
	if err != nil {
		t.Fatalf("overlapping Load() error: %v", err)
	}
	if len(chats) != 0 {
		t.Errorf("overlapping Load() returned %d chats, want the empty current window", len(chats))
	}
	close(release)
	<-done

	if ft.chatCalls.Load() != 1 {
		t.Errorf("transport called %d times, want 1 (overlap must be rejected)", ft.chatCalls.Load())
	}
}

func TestChatLoadMoreGrowsByOnePage(t *testing.T) {
	var lastLimit int
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			lastLimit = limit
			return makeChats(limit), nil
		},
	}
	svc := NewChatCacheService(ft, testSettings(), testConfig())
	filters := models.ChatFilters{}

	if _, err := svc.Load(context.Background(), 50, filters, false); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	chats, err := svc.LoadMore(context.Background(), filters)
	if err != nil {
		t.Fatalf("LoadMore() error: %v", err)
	}
	if lastLimit != 100 {
		t.Errorf("LoadMore fetched %d chats, want 100", lastLimit)
	}
	if len(chats) != 100 || svc.WindowSize() != 100 {
		t.Errorf("after LoadMore: len=%d windowSize=%d, want 100/100", len(chats), svc.WindowSize())
	}
}

func TestChatLoadMoreBeforeFirstLoadIsNoop(t *testing.T) {
	ft := &fakeTransport{}
	svc := NewChatCacheService(ft, testSettings(), testConfig())

	chats, err := svc.LoadMore(context.Background(), models.ChatFilters{})
	if err != nil {
		t.Fatalf("LoadMore() error: %v", err)
	}
	if len(chats) != 0 || ft.chatCalls.Load() != 0 {
		t.Error("LoadMore before first Load must not fetch")
	}
}

func TestChatReset(t *testing.T) {
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			return makeChats(limit), nil
		},
	}
	svc := NewChatCacheService(ft, testSettings(), testConfig())
	filters := models.ChatFilters{}

	if _, err := svc.Load(context.Background(), 50, filters, false); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	svc.Reset()

	if len(svc.Items()) != 0 || svc.WindowSize() != 0 || svc.HasMore() {
		t.Error("Reset() left cached state behind")
	}
	if !svc.NeedsRefresh(50, filters) {
		t.Error("NeedsRefresh() = false after Reset")
	}
	if _, err := svc.Load(context.Background(), 50, filters, false); err != nil {
		t.Fatalf("Load() after Reset error: %v", err)
	}
	if ft.chatCalls.Load() != 2 {
		t.Errorf("transport called %d times, want 2 (load after reset must fetch)", ft.chatCalls.Load())
	}
}

func TestChatByID(t *testing.T) {
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			return makeChats(limit), nil
		},
	}
	svc := NewChatCacheService(ft, testSettings(), testConfig())

	if _, err := svc.Load(context.Background(), 10, models.ChatFilters{}, false); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c, ok := svc.ChatByID(7); !ok || c.ID != 7 {
		t.Errorf("ChatByID(7) = %+v, %v", c, ok)
	}
	if _, ok := svc.ChatByID(999); ok {
		t.Error("ChatByID(999) found a chat outside the window")
	}
}

func TestChatTTLExpiryTriggersRefetch(t *testing.T) {
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			return makeChats(limit), nil
		},
	}
	svc := NewChatCacheService(ft, testSettings(), testConfig())
	filters := models.ChatFilters{}

	if _, err := svc.Load(context.Background(), 50, filters, false); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	svc.mu.Lock()
	svc.entry.FetchedAt = time.Now().Add(-time.Hour)
	svc.mu.Unlock()

	if !svc.NeedsRefresh(50, filters) {
		t.Fatal("NeedsRefresh() = false for an expired entry")
	}
	if _, err := svc.Load(context.Background(), 50, filters, false); err != nil {
		t.Fatalf("Load() after expiry error: %v", err)
	}
	if ft.chatCalls.Load() != 2 {
		t.Errorf("transport called %d times, want 2 (expired entry must refetch)", ft.chatCalls.Load())
	}
}

func TestChatSettingsTTLOverridesDefault(t *testing.T) {
	ft := &fakeTransport{
		fetchChats: func(_ context.Context, limit int, _ models.ChatFilters) ([]models.Chat, error) {
			return makeChats(limit), nil
		},
	}
	st := &settings.Static{TTLs: map[string]int{settings.EntityChats: 120}}
	svc := NewChatCacheService(ft, st, testConfig())
	filters := models.ChatFilters{}

	if _, err := svc.Load(context.Background(), 50, filters, false); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// stale under the 5m default but fresh under the 120m override
	svc.mu.Lock()
	svc.entry.FetchedAt = time.Now().Add(-30 * time.Minute)
	svc.mu.Unlock()

	if svc.NeedsRefresh(50, filters) {
		t.Error("NeedsRefresh() = true despite the longer configured TTL")
	}
}

var errBackend = errors.New("backend unavailable")
