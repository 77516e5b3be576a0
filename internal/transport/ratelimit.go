package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chattriage/internal/models"
)

// RateLimited wraps a Transport with outbound send throttling: a minimum
// interval between sends to the same chat, plus a global pause window honored
// when the backend reports a rate limit with a retry-after hint. Read calls
// pass through untouched.
type RateLimited struct {
	inner           Transport
	minInterval     time.Duration
	perChatLimiters sync.Map // map[int64]*rate.Limiter
	mu              sync.Mutex
	pausedUntil     time.Time
}

// NewRateLimited wraps inner with per-chat send throttling
func NewRateLimited(inner Transport, minInterval time.Duration) *RateLimited {
	return &RateLimited{
		inner:       inner,
		minInterval: minInterval,
	}
}

func (t *RateLimited) FetchChats(ctx context.Context, limit int, filters models.ChatFilters) ([]models.Chat, error) {
	return t.inner.FetchChats(ctx, limit, filters)
}

func (t *RateLimited) FetchMessages(ctx context.Context, chatID int64, limit int, fromMessageID int64) ([]models.Message, error) {
	return t.inner.FetchMessages(ctx, chatID, limit, fromMessageID)
}

func (t *RateLimited) FetchMessagesBatch(ctx context.Context, requests []BatchRequest) ([]BatchResult, error) {
	return t.inner.FetchMessagesBatch(ctx, requests)
}

// SendMessage waits out the per-chat minimum interval and any global pause
// before delegating. A rate-limit error from the backend extends the global
// pause by its RetryAfter plus a small buffer.
func (t *RateLimited) SendMessage(ctx context.Context, chatID int64, text string) (models.Message, error) {
	if err := t.waitGlobalPause(ctx); err != nil {
		return models.Message{}, err
	}

	limiter := t.chatLimiter(chatID)
	if err := limiter.Wait(ctx); err != nil {
		return models.Message{}, err
	}

	msg, err := t.inner.SendMessage(ctx, chatID, text)
	if err != nil {
		var te *Error
		if errors.As(err, &te) && te.Kind == KindRateLimited && te.RetryAfter > 0 {
			t.pause(te.RetryAfter + te.RetryAfter/10 + 5*time.Second)
		}
		return models.Message{}, err
	}
	return msg, nil
}

func (t *RateLimited) chatLimiter(chatID int64) *rate.Limiter {
	if limiter, ok := t.perChatLimiters.Load(chatID); ok {
		return limiter.(*rate.Limiter)
	}
	newLimiter := rate.NewLimiter(rate.Every(t.minInterval), 1)
	actual, _ := t.perChatLimiters.LoadOrStore(chatID, newLimiter)
	return actual.(*rate.Limiter)
}

func (t *RateLimited) pause(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(t.pausedUntil) {
		t.pausedUntil = until
	}
}

func (t *RateLimited) waitGlobalPause(ctx context.Context) error {
	t.mu.Lock()
	wait := time.Until(t.pausedUntil)
	t.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
