package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chattriage/internal/models"
)

// Kind classifies transport failures so callers never have to inspect error
// text. Rate limiting in particular must be surfaced structurally: the cache
// layer downgrades it to a non-fatal warning while continuing to serve
// cached data.
type Kind int

const (
	KindAPI Kind = iota
	KindNotConnected
	KindNotFound
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindNotConnected:
		return "not_connected"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "api_error"
	}
}

// Error is a structured transport failure
type Error struct {
	Kind       Kind
	Msg        string
	RetryAfter time.Duration // set for KindRateLimited when the backend says how long to wait
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limit failure
func IsRateLimited(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindRateLimited
}

// BatchRequest asks for one chat's message window as part of a batched fetch
type BatchRequest struct {
	ChatID int64
	Limit  int
}

// BatchResult carries one chat's outcome from a batched fetch. A failed chat
// has Err set and an empty Messages slice; it never fails the whole batch.
type BatchResult struct {
	ChatID   int64
	Messages []models.Message
	Err      error
}

// Transport is the boundary to the underlying chat backend. All calls are
// request/response; the cache layer owns retries, staleness and
// deduplication on top of it.
type Transport interface {
	// FetchChats returns up to limit chats matching the filters, ordered by
	// the server-provided sort key.
	FetchChats(ctx context.Context, limit int, filters models.ChatFilters) ([]models.Chat, error)

	// FetchMessages returns up to limit messages for a chat, oldest first.
	// A non-zero fromMessageID pages backwards from that message.
	FetchMessages(ctx context.Context, chatID int64, limit int, fromMessageID int64) ([]models.Message, error)

	// FetchMessagesBatch resolves several window requests in one round trip.
	// Per-chat failures are reported in the corresponding BatchResult.
	FetchMessagesBatch(ctx context.Context, requests []BatchRequest) ([]BatchResult, error)

	// SendMessage sends a text message and returns it as echoed by the server.
	SendMessage(ctx context.Context, chatID int64, text string) (models.Message, error)
}
