package services

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"chattriage/internal/config"
	"chattriage/internal/logging"
	"chattriage/internal/models"
	"chattriage/internal/settings"
	"chattriage/internal/transport"
)

// messageWindow is the per-chat cache record: the messages loaded so far in
// ascending id order, when the head of the window was last fetched, and the
// last per-chat fetch error if any.
type messageWindow struct {
	messages []models.Message
	loadedAt time.Time
	err      error
}

// MessageCacheService caches per-chat message windows. Windows grow backwards
// through history via paginated fetches and forwards via live AddMessage
// events; the head fetch (fromMessageID == 0) replaces the window.
type MessageCacheService struct {
	transport transport.Transport
	settings  settings.Provider
	cfg       *config.Config
	log       *logrus.Entry

	mu       sync.Mutex
	windows  *gocache.Cache
	inFlight map[int64]bool // chats with a head fetch in progress
}

// NewMessageCacheService creates the per-chat message cache
func NewMessageCacheService(t transport.Transport, s settings.Provider, cfg *config.Config) *MessageCacheService {
	return &MessageCacheService{
		transport: t,
		settings:  s,
		cfg:       cfg,
		log:       logging.ForService("message-cache"),
		windows:   gocache.New(time.Hour, 10*time.Minute),
		inFlight:  make(map[int64]bool),
	}
}

func windowKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// window returns the cached window for a chat, or nil. Callers must hold mu.
func (s *MessageCacheService) window(chatID int64) *messageWindow {
	if v, ok := s.windows.Get(windowKey(chatID)); ok {
		return v.(*messageWindow)
	}
	return nil
}

// LoadMessages returns messages for a chat. A head load (fromMessageID == 0)
// is served from cache while fresh and replaces the window when it fetches;
// an overlapping head load for the same chat is coalesced into the running
// one. A paginated load (fromMessageID > 0) always fetches and merges older
// messages into the window. On failure the previous window is preserved and
// returned alongside the error.
func (s *MessageCacheService) LoadMessages(ctx context.Context, chatID int64, limit int, fromMessageID int64, force bool) ([]models.Message, error) {
	if limit <= 0 {
		limit = s.cfg.MessagesPerChat
	}

	if fromMessageID == 0 {
		s.mu.Lock()
		if !force {
			if w := s.window(chatID); w != nil && len(w.messages) > 0 && time.Since(w.loadedAt) < s.ttl() {
				messages := snapshot(w.messages)
				s.mu.Unlock()
				recordHit(storeMessages)
				return messages, nil
			}
		}
		if s.inFlight[chatID] {
			var messages []models.Message
			if w := s.window(chatID); w != nil {
				messages = snapshot(w.messages)
			}
			s.mu.Unlock()
			recordInFlightRejected(storeMessages)
			s.log.WithField("chatID", chatID).Debug("head load already in flight, serving current window")
			return messages, nil
		}
		s.inFlight[chatID] = true
		s.mu.Unlock()
	}

	recordMiss(storeMessages)
	s.log.WithFields(logrus.Fields{"chatID": chatID, "limit": limit, "from": fromMessageID}).Debug("fetching messages")

	fetched, err := s.transport.FetchMessages(ctx, chatID, limit, fromMessageID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if fromMessageID == 0 {
		delete(s.inFlight, chatID)
	}

	if err != nil {
		w := s.window(chatID)
		if w == nil {
			w = &messageWindow{}
			s.windows.Set(windowKey(chatID), w, gocache.DefaultExpiration)
		}
		w.err = err
		recordRefresh(storeMessages, false)
		if transport.IsRateLimited(err) {
			s.log.WithError(err).WithField("chatID", chatID).Warn("rate limited, keeping cached messages")
		} else {
			s.log.WithError(err).WithField("chatID", chatID).Error("message fetch failed, keeping cached messages")
		}
		return snapshot(w.messages), err
	}

	sortMessages(fetched)

	w := s.window(chatID)
	if w == nil {
		w = &messageWindow{}
		s.windows.Set(windowKey(chatID), w, gocache.DefaultExpiration)
	}

	if fromMessageID == 0 {
		// head fetch replaces the window and refreshes its timestamp
		w.messages = fetched
		w.loadedAt = time.Now()
	} else {
		w.messages = mergeMessages(w.messages, fetched)
	}
	w.err = nil
	recordRefresh(storeMessages, true)
	return snapshot(w.messages), nil
}

// AddMessage appends a live message to the chat's window. Live messages
// always carry the highest id seen so far, so an append keeps the window
// sorted without a re-sort. Chats never opened are skipped.
func (s *MessageCacheService) AddMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.window(msg.ChatID)
	if w == nil {
		return
	}
	for _, m := range w.messages {
		if m.ID == msg.ID {
			return
		}
	}
	w.messages = append(w.messages, msg)
}

// BatchLoadMessages fetches recent messages for many chats in one transport
// round trip, typically ahead of an analysis pass. Chats with a fresh-enough
// window are served from cache and excluded from the request. A failed chat
// contributes an empty slice and records its error on the window without
// clobbering previously cached messages.
func (s *MessageCacheService) BatchLoadMessages(ctx context.Context, requests []transport.BatchRequest) (map[int64][]models.Message, error) {
	result := make(map[int64][]models.Message, len(requests))

	s.mu.Lock()
	var stale []transport.BatchRequest
	for _, req := range requests {
		if w := s.window(req.ChatID); w != nil && len(w.messages) > 0 && time.Since(w.loadedAt) < s.cfg.BatchFreshness {
			result[req.ChatID] = snapshot(w.messages)
			recordHit(storeMessages)
			continue
		}
		stale = append(stale, req)
	}
	s.mu.Unlock()

	if len(stale) == 0 {
		return result, nil
	}

	passID := uuid.NewString()[:8]
	s.log.WithFields(logrus.Fields{"pass": passID, "total": len(requests), "fetching": len(stale)}).Info("batch loading messages")

	batch, err := s.transport.FetchMessagesBatch(ctx, stale)
	if err != nil {
		s.log.WithError(err).WithField("pass", passID).Error("batch message fetch failed")
		return result, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, br := range batch {
		w := s.window(br.ChatID)
		if w == nil {
			w = &messageWindow{}
			s.windows.Set(windowKey(br.ChatID), w, gocache.DefaultExpiration)
		}
		if br.Err != nil {
			w.err = br.Err
			result[br.ChatID] = []models.Message{}
			recordBatchFailure()
			s.log.WithError(br.Err).WithField("chatID", br.ChatID).Warn("chat failed in batch fetch")
			continue
		}
		msgs := br.Messages
		sortMessages(msgs)
		w.messages = msgs
		w.loadedAt = time.Now()
		w.err = nil
		result[br.ChatID] = snapshot(msgs)
	}
	return result, nil
}

// Messages returns the cached window for a chat without fetching
func (s *MessageCacheService) Messages(chatID int64) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.window(chatID); w != nil {
		return snapshot(w.messages)
	}
	return nil
}

// Err returns the last fetch error recorded for a chat, if any
func (s *MessageCacheService) Err(chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.window(chatID); w != nil {
		return w.err
	}
	return nil
}

// Reset drops every cached window; called on logout
func (s *MessageCacheService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows.Flush()
	s.inFlight = make(map[int64]bool)
	s.log.Info("message cache reset")
}

func (s *MessageCacheService) ttl() time.Duration {
	minutes := s.settings.TTLMinutes(settings.EntityMessages)
	if minutes <= 0 {
		minutes = s.cfg.MessagesTTLMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func sortMessages(messages []models.Message) {
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
}

// mergeMessages unions two message sets, deduplicating by id with existing
// messages winning, and returns them sorted ascending by id.
func mergeMessages(existing, fetched []models.Message) []models.Message {
	seen := make(map[int64]struct{}, len(existing))
	merged := make([]models.Message, 0, len(existing)+len(fetched))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range fetched {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		merged = append(merged, m)
	}
	sortMessages(merged)
	return merged
}
