package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"chattriage/internal/cache"
	"chattriage/internal/models"
)

// LoadState is the UI-visible state of a derived-result cache
type LoadState int

const (
	StateIdle LoadState = iota
	StateLoading
	StateReady
	StateError
)

func (s LoadState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

func snapshot[T any](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

// chatFilterFields serializes the global chat filters for fingerprinting
func chatFilterFields(f models.ChatFilters) map[string]string {
	return map[string]string{
		"types":       cache.SetField(f.Types),
		"onlyUnread":  strconv.FormatBool(f.OnlyUnread),
		"muted":       strconv.FormatBool(f.IncludeMuted),
		"noLarge":     strconv.FormatBool(f.ExcludeLargeGroups),
		"largeThresh": strconv.Itoa(f.LargeGroupThreshold),
	}
}

// analysisFields serializes the derived-cache query: caller options plus the
// global chat filters. The sort key is deliberately excluded — changing it
// re-sorts already-loaded items in place instead of triggering a re-fetch.
func analysisFields(opts models.AnalysisOptions, filters models.ChatFilters) map[string]string {
	fields := chatFilterFields(filters)
	fields["analysisTypes"] = cache.SetField(opts.ChatTypes)
	fields["timeWindow"] = strconv.Itoa(opts.TimeWindowHours)
	fields["needsResponseOnly"] = strconv.FormatBool(opts.NeedsResponseOnly)
	return fields
}

func pageKey(fingerprint string, offset int) string {
	return fmt.Sprintf("%s#%d", fingerprint, offset)
}

// eligibleChats applies the global chat filters and the analysis options on
// top of the cached chat window. The filters are re-applied here because the
// window may have been fetched before the current filter settings. The
// snapshot is taken once per load; later chat-collection updates are not
// observed mid-pass.
func eligibleChats(chats []models.Chat, opts models.AnalysisOptions, filters models.ChatFilters, now time.Time) []models.Chat {
	var out []models.Chat
	cutoff := int64(0)
	if opts.TimeWindowHours > 0 {
		cutoff = now.Add(-time.Duration(opts.TimeWindowHours) * time.Hour).Unix()
	}
	for _, c := range chats {
		if !filters.Match(&c) {
			continue
		}
		if len(opts.ChatTypes) > 0 && !containsString(opts.ChatTypes, c.Type) {
			continue
		}
		if cutoff > 0 {
			if c.LastMessage == nil || c.LastMessage.Date < cutoff {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// lastActivity returns the unix timestamp of a chat's most recent message
func lastActivity(c *models.Chat) int64 {
	if c.LastMessage != nil {
		return c.LastMessage.Date
	}
	return 0
}

func hoursSince(ts int64, now time.Time) float64 {
	if ts == 0 {
		return 0
	}
	return now.Sub(time.Unix(ts, 0)).Hours()
}

// hasUnansweredQuestion reports whether the newest incoming message looks
// like a question the user has not replied to yet
func hasUnansweredQuestion(messages []models.Message) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	return !last.IsOutgoing && strings.Contains(last.Text, "?")
}

// tailMessages returns the most recent n messages of an ascending window,
// preserving order
func tailMessages(messages []models.Message, n int) []models.Message {
	if len(messages) <= n {
		return snapshot(messages)
	}
	return snapshot(messages[len(messages)-n:])
}
