package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"chattriage/internal/ai"
	"chattriage/internal/config"
	"chattriage/internal/logging"
	"chattriage/internal/models"
	"chattriage/internal/services"
	"chattriage/internal/settings"
	"chattriage/internal/transport"
)

// App wires the cache layer together: one settings store, one rate-limited
// transport, and the four cache services plus the background prefetcher. The
// embedding client constructs one App per login session and calls Reset on
// logout.
type App struct {
	Config    *config.Config
	Settings  *settings.Store
	Chats     *services.ChatCacheService
	Messages  *services.MessageCacheService
	Briefing  *services.BriefingService
	Summaries *services.SummaryService
	Prefetch  *services.PrefetchService
}

// New assembles the cache layer around the given transport and assistant.
// The transport is wrapped with outbound rate limiting before any service
// sees it.
func New(t transport.Transport, assistant ai.Assistant) (*App, error) {
	logging.Init()
	cfg := config.Load()
	services.InitMetrics()

	defaults := &settings.Static{
		Filters: models.ChatFilters{
			Types:               []string{models.ChatTypePrivate, models.ChatTypeGroup},
			ExcludeLargeGroups:  true,
			LargeGroupThreshold: cfg.LargeGroupThreshold,
		},
		TTLs: map[string]int{
			settings.EntityChats:     cfg.ChatsTTLMinutes,
			settings.EntityMessages:  cfg.MessagesTTLMinutes,
			settings.EntityBriefing:  cfg.BriefingTTLMinutes,
			settings.EntitySummaries: cfg.SummariesTTLMinutes,
		},
	}

	store, err := settings.Open(cfg.SettingsDBPath, defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}

	limited := transport.NewRateLimited(t, cfg.SendMinInterval)

	chats := services.NewChatCacheService(limited, store, cfg)
	messages := services.NewMessageCacheService(limited, store, cfg)
	briefing := services.NewBriefingService(chats, messages, assistant, store, cfg)
	summaries := services.NewSummaryService(chats, messages, assistant, store, cfg)
	prefetch := services.NewPrefetchService(chats, briefing, summaries, store, cfg)

	logrus.WithField("environment", cfg.Environment).Info("cache layer assembled")

	return &App{
		Config:    cfg,
		Settings:  store,
		Chats:     chats,
		Messages:  messages,
		Briefing:  briefing,
		Summaries: summaries,
		Prefetch:  prefetch,
	}, nil
}

// Start begins background prefetching
func (a *App) Start() error {
	return a.Prefetch.Start()
}

// Reset clears every cache; called on logout so the next account never sees
// the previous account's data. Settings survive a logout.
func (a *App) Reset() {
	a.Prefetch.Stop()
	a.Chats.Reset()
	a.Messages.Reset()
	a.Briefing.Reset()
	a.Summaries.Reset()
}

// Close releases held resources; call once on app exit
func (a *App) Close() error {
	a.Prefetch.Stop()
	return a.Settings.Close()
}
