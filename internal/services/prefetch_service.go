package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"chattriage/internal/config"
	"chattriage/internal/logging"
	"chattriage/internal/models"
	"chattriage/internal/settings"
)

// PrefetchService refreshes the caches in the background so the user rarely
// waits on a cold load. Prefetch passes reuse the services' silent load path:
// no UI loading flags are touched and failures only log, the stale cached
// data stays served.
type PrefetchService struct {
	chats     *ChatCacheService
	briefing  *BriefingService
	summaries *SummaryService
	settings  settings.Provider
	cfg       *config.Config
	log       *logrus.Entry

	scheduler gocron.Scheduler
}

// NewPrefetchService creates the background prefetcher
func NewPrefetchService(chats *ChatCacheService, briefing *BriefingService, summaries *SummaryService, s settings.Provider, cfg *config.Config) *PrefetchService {
	return &PrefetchService{
		chats:     chats,
		briefing:  briefing,
		summaries: summaries,
		settings:  s,
		cfg:       cfg,
		log:       logging.ForService("prefetch"),
	}
}

// Start schedules the periodic prefetch pass. The first pass runs
// immediately so a fresh login warms the caches right away.
func (s *PrefetchService) Start() error {
	if !s.cfg.PrefetchEnabled {
		s.log.Info("background prefetch disabled")
		return nil
	}
	if s.scheduler != nil {
		return nil
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("failed to create prefetch scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.cfg.PrefetchInterval),
		gocron.NewTask(s.run),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule prefetch job: %w", err)
	}

	scheduler.Start()
	s.scheduler = scheduler
	s.log.WithField("interval", s.cfg.PrefetchInterval).Info("background prefetch started")
	return nil
}

// Stop shuts the scheduler down; called on logout or app exit
func (s *PrefetchService) Stop() {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Shutdown(); err != nil {
		s.log.WithError(err).Warn("prefetch scheduler shutdown failed")
	}
	s.scheduler = nil
	s.log.Info("background prefetch stopped")
}

// run is one prefetch pass. Each store is refreshed only when its cache
// actually needs it, so an idle app with fresh caches does no work.
func (s *PrefetchService) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	filters := s.settings.ChatFilters()
	opts := models.AnalysisOptions{SortBy: models.SortNeedsResponse}

	if s.chats.NeedsRefresh(s.cfg.ChatPageSize, filters) {
		if _, err := s.chats.Load(ctx, s.cfg.ChatPageSize, filters, false); err != nil {
			s.log.WithError(err).Debug("chat prefetch failed")
		}
	}

	if s.briefing.NeedsRefresh(opts) {
		if err := s.briefing.Prefetch(ctx, opts); err != nil {
			s.log.WithError(err).Debug("briefing prefetch failed")
		}
	}

	if s.summaries.NeedsRefresh(opts) {
		if err := s.summaries.Prefetch(ctx, opts); err != nil {
			s.log.WithError(err).Debug("summary prefetch failed")
		}
	}
}
