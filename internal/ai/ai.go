package ai

import (
	"context"

	"chattriage/internal/models"
)

// Assistant is the boundary to the AI backend that turns chat contexts into
// briefings, summaries and reply drafts. Results carry the backend's own
// cache provenance (Cached / GeneratedAt / CacheAge); that provenance is
// independent of the client-side TTL layer and is surfaced to views verbatim.
type Assistant interface {
	// GenerateBriefing classifies each chat context by priority and produces
	// a triage briefing. forceRefresh bypasses the backend's own cache;
	// ttlMinutes is passed through as the backend cache lifetime.
	GenerateBriefing(ctx context.Context, contexts []models.ChatContext, forceRefresh bool, ttlMinutes int) (*models.BriefingResult, error)

	// GenerateSummaries produces one summary per chat context
	GenerateSummaries(ctx context.Context, contexts []models.SummaryContext, forceRefresh bool, ttlMinutes int) (*models.SummaryBatch, error)

	// GenerateDraft produces a reply draft for a single chat. Drafts are
	// one-shot and never cached.
	GenerateDraft(ctx context.Context, chatID int64, title string, messages []models.Message) (string, error)
}
