package cleanup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/retry"
	"github.com/rs/zerolog"
)

// Store is the retention queue. Satisfied by *db.DB.
type Store interface {
	DueCleanupEntries(ctx context.Context, now time.Time) ([]models.CleanupQueueEntry, error)
	CompleteCleanupEntry(ctx context.Context, id uuid.UUID) error
	RecordCleanupFailure(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error
}

// ObjectStore deletes bucket objects by their recorded public URL.
// Satisfied by *storage.Store.
type ObjectStore interface {
	Delete(ctx context.Context, objectPath string) error
	ObjectPathFromURL(publicURL string) (string, error)
}

// Scheduler sweeps the cleanup queue and deletes assets whose retention
// window has passed. Final videos arrive here with a 24 hour deadline;
// intermediates only appear when their immediate post-stitch deletion
// failed and needs retrying. Deletion of an already missing object counts
// as success, so sweeps are safely re-runnable.
type Scheduler struct {
	store       Store
	objects     ObjectStore
	sweepPeriod time.Duration
	backoff     retry.Policy
	log         zerolog.Logger
}

func NewScheduler(store Store, objects ObjectStore, sweepPeriod time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		objects:     objects,
		sweepPeriod: sweepPeriod,
		backoff:     retry.Policy{BaseDelay: time.Minute, MaxDelay: time.Hour},
		log:         log.With().Str("component", "cleanup").Logger(),
	}
}

// Run sweeps on a fixed period until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("period", s.sweepPeriod).Msg("cleanup scheduler started")

	ticker := time.NewTicker(s.sweepPeriod)
	defer ticker.Stop()

	for {
		s.Sweep(ctx, time.Now())

		select {
		case <-ctx.Done():
			s.log.Info().Msg("cleanup scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep processes every entry due at the given instant.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	entries, err := s.store.DueCleanupEntries(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list due cleanup entries")
		return
	}

	for i := range entries {
		if ctx.Err() != nil {
			return
		}
		s.processEntry(ctx, &entries[i])
	}

	if len(entries) > 0 {
		s.log.Info().Int("processed", len(entries)).Msg("cleanup sweep finished")
	}
}

func (s *Scheduler) processEntry(ctx context.Context, entry *models.CleanupQueueEntry) {
	log := s.log.With().Str("entry_id", entry.ID.String()).
		Str("asset_type", string(entry.AssetType)).Logger()

	objectPath, err := s.objects.ObjectPathFromURL(entry.AssetURL)
	if err == nil {
		err = s.objects.Delete(ctx, objectPath)
	}

	if err != nil {
		retryAt := time.Now().Add(s.backoff.Delay(entry.Attempts + 1))
		log.Warn().Err(err).Time("retry_at", retryAt).Msg("asset deletion failed")
		if recErr := s.store.RecordCleanupFailure(ctx, entry.ID, err.Error(), retryAt); recErr != nil {
			log.Error().Err(recErr).Msg("failed to record cleanup failure")
		}
		return
	}

	if err := s.store.CompleteCleanupEntry(ctx, entry.ID); err != nil {
		log.Error().Err(err).Msg("failed to complete cleanup entry")
		return
	}
	log.Info().Str("asset_url", entry.AssetURL).Msg("asset deleted")
}
