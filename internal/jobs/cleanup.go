package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caixalink/pairing-server-go/internal/repository"
	"github.com/caixalink/pairing-server-go/internal/service"
)

const (
	cleanupTimeout  = 30 * time.Second
	staleSessionAge = 24 * time.Hour
)

// CleanupJob periodically prunes what the hot path leaves behind: aged
// audit rows, consumed-code tombstones, and sessions that never opened a
// stream.
type CleanupJob struct {
	eventRepo      repository.PairingEventRepository
	registry       *service.Registry
	interval       time.Duration
	auditRetention time.Duration
	tombstoneTTL   time.Duration
	done           chan struct{}
}

func NewCleanupJob(
	eventRepo repository.PairingEventRepository,
	registry *service.Registry,
	interval time.Duration,
	auditRetention time.Duration,
	tombstoneTTL time.Duration,
) *CleanupJob {
	return &CleanupJob{
		eventRepo:      eventRepo,
		registry:       registry,
		interval:       interval,
		auditRetention: auditRetention,
		tombstoneTTL:   tombstoneTTL,
		done:           make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	now := time.Now()

	if j.eventRepo != nil {
		j.runCleanup(ctx, "pairing events", func(ctx context.Context) (int64, error) {
			return j.eventRepo.DeleteOlderThan(ctx, now.Add(-j.auditRetention))
		})
	}
	j.runCleanup(ctx, "consumed codes", func(ctx context.Context) (int64, error) {
		return j.registry.PruneConsumed(now.Add(-j.tombstoneTTL)), nil
	})
	j.runCleanup(ctx, "stale sessions", func(ctx context.Context) (int64, error) {
		return j.registry.PruneStaleSessions(now.Add(-staleSessionAge)), nil
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
