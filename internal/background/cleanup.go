package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/kestrelhq/warden/internal/ratelimit"
)

// ArchiveCleaner removes expired attempt records.
type ArchiveCleaner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically drops expired archive rows and evicts
// idle per-identifier guards.
type CleanupManager struct {
	archive      ArchiveCleaner
	limits       *ratelimit.Service
	logger       *slog.Logger
	interval     time.Duration
	guardMaxIdle time.Duration
	stopCh       chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	archive ArchiveCleaner,
	limits *ratelimit.Service,
	logger *slog.Logger,
	interval time.Duration,
	guardMaxIdle time.Duration,
) *CleanupManager {
	return &CleanupManager{
		archive:      archive,
		limits:       limits,
		logger:       logger,
		interval:     interval,
		guardMaxIdle: guardMaxIdle,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	if cm.archive != nil {
		cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		rowsDeleted, err := cm.archive.DeleteExpired(cleanupCtx)
		cancel()
		if err != nil {
			cm.logger.Error("failed to delete expired attempt records", slog.Any("error", err))
		} else if rowsDeleted > 0 {
			cm.logger.Info("expired attempt records deleted", slog.Int64("rows_deleted", rowsDeleted))
		}
	}

	if cm.limits != nil {
		evicted := cm.limits.EvictIdle(cm.guardMaxIdle)
		if evicted > 0 {
			cm.logger.Info("idle guards evicted", slog.Int("count", evicted))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
