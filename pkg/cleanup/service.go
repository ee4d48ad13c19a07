// Package cleanup compacts the append-only record store on a schedule.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/trailtag/trailtag/pkg/cache"
	"github.com/trailtag/trailtag/pkg/config"
	"github.com/trailtag/trailtag/pkg/models"
	"github.com/trailtag/trailtag/pkg/storage"
)

// Service periodically rewrites the storage snapshot, dropping cache records
// no read can reach anymore:
//   - Tombstoned keys, together with the older records the tombstone masks
//   - Expired records whose TTL deadline passed more than the grace window ago
//
// Everything else keeps its place: memory entries, live cache records, and
// records written after a tombstone revived their key.
type Service struct {
	config *config.CleanupConfig
	store  *storage.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the retention sweeper over the given record store.
func NewService(cfg *config.CleanupConfig, store *storage.Store) *Service {
	if store == nil {
		panic("cleanup.NewService: store must not be nil")
	}
	if cfg == nil {
		// Direct constructions bypass the config loader's normalization.
		cfg = config.DefaultCleanupConfig()
	}
	return &Service{config: cfg, store: store}
}

// Start launches the background sweep loop. A disabled config makes Start a
// no-op, so callers can wire the service unconditionally.
func (s *Service) Start(ctx context.Context) {
	if !s.config.Active() {
		slog.Info("Retention sweeper disabled")
		return
	}
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention sweeper started",
		"interval", s.interval(),
		"grace", s.config.Grace.Duration)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep()

	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) interval() time.Duration {
	if d := s.config.Interval.Duration; d > 0 {
		return d
	}
	return config.DefaultCleanupConfig().Interval.Duration
}

// sweep compacts the record set and rewrites the snapshot when anything was
// dropped. Sweeps that find nothing leave the snapshot file untouched.
func (s *Service) sweep() {
	entries := s.store.Entries()
	kept, masked, expired := compact(entries, time.Now(), s.config.Grace.Duration)
	if masked == 0 && expired == 0 {
		return
	}
	s.store.Replace(kept)
	slog.Info("Retention: compacted cache records",
		"masked", masked,
		"expired", expired,
		"kept", len(kept))
}

// compact walks the record set oldest-first and returns the survivors in
// their original order, plus counts of what was dropped and why. A record
// survives unless the newest tombstone for its key sits at or after it, or
// its TTL deadline is more than grace behind now.
func compact(entries []*models.MemoryEntry, now time.Time, grace time.Duration) (kept []*models.MemoryEntry, masked, expired int) {
	lastTombstone := make(map[string]int)
	for i, e := range entries {
		if e.Type != models.MemoryTypeCache || !storage.IsDeleted(e) {
			continue
		}
		if key, ok := e.Metadata["key"].(string); ok && key != "" {
			lastTombstone[key] = i
		}
	}

	kept = make([]*models.MemoryEntry, 0, len(entries))
	for i, e := range entries {
		if e.Type != models.MemoryTypeCache {
			kept = append(kept, e)
			continue
		}
		if key, ok := e.Metadata["key"].(string); ok {
			if at, found := lastTombstone[key]; found && i <= at {
				masked++
				continue
			}
		}
		if cache.Expired(e.Metadata, now, grace) {
			expired++
			continue
		}
		kept = append(kept, e)
	}
	return kept, masked, expired
}
