package game

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mathduel/pkg/types"
)

// Archiver receives evicted sessions for offline storage. Implemented
// by the database manager.
type Archiver interface {
	ArchiveSession(ctx context.Context, session *types.Session) error
}

// Sweeper periodically evicts sessions that have been empty beyond the
// grace period or have completed, archiving each before it is dropped.
// Sessions are ephemeral by design; the archive only serves roster
// lookups and lobby history.
type Sweeper struct {
	store    *Store
	archiver Archiver
	grace    time.Duration
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewSweeper creates a sweeper running on the given cron spec, e.g.
// "@every 30s".
func NewSweeper(store *Store, archiver Archiver, grace time.Duration, spec string, logger *zap.Logger) (*Sweeper, error) {
	s := &Sweeper{
		store:    store,
		archiver: archiver,
		grace:    grace,
		cron:     cron.New(),
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduled sweeps.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	evicted := s.store.CollectExpired(s.grace)
	if len(evicted) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, session := range evicted {
		if s.archiver == nil {
			continue
		}
		if err := s.archiver.ArchiveSession(ctx, session); err != nil {
			s.logger.Error("failed to archive evicted session",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}
	s.logger.Info("sweep complete", zap.Int("evicted", len(evicted)))
}
