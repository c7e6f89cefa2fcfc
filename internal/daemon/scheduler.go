package daemon

import (
	"context"
	"time"

	"github.com/tmaia/glucolog/internal/status"
	intsync "github.com/tmaia/glucolog/internal/sync"
	"go.uber.org/zap"
)

// Scheduler runs a full sync pass on a fixed cadence, driving the daemon
// state machine through SYNCING and back.
type Scheduler struct {
	engine   *intsync.Engine
	machine  *status.Machine
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewScheduler creates a scheduler that syncs every interval.
func NewScheduler(engine *intsync.Engine, machine *status.Machine, logger *zap.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		machine:  machine,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the periodic sync loop. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sync loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		s.runOnce(ctx)

		delay := s.interval
		if s.machine.Current() == status.Offline && !s.engine.Offline() {
			// Backend unreachable: probe again sooner so a regained
			// connection is picked up well before the normal cadence.
			if retry := s.interval / 5; retry < delay {
				delay = retry
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.machine.Transition(status.Syncing); err != nil {
		s.logger.Warn("skipping sync pass", zap.Error(err))
		return
	}

	result := s.engine.PerformFullSync(ctx)

	next := status.Idle
	if s.engine.Offline() {
		next = status.Offline
	} else if result.Failed > 0 && result.Pushed == 0 && result.Fetched == 0 {
		// Nothing got through in either direction; assume the backend
		// is unreachable until a later pass succeeds.
		next = status.Offline
	}
	if err := s.machine.Transition(next); err != nil {
		s.logger.Warn("state transition failed", zap.Error(err))
	}

	s.logger.Info("sync pass finished",
		zap.Int("pushed", result.Pushed),
		zap.Int("fetched", result.Fetched),
		zap.Int("failed", result.Failed),
		zap.String("state", string(s.machine.Current())),
	)
}
