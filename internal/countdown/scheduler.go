package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"mathduel/pkg/types"
)

// Starter is the slice of the session store the scheduler drives.
type Starter interface {
	MarkStarting(sessionID string) (*types.Session, error)
	MarkWaiting(sessionID string) (*types.Session, error)
	Start(sessionID string) (*types.Session, error)
}

// Publisher fans countdown ticks out to the session's room.
type Publisher interface {
	Publish(sessionID, event string, payload interface{})
}

// Scheduler runs at most one lobby countdown per session:
// Idle -> Counting(n) -> Fired, or back to Idle on cancel. Firing is
// terminal for that instance; a later StartCountdown starts a fresh
// one. A second StartCountdown while counting is rejected so two
// participants cannot race each other into a double start.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*timer

	starter Starter
	pub     Publisher
	clock   clockwork.Clock
	logger  *zap.Logger
}

type timer struct {
	cancel chan struct{}
	once   sync.Once
}

func (t *timer) stop() {
	t.once.Do(func() { close(t.cancel) })
}

func NewScheduler(starter Starter, pub Publisher, clock clockwork.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		timers:  make(map[string]*timer),
		starter: starter,
		pub:     pub,
		clock:   clock,
		logger:  logger,
	}
}

// StartCountdown begins a countdown from fromSeconds, publishing the
// initial value immediately and one tick per second after that. At
// zero it starts the session and publishes session_started exactly
// once.
func (s *Scheduler) StartCountdown(sessionID string, fromSeconds int) error {
	if fromSeconds <= 0 {
		fromSeconds = 5
	}

	s.mu.Lock()
	if _, running := s.timers[sessionID]; running {
		s.mu.Unlock()
		return types.ErrAlreadyCounting
	}
	t := &timer{cancel: make(chan struct{})}
	s.timers[sessionID] = t
	s.mu.Unlock()

	if _, err := s.starter.MarkStarting(sessionID); err != nil {
		s.remove(sessionID)
		return err
	}

	s.logger.Info("countdown started",
		zap.String("session_id", sessionID),
		zap.Int("from", fromSeconds))

	go s.run(sessionID, fromSeconds, t)
	return nil
}

// Cancel stops a running countdown and returns the session to the
// waiting state. No-op when nothing is counting.
func (s *Scheduler) Cancel(sessionID string) {
	s.mu.Lock()
	t, ok := s.timers[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	t.stop()
}

// Counting reports whether a countdown is currently running.
func (s *Scheduler) Counting(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sessionID]
	return ok
}

func (s *Scheduler) remove(sessionID string) {
	s.mu.Lock()
	delete(s.timers, sessionID)
	s.mu.Unlock()
}

func (s *Scheduler) run(sessionID string, fromSeconds int, t *timer) {
	defer s.remove(sessionID)

	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	value := fromSeconds
	s.pub.Publish(sessionID, types.EventCountdownTick, types.TickPayload{Value: value})

	for {
		select {
		case <-ticker.Chan():
			value--
			s.pub.Publish(sessionID, types.EventCountdownTick, types.TickPayload{Value: value})
			if value > 0 {
				continue
			}

			snap, err := s.starter.Start(sessionID)
			if err != nil {
				s.logger.Error("countdown fired but session failed to start",
					zap.String("session_id", sessionID),
					zap.Error(err))
				return
			}
			s.pub.Publish(sessionID, types.EventSessionStarted, types.StatePayload{Session: snap})
			s.logger.Info("countdown fired", zap.String("session_id", sessionID))
			return

		case <-t.cancel:
			if _, err := s.starter.MarkWaiting(sessionID); err != nil {
				s.logger.Warn("countdown cancel could not reset session",
					zap.String("session_id", sessionID),
					zap.Error(err))
			}
			s.logger.Info("countdown cancelled", zap.String("session_id", sessionID))
			return
		}
	}
}
