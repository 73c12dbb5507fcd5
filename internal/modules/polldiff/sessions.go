// README: Per-viewer detectors with an idle TTL.
package polldiff

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trackd/internal/clock"
	"trackd/internal/metrics"
)

type session struct {
	mu       sync.Mutex
	detector *Detector
	lastSeen time.Time
}

// Sessions owns one Detector per viewer. A viewer's detector lives until
// Forget is called or it sits idle longer than the TTL.
type Sessions struct {
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	viewers map[string]*session
}

func NewSessions(ttl time.Duration, clk clock.Clock, logger *slog.Logger) *Sessions {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{ttl: ttl, clock: clk, logger: logger, viewers: make(map[string]*session)}
}

func (s *Sessions) DetectChanges(viewerID string, latest []Snapshot) []Change {
	sess := s.session(viewerID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastSeen = s.clock.Now()
	changes := sess.detector.DetectChanges(latest)
	metrics.PollChanges.Add(float64(len(changes)))
	return changes
}

func (s *Sessions) Forget(viewerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewers, viewerID)
}

// Sweep drops viewers idle since before now-TTL and returns how many went.
func (s *Sessions) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.viewers {
		sess.mu.Lock()
		idle := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.viewers, id)
			n++
		}
	}
	return n
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// Run sweeps on every tick until ctx is done.
func (s *Sessions) Run(ctx context.Context, every time.Duration) {
	ticker := s.clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 {
				s.logger.Debug("poll sessions expired", "count", n)
			}
		}
	}
}

func (s *Sessions) session(viewerID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.viewers[viewerID]
	if !ok {
		sess = &session{detector: NewDetector(), lastSeen: s.clock.Now()}
		s.viewers[viewerID] = sess
	}
	return sess
}
