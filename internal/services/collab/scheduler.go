package collab

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SaveFunc durably stores the plain-text snapshot of a room.
type SaveFunc func(ctx context.Context, roomID, text string) error

type pendingSave struct {
	timer    *time.Timer
	snapshot func() string
}

// Scheduler debounces snapshot writes per room: every Schedule restarts the
// room's timer and only the last one fires.
type Scheduler struct {
	mu      sync.Mutex
	delay   time.Duration
	timeout time.Duration
	save    SaveFunc
	pending map[string]*pendingSave
	stopped bool
	wg      sync.WaitGroup
}

func NewScheduler(delay, timeout time.Duration, save SaveFunc) *Scheduler {
	return &Scheduler{
		delay:   delay,
		timeout: timeout,
		save:    save,
		pending: make(map[string]*pendingSave),
	}
}

// Schedule (re)arms the room's timer. snapshot is called when the timer
// fires and must be safe to call from another goroutine.
func (s *Scheduler) Schedule(roomID string, snapshot func() string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if p, ok := s.pending[roomID]; ok {
		p.timer.Stop()
	}
	p := &pendingSave{snapshot: snapshot}
	p.timer = time.AfterFunc(s.delay, func() { s.fire(roomID, p) })
	s.pending[roomID] = p
}

func (s *Scheduler) fire(roomID string, p *pendingSave) {
	s.mu.Lock()
	if s.pending[roomID] != p {
		// superseded or flushed
		s.mu.Unlock()
		return
	}
	delete(s.pending, roomID)
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.run(roomID, p.snapshot())
}

// Flush writes the room's pending snapshot now instead of waiting for the
// timer. The write itself runs in the background.
func (s *Scheduler) Flush(roomID string) {
	s.mu.Lock()
	p, ok := s.pending[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.timer.Stop()
	delete(s.pending, roomID)
	s.wg.Add(1)
	s.mu.Unlock()

	text := p.snapshot()
	go func() {
		defer s.wg.Done()
		s.run(roomID, text)
	}()
}

// Cancel drops the room's pending snapshot without writing it.
func (s *Scheduler) Cancel(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[roomID]; ok {
		p.timer.Stop()
		delete(s.pending, roomID)
	}
}

// Pending reports whether roomID has an armed timer.
func (s *Scheduler) Pending(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[roomID]
	return ok
}

// Stop flushes every pending snapshot and waits for in-flight writes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Flush(id)
	}
	s.wg.Wait()
}

func (s *Scheduler) run(roomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.save(ctx, roomID, text); err != nil {
		zap.L().Warn("collab.snapshot_save", zap.String("room", roomID), zap.Error(err))
		return
	}
	zap.L().Debug("collab.snapshot_saved", zap.String("room", roomID), zap.Int("chars", len(text)))
}
