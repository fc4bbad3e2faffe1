package framesource

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the camera sampling period.
const DefaultInterval = 500 * time.Millisecond

// Sampler runs fn on a fixed period until stopped. Ticks are suspended while
// paused, so fn is never invoked between Pause and Resume.
type Sampler struct {
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	paused  bool
	resumed chan struct{}
}

// NewSampler creates a sampler. Non-positive intervals fall back to DefaultInterval.
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{interval: interval}
}

// Start launches the loop. A running loop is stopped first.
func (s *Sampler) Start(ctx context.Context, fn func(context.Context)) {
	s.Stop()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.paused = false
	s.resumed = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}

			s.mu.Lock()
			paused, resumed := s.paused, s.resumed
			s.mu.Unlock()
			if paused {
				ticker.Stop()
				select {
				case <-loopCtx.Done():
					return
				case <-resumed:
				}
				ticker.Reset(s.interval)
				continue
			}
			fn(loopCtx)
		}
	}()
}

// Pause suspends sampling. It is safe to call from inside fn.
func (s *Sampler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.resumed = make(chan struct{})
	}
}

// Resume restarts sampling after Pause.
func (s *Sampler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		close(s.resumed)
	}
}

// Running reports whether a loop is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stop cancels the loop and waits for it to exit. It must not be called from
// inside fn.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
