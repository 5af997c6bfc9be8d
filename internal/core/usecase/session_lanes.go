package usecase

import (
	"context"
	"sync"
)

// sessionLanes serializes work per key in arrival order while distinct keys run in parallel.
// Each caller waits for the ticket of the caller that arrived before it.
type sessionLanes struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	tail chan struct{}
	refs int
}

func newSessionLanes() *sessionLanes {
	return &sessionLanes{lanes: make(map[string]*lane)}
}

// acquire returns a release func that must be called exactly once on success.
func (s *sessionLanes) acquire(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{}
		s.lanes[key] = l
	}
	prev := l.tail
	mine := make(chan struct{})
	l.tail = mine
	l.refs++
	s.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(mine)
			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.lanes, key)
			}
			s.mu.Unlock()
		})
	}

	if prev == nil {
		return release, nil
	}
	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		// keep the chain intact for callers queued behind us
		go func() {
			<-prev
			release()
		}()
		return nil, ctx.Err()
	}
}

func (s *sessionLanes) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}
