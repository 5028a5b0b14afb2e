// ABOUTME: In-process completion signals keyed by row
// ABOUTME: Lets a waiting flow wake as soon as a concurrent lead creation finishes
package lock

import (
	"context"
	"sync"
	"time"
)

// Signals wakes flows waiting on a row's lead creation. Waiters still give up
// after their timeout, so a creation finished by another process only costs
// the full wait.
type Signals struct {
	mu      sync.Mutex
	waiters map[int][]chan struct{}
}

func NewSignals() *Signals {
	return &Signals{waiters: make(map[int][]chan struct{})}
}

// Wait blocks until Broadcast(row), the timeout, or ctx ends. It reports
// whether it was woken by a broadcast.
func (s *Signals) Wait(ctx context.Context, row int, timeout time.Duration) bool {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters[row] = append(s.waiters[row], ch)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	s.remove(row, ch)
	return false
}

// Broadcast wakes every waiter on row.
func (s *Signals) Broadcast(row int) {
	s.mu.Lock()
	waiters := s.waiters[row]
	delete(s.waiters, row)
	s.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

func (s *Signals) remove(row int, target chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.waiters[row]
	for i, ch := range waiters {
		if ch == target {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(s.waiters, row)
		return
	}
	s.waiters[row] = waiters
}
