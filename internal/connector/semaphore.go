package connector

import "github.com/chunkfs/chunkwriter/internal/errors"

// semaphore bounds the number of chains being dialed at once, the
// same shape as restic's internal/backend.Semaphore bounding concurrent
// backend operations — adapted here to guard ConnectChain instead of a
// backend request.
type semaphore struct {
	ch chan struct{}
}

// newSemaphore returns a semaphore with capacity n.
func newSemaphore(n uint) (*semaphore, error) {
	if n == 0 {
		return nil, errors.New("connector: semaphore capacity must be positive")
	}
	return &semaphore{ch: make(chan struct{}, n)}, nil
}

func (s *semaphore) acquire() {
	s.ch <- struct{}{}
}

func (s *semaphore) release() {
	<-s.ch
}
