package engine

import "sync"

type outcome struct {
	result RunResult
	err    error
}

// outcomeSlot is a single-assignment result. The first resolve wins and every
// later one is a no-op.
type outcomeSlot struct {
	once  sync.Once
	value outcome
	done  chan struct{}
}

func newOutcomeSlot() *outcomeSlot {
	return &outcomeSlot{done: make(chan struct{})}
}

func (s *outcomeSlot) resolve(o outcome) bool {
	won := false
	s.once.Do(func() {
		s.value = o
		won = true
		close(s.done)
	})
	return won
}

func (s *outcomeSlot) fail(err error) bool {
	return s.resolve(outcome{err: err})
}

// get returns the resolved outcome. ok is false while unresolved.
func (s *outcomeSlot) get() (outcome, bool) {
	select {
	case <-s.done:
		return s.value, true
	default:
		return outcome{}, false
	}
}
