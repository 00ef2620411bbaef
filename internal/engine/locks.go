package engine

import "sync"

// symbolLocks serializes orchestration per symbol. Signals for different
// symbols proceed concurrently; two runs on one symbol would race entry
// submission against position polling and could over-size a flip.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for a symbol, creating it on first use. Entries
// are never removed; the symbol universe is bounded by process lifetime.
func (s *symbolLocks) get(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[symbol] = lock
	}
	return lock
}
