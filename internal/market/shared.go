package market

import "sync"

// SharedMarket guards a Market with a single-writer/multi-reader lock so
// readers never observe a half-applied update.
type SharedMarket struct {
	mu     sync.RWMutex
	market *Market
}

func NewShared(m *Market) *SharedMarket {
	if m == nil {
		m = New()
	}
	return &SharedMarket{market: m}
}

// Read runs fn under the read lock. fn must not retain slices it did not copy.
func (s *SharedMarket) Read(fn func(m *Market)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.market)
}

// Update runs fn under the write lock
func (s *SharedMarket) Update(fn func(m *Market) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.market)
}
