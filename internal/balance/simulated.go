package balance

import (
	"sync"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/money"
	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Simulated is the in-memory paper wallet.
type Simulated struct {
	mu        sync.Mutex
	available money.Money
	used      money.Money
	realized  money.Money
}

var _ Provider = (*Simulated)(nil)

// NewSimulated seeds a paper wallet with the starting balance.
func NewSimulated(starting money.Money) *Simulated {
	return &Simulated{available: starting}
}

func (s *Simulated) Available() money.Money {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *Simulated) Used() money.Money {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *Simulated) Total() money.Money {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available.Add(s.used)
}

func (s *Simulated) RealizedPnL() money.Money {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realized
}

func (s *Simulated) Update(amount money.Money, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case Debit:
		if s.available.LessThan(amount) {
			return types.ErrInsufficientBalance
		}
		s.available = s.available.Sub(amount)
		s.used = s.used.Add(amount)
	case Credit:
		s.available = s.available.Add(amount)
		s.used = s.used.Sub(amount)
		// A profitable sell credits more than was reserved; floor used at
		// zero, the surplus already sits in available.
		if s.used.IsNegative() {
			s.used = money.Zero
		}
	}
	return nil
}

func (s *Simulated) AddRealizedPnL(amount money.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realized = s.realized.Add(amount)
}

func (s *Simulated) Reset(amount money.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = amount
	s.used = money.Zero
	s.realized = money.Zero
}
