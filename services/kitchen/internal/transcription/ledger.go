package transcription

import (
	"sync"
	"time"
)

const DefaultBudgetWindow = 24 * time.Hour

type spend struct {
	amount int64
	at     time.Time
}

// Reservation holds estimated budget for an admitted call until it is
// committed or released.
type Reservation struct {
	id     uint64
	amount int64
}

// Ledger is the process-wide spend record over a sliding window. Every
// read and write goes through its lock, so concurrent admissions cannot
// both take the last of the budget.
type Ledger struct {
	mu       sync.Mutex
	ceiling  int64
	window   time.Duration
	spends   []spend
	spent    int64
	reserved map[uint64]int64
	held     int64
	nextID   uint64
	now      func() time.Time
}

func NewLedger(ceiling int64, window time.Duration) *Ledger {
	if window <= 0 {
		window = DefaultBudgetWindow
	}
	return &Ledger{
		ceiling:  ceiling,
		window:   window,
		reserved: make(map[uint64]int64),
		now:      time.Now,
	}
}

// Reserve admits a call estimated at amount. It fails with
// ErrBudgetExceeded once spend plus outstanding reservations reach the
// ceiling.
func (l *Ledger) Reserve(amount int64) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(l.now())
	if l.spent+l.held >= l.ceiling {
		return Reservation{}, ErrBudgetExceeded
	}

	l.nextID++
	r := Reservation{id: l.nextID, amount: amount}
	l.reserved[r.id] = amount
	l.held += amount
	return r, nil
}

// Commit turns a reservation into recorded spend of the actual cost.
func (l *Ledger) Commit(r Reservation, actual int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.dropLocked(r) {
		return
	}
	now := l.now()
	l.rollLocked(now)
	if actual > 0 {
		l.spends = append(l.spends, spend{amount: actual, at: now})
		l.spent += actual
	}
}

// Release returns a reservation without recording spend.
func (l *Ledger) Release(r Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropLocked(r)
}

func (l *Ledger) dropLocked(r Reservation) bool {
	amount, ok := l.reserved[r.id]
	if !ok {
		return false
	}
	delete(l.reserved, r.id)
	l.held -= amount
	return true
}

// rollLocked forgets spend that left the window.
func (l *Ledger) rollLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.spends) && !l.spends[i].at.After(cutoff) {
		l.spent -= l.spends[i].amount
		i++
	}
	if i > 0 {
		l.spends = append([]spend(nil), l.spends[i:]...)
	}
}

// Near reports whether spend plus reservations reached ratio of the
// ceiling.
func (l *Ledger) Near(ratio float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(l.now())
	return float64(l.spent+l.held) >= ratio*float64(l.ceiling)
}

type LedgerState struct {
	Ceiling  int64  `json:"ceiling"`
	Window   string `json:"window"`
	Spent    int64  `json:"spent"`
	Reserved int64  `json:"reserved"`
}

func (l *Ledger) State() LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(l.now())
	return LedgerState{
		Ceiling:  l.ceiling,
		Window:   l.window.String(),
		Spent:    l.spent,
		Reserved: l.held,
	}
}

// Reset clears recorded spend. Outstanding reservations stay held.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spends = nil
	l.spent = 0
}
