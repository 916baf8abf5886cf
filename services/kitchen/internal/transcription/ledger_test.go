package transcription

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerCeilingAndRollover(t *testing.T) {
	clock := newFakeClock()
	ledger := NewLedger(500, 24*time.Hour)
	ledger.now = clock.Now

	for i := 0; i < 20; i++ {
		r, err := ledger.Reserve(25)
		require.NoError(t, err, "admission %d", i)
		ledger.Commit(r, 25)
		clock.Advance(time.Minute)
	}
	assert.Equal(t, int64(500), ledger.State().Spent)

	_, err := ledger.Reserve(25)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	clock.Advance(24 * time.Hour)
	r, err := ledger.Reserve(25)
	require.NoError(t, err)
	ledger.Commit(r, 25)
	assert.Equal(t, int64(25), ledger.State().Spent)
}

func TestLedgerSlidingWindow(t *testing.T) {
	clock := newFakeClock()
	ledger := NewLedger(100, time.Hour)
	ledger.now = clock.Now

	r, _ := ledger.Reserve(60)
	ledger.Commit(r, 60)
	clock.Advance(30 * time.Minute)
	r, _ = ledger.Reserve(40)
	ledger.Commit(r, 40)

	_, err := ledger.Reserve(1)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	// Only the first spend has left the window.
	clock.Advance(31 * time.Minute)
	assert.Equal(t, int64(40), ledger.State().Spent)
	_, err = ledger.Reserve(1)
	assert.NoError(t, err)
}

func TestLedgerReservationsCountTowardCeiling(t *testing.T) {
	ledger := NewLedger(50, time.Hour)

	r1, err := ledger.Reserve(25)
	require.NoError(t, err)
	r2, err := ledger.Reserve(25)
	require.NoError(t, err)

	_, err = ledger.Reserve(25)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	ledger.Release(r1)
	assert.Equal(t, int64(25), ledger.State().Reserved)
	assert.Equal(t, int64(0), ledger.State().Spent)

	ledger.Commit(r2, 10)
	state := ledger.State()
	assert.Equal(t, int64(0), state.Reserved)
	assert.Equal(t, int64(10), state.Spent)

	// Settling twice has no effect.
	ledger.Commit(r2, 10)
	ledger.Release(r1)
	assert.Equal(t, int64(10), ledger.State().Spent)
}

func TestLedgerConcurrentAdmissions(t *testing.T) {
	ledger := NewLedger(500, time.Hour)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := ledger.Reserve(25)
			if err != nil {
				return
			}
			ledger.Commit(r, 25)
			mu.Lock()
			admitted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, admitted)
	assert.Equal(t, int64(500), ledger.State().Spent)
}

func TestLedgerNearAndReset(t *testing.T) {
	ledger := NewLedger(100, time.Hour)
	assert.False(t, ledger.Near(0.8))

	r, _ := ledger.Reserve(80)
	ledger.Commit(r, 80)
	assert.True(t, ledger.Near(0.8))

	ledger.Reset()
	assert.False(t, ledger.Near(0.8))
	assert.Equal(t, int64(0), ledger.State().Spent)
}
