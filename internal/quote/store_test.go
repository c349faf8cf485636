package quote

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbscope/internal/model"
)

func TestStore_UpdateAndSnapshot(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.Update("ETH/USD", "kraken", model.Some(100), model.Some(101), now)
	s.Update("ETH/USD", "okx", model.Some(103), model.Price{}, now)
	s.Update("BTC/USD", "okx", model.Some(60000), model.Some(60010), now)

	snap := s.Snapshot("ETH/USD")
	require.Len(t, snap, 2)
	assert.Equal(t, model.Some(100), snap["kraken"].Bid)
	assert.False(t, snap["okx"].Ask.Valid)

	_, ok := snap["binance"]
	assert.False(t, ok, "exchanges that never quoted must be absent")

	assert.Empty(t, s.Snapshot("LTC/USD"))
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore()
	s.Update("ETH/USD", "kraken", model.Some(100), model.Some(101), time.Now())

	snap := s.Snapshot("ETH/USD")
	delete(snap, "kraken")
	snap["okx"] = model.Quote{}

	again := s.Snapshot("ETH/USD")
	assert.Len(t, again, 1)
	assert.Contains(t, again, "kraken")
}

func TestStore_LastWriteWins(t *testing.T) {
	s := NewStore()
	t0 := time.Now()
	s.Update("ETH/USD", "kraken", model.Some(100), model.Some(101), t0)
	s.Update("ETH/USD", "kraken", model.Some(102), model.Some(103), t0.Add(time.Second))

	q, ok := s.Snapshot("ETH/USD")["kraken"]
	require.True(t, ok)
	assert.Equal(t, 102.0, q.Bid.Value)
	assert.Equal(t, 103.0, q.Ask.Value)
	assert.Equal(t, t0.Add(time.Second), q.ObservedAt)
}

// Every update writes ask = bid + 1, so any snapshot where that does not hold is torn.
func TestStore_NoTornReads(t *testing.T) {
	s := NewStore()
	const writers = 4
	const iterations = 2000

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				v := float64(w*iterations + i)
				s.Update("ETH/USD", "kraken", model.Some(v), model.Some(v+1), time.Now())
			}
		}(w)
	}

	done := make(chan struct{})
	var readErr error
	go func() {
		defer close(done)
		for i := 0; i < iterations; i++ {
			q, ok := s.Snapshot("ETH/USD")["kraken"]
			if !ok {
				continue
			}
			if q.Ask.Value != q.Bid.Value+1 {
				readErr = assert.AnError
				return
			}
		}
	}()

	wg.Wait()
	<-done
	assert.NoError(t, readErr)
}

func TestStore_SubscribeCoalesces(t *testing.T) {
	s := NewStore()
	ch := s.Subscribe()

	for i := 0; i < 10; i++ {
		s.Update("ETH/USD", "kraken", model.Some(1), model.Some(2), time.Now())
	}

	select {
	case <-ch:
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-ch:
		t.Fatal("burst should coalesce into one signal")
	default:
	}
}
