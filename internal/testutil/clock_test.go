package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/rollcall/internal/model"
)

func TestClock_StartsAtUTC(t *testing.T) {
	loc := time.FixedZone("UTC-7", -7*60*60)
	start := time.Date(2024, time.March, 1, 1, 0, 0, 0, loc)

	clock := NewClock(start)
	assert.True(t, start.Equal(clock.Now()))
	assert.Equal(t, time.UTC, clock.Now().Location())
}

func TestClock_OnlyMovesWhenTold(t *testing.T) {
	clock := NewClock(Epoch)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch, clock.Now())

	next := clock.Advance(90 * time.Second)
	assert.Equal(t, Epoch.Add(90*time.Second), next)
	assert.Equal(t, next, clock.Now())

	clock.Set(Epoch)
	assert.Equal(t, Epoch, clock.Now())
}

func TestClock_ThreadSafe(t *testing.T) {
	clock := NewClock(Epoch)
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(numGoroutines*time.Second), clock.Now())
}

func TestFixtures_AgeAtEpoch(t *testing.T) {
	c := Child("c1", BornYearsAgo(5))
	assert.NoError(t, c.Validate())
	assert.Equal(t, 5, model.AgeAt(c.DateOfBirth, Epoch))

	s := Session("s1", 5, 20)
	assert.NoError(t, s.Validate())
	assert.True(t, s.HasCapacity())
}
