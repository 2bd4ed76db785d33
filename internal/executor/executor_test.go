package executor

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Testable property 8 (spec.md §8): for any schedule S and any clock
// instant, at most one execution may hold the running lock.
func TestTryLockScheduleExcludesConcurrentHolder(t *testing.T) {
	e := &Executor{running: make(map[uuid.UUID]struct{})}
	id := uuid.New()

	require.True(t, e.tryLockSchedule(id))
	require.False(t, e.tryLockSchedule(id), "a second holder must not acquire the same schedule's lock")
	require.True(t, e.IsScheduleRunning(id))

	e.unlockSchedule(id)
	require.False(t, e.IsScheduleRunning(id))
	require.True(t, e.tryLockSchedule(id), "the lock must be acquirable again once released")
}

func TestTryLockScheduleIsIndependentPerSchedule(t *testing.T) {
	e := &Executor{running: make(map[uuid.UUID]struct{})}
	a, b := uuid.New(), uuid.New()

	require.True(t, e.tryLockSchedule(a))
	require.True(t, e.tryLockSchedule(b), "locking one schedule must not block another")
}

// Simulates SchedulerLoop's tick dispatch racing an ad-hoc HTTP execute of
// the same schedule: only one of N concurrent tryLockSchedule callers for
// the same scheduleID may win, regardless of entry point.
func TestTryLockScheduleOnlyOneWinnerUnderConcurrency(t *testing.T) {
	e := &Executor{running: make(map[uuid.UUID]struct{})}
	id := uuid.New()

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.tryLockSchedule(id) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners, "exactly one concurrent locker may win the per-schedule lock")
}
