package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semaphore/provisioning/internal/config"
)

type fakeOrphanStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakeOrphanStore) DeleteOrphanAccounts(_ context.Context, createdBefore time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, createdBefore)
	return 2, nil
}

func (f *fakeOrphanStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type fakeOrphanRecorder struct {
	mu    sync.Mutex
	total int64
}

func (f *fakeOrphanRecorder) ObserveOrphansDeleted(count int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.total += count
}

func TestSweepOrphansUsesGraceCutoff(t *testing.T) {
	store := &fakeOrphanStore{}
	now := time.Date(2026, 1, 25, 9, 0, 0, 0, time.UTC)

	deleted, err := SweepOrphans(context.Background(), store, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Equal(t, []time.Time{now.Add(-time.Hour)}, store.cutoffs)
}

func TestStartOrphanSweepJobRunsUntilCancelled(t *testing.T) {
	store := &fakeOrphanStore{}
	recorder := &fakeOrphanRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartOrphanSweepJob(ctx, config.Config{
		OrphanSweepEnabled:  true,
		OrphanSweepInterval: 5 * time.Millisecond,
		OrphanGracePeriod:   time.Hour,
	}, store, recorder, nil)

	assert.Eventually(t, func() bool { return store.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestStartOrphanSweepJobDisabled(t *testing.T) {
	store := &fakeOrphanStore{}
	StartOrphanSweepJob(context.Background(), config.Config{OrphanSweepInterval: time.Millisecond}, store, nil, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, store.calls())
}
