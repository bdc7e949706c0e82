package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"prayerflow/internal/service"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type fakeSweeper struct {
	mu        sync.Mutex
	delay     int
	scheduled int
	err       error
}

func (f *fakeSweeper) RunTimeDelaySweep(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay++
	return 1, f.err
}

func (f *fakeSweeper) RunScheduledSweep(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled++
	return 0, f.err
}

func (f *fakeSweeper) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delay, f.scheduled
}

type fakeReaper struct {
	mu    sync.Mutex
	calls int
	lease time.Duration
}

func (f *fakeReaper) ReleaseExpiredClaims(ctx context.Context, lease time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lease = lease
	return 0, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func (f *fakeLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[name] {
		return nil, false
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released = append(f.released, name)
	}, true
}

func TestScheduler_RunSweepsUsesLocks(t *testing.T) {
	sweeper := &fakeSweeper{}
	reaper := &fakeReaper{}
	locker := &fakeLocker{held: map[string]bool{"scheduled": true}}

	s := service.NewScheduler(sweeper, reaper, locker, service.SchedulerConfig{LeaseTimeout: 3 * time.Minute}, nil)
	s.RunSweeps(context.Background())
	s.RunScheduled(context.Background())

	delay, scheduled := sweeper.counts()
	assert.Equal(t, 1, delay)
	assert.Equal(t, 0, scheduled, "another process holds the scheduled lock")
	assert.Equal(t, 1, reaper.calls)
	assert.Equal(t, 3*time.Minute, reaper.lease)
	assert.Equal(t, []string{"reaper", "time_delay"}, locker.released)
}

func TestScheduler_SweepErrorsAreLogged(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db down")}
	s := service.NewScheduler(sweeper, &fakeReaper{}, nil, service.SchedulerConfig{}, nil)

	assert.NotPanics(t, func() {
		s.RunSweeps(context.Background())
		s.RunScheduled(context.Background())
	})
}

func TestScheduler_StartStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	sweeper := &fakeSweeper{}
	s := service.NewScheduler(sweeper, &fakeReaper{}, nil, service.SchedulerConfig{
		SweepInterval:     10 * time.Millisecond,
		ScheduledInterval: 10 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool {
		delay, scheduled := sweeper.counts()
		return delay >= 2 && scheduled >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
