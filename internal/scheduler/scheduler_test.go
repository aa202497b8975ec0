package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traderops/backoffice/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestJobRunsRepeatedly(t *testing.T) {
	s := New(testLogger())
	var runs atomic.Int64
	s.Register(Job{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestJobSurvivesErrors(t *testing.T) {
	s := New(testLogger())
	var runs atomic.Int64
	s.Register(Job{
		Name:     "flaky",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				return errors.New("upstream unavailable")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestJobSurvivesPanics(t *testing.T) {
	s := New(testLogger())
	var runs atomic.Int64
	s.Register(Job{
		Name:     "panicky",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				panic("boom")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	s := New(testLogger())
	var finished atomic.Bool
	started := make(chan struct{})
	s.Register(Job{
		Name:     "slow",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	<-started
	s.Stop()
	assert.True(t, finished.Load())
}

func TestStartRejectsInvalidJob(t *testing.T) {
	s := New(testLogger())
	s.Register(Job{Name: "bad", Interval: 0, Run: func(ctx context.Context) error { return nil }})
	require.Error(t, s.Start(context.Background()))
}

func TestStartTwiceFails(t *testing.T) {
	s := New(testLogger())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.Error(t, s.Start(context.Background()))
}

type recordingSyslog struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (r *recordingSyslog) Log(ctx context.Context, level, component, message string, detail map[string]any) error {
	r.mu.Lock()
	r.entries = append(r.entries, detail)
	r.mu.Unlock()
	return nil
}

func (r *recordingSyslog) ListRecent(ctx context.Context, limit int) ([]domain.SystemLog, error) {
	return nil, nil
}

func TestFailuresLandInSystemLog(t *testing.T) {
	syslog := &recordingSyslog{}
	s := New(testLogger(), WithSystemLog(syslog))
	var runs atomic.Int64
	s.Register(Job{
		Name:     "broken",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("db gone")
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		syslog.mu.Lock()
		defer syslog.mu.Unlock()
		return len(syslog.entries) >= 1
	}, time.Second, 5*time.Millisecond)

	syslog.mu.Lock()
	defer syslog.mu.Unlock()
	assert.Equal(t, "broken", syslog.entries[0]["job"])
}
