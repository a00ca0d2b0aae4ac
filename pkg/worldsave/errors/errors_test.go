package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindIoFailure, "io_failure"},
		{KindSerializationFault, "serialization_fault"},
		{KindVersionMismatch, "version_mismatch"},
		{KindSpawnFailure, "spawn_failure"},
		{KindWatchdogTimeout, "watchdog_timeout"},
		{KindTaskConflict, "task_conflict"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.String())
		})
	}
}

func TestError_Message(t *testing.T) {
	base := errors.New("disk full")
	err := IoFailure("write blob", "users/u/s/level", base)

	assert.Equal(t, `io_failure: write blob "users/u/s/level": disk full`, err.Error())
	assert.ErrorIs(t, err, base)

	assert.Equal(t, "task_conflict: save", TaskConflict("save", nil).Error())
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("persist: %w", SerializationFault("encode level", "", errors.New("bad")))
	assert.Equal(t, KindSerializationFault, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestHasKind_Joined(t *testing.T) {
	err := errors.Join(
		SpawnFailure("Town_Crate_1", errors.New("no class")),
		IoFailure("write blob", "k", errors.New("locked")),
	)

	assert.True(t, IsSpawnFailure(err))
	assert.True(t, IsIoFailure(err))
	assert.False(t, IsWatchdogTimeout(err))
	assert.Equal(t, KindSpawnFailure, KindOf(err))
}

func TestIsTaskFatal(t *testing.T) {
	assert.True(t, IsTaskFatal(IoFailure("read", "", nil)))
	assert.True(t, IsTaskFatal(SerializationFault("decode", "", nil)))
	assert.True(t, IsTaskFatal(WatchdogTimeout("load", nil)))
	assert.False(t, IsTaskFatal(SpawnFailure("x", nil)))
	assert.False(t, IsTaskFatal(VersionMismatch("check", "", nil)))
	assert.False(t, IsTaskFatal(errors.New("plain")))
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"transient", Transient(errors.New("busy"), "write"), CategoryTransient},
		{"wrapped transient", fmt.Errorf("x: %w", Transient(errors.New("busy"), "")), CategoryTransient},
		{"permanent", Permanent(errors.New("closed"), ""), CategoryPermanent},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"plain", errors.New("plain"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Categorize(tt.err))
		})
	}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
	calls := 0

	v, attempts, err := Retry(cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, Transient(errors.New("busy"), "write")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, attempts)
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	base := errors.New("closed")
	calls := 0

	_, attempts, err := Retry(StoreRetry, func() (struct{}, error) {
		calls++
		return struct{}{}, base
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, base)
}

func TestRetry_Exhausted(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
	base := errors.New("busy")

	_, attempts, err := Retry(cfg, func() (int, error) {
		return 0, Transient(base, "write")
	})

	assert.Equal(t, 2, attempts)
	assert.ErrorIs(t, err, base)

	var cat *CategorizedError
	require.ErrorAs(t, err, &cat)
	assert.Equal(t, 2, cat.Attempts)
	assert.Contains(t, err.Error(), "2 attempts")
}

func TestRetry_ZeroAttemptsStillCalls(t *testing.T) {
	calls := 0
	_, attempts, err := Retry(RetryConfig{}, func() (int, error) {
		calls++
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func TestJittered(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, jittered(10*time.Millisecond, 0))

	for range 20 {
		d := jittered(100*time.Millisecond, 0.5)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 15 * time.Millisecond, BackoffFactor: 2}
	b := NewBackoff(cfg)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	busy := Transient(errors.New("busy"), "write")

	assert.True(t, b.Ready(now))
	assert.True(t, b.Failed(now, busy))
	assert.False(t, b.Ready(now.Add(9*time.Millisecond)))
	assert.True(t, b.Ready(now.Add(10*time.Millisecond)))

	now = now.Add(10 * time.Millisecond)
	assert.True(t, b.Failed(now, busy))
	assert.False(t, b.Ready(now.Add(14*time.Millisecond)), "capped at MaxBackoff")
	assert.True(t, b.Ready(now.Add(15*time.Millisecond)))
	assert.False(t, b.Failed(now, busy), "attempts exhausted")
	assert.Equal(t, 3, b.Attempts())

	b.Reset()
	assert.True(t, b.Ready(now))
	assert.False(t, b.Failed(now, errors.New("closed")), "permanent errors are not retried")
}
