package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflexlayer/reflex/internal/resilience"
	"github.com/reflexlayer/reflex/pkg/reflex"
)

func TestShouldArchive_Blocked(t *testing.T) {
	a := &Archiver{config: Config{}}
	assert.True(t, a.ShouldArchive(reflex.Verdict{Status: reflex.StatusBlocked}))
}

func TestShouldArchive_SuccessNoDebug(t *testing.T) {
	a := &Archiver{config: Config{ArchiveDebug: false}}
	v := reflex.Verdict{
		Status:     reflex.StatusSuccess,
		PIIMatches: []reflex.PIIMatch{{Kind: reflex.PIIEmail}},
	}
	assert.False(t, a.ShouldArchive(v))
}

func TestShouldArchive_SuccessWithDebugAndMatches(t *testing.T) {
	a := &Archiver{config: Config{ArchiveDebug: true}}
	v := reflex.Verdict{
		Status:     reflex.StatusSuccess,
		PIIMatches: []reflex.PIIMatch{{Kind: reflex.PIIEmail}},
	}
	assert.True(t, a.ShouldArchive(v))
}

func TestShouldArchive_SuccessNoMatchesEvenWithDebug(t *testing.T) {
	a := &Archiver{config: Config{ArchiveDebug: true}}
	v := reflex.Verdict{Status: reflex.StatusSuccess}
	assert.False(t, a.ShouldArchive(v))
}

func TestGenerateKey_WithPrefix(t *testing.T) {
	a := &Archiver{config: Config{PathPrefix: "reflex/verdicts"}}
	ts := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	key := a.generateKey(ts)
	assert.Contains(t, key, "reflex/verdicts/year=2026/month=03/day=04/hour=15/verdicts_")
	assert.Contains(t, key, ".jsonl")
}

func TestGenerateKey_NoPrefix(t *testing.T) {
	a := &Archiver{config: Config{}}
	ts := time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)
	key := a.generateKey(ts)
	assert.Contains(t, key, "year=2026/month=03/day=04/hour=15/verdicts_")
}

func TestFlush_BoundedByMaxConcurrentFlushes(t *testing.T) {
	a := &Archiver{
		config:    Config{MaxConcurrentFlushes: 2},
		resilient: resilience.NewManager(resilience.DefaultManagerConfig()),
	}

	ctx := context.Background()
	require.NoError(t, a.resilient.CheckAndAcquire(ctx, flushResilienceKey, a.config.MaxConcurrentFlushes))
	require.NoError(t, a.resilient.CheckAndAcquire(ctx, flushResilienceKey, a.config.MaxConcurrentFlushes))

	stats := a.resilient.Stats(flushResilienceKey)
	assert.Equal(t, 2, stats.ConcurrentCurrent)
	assert.Equal(t, 2, stats.ConcurrentCapacity)

	shortCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := a.resilient.CheckAndAcquire(shortCtx, flushResilienceKey, a.config.MaxConcurrentFlushes)
	assert.Error(t, err, "a third concurrent flush must block until a slot frees up")

	a.resilient.Release(flushResilienceKey, a.config.MaxConcurrentFlushes)
	a.resilient.Release(flushResilienceKey, a.config.MaxConcurrentFlushes)
}

func TestFlush_SingleRecordedFailureLeavesBreakerClosed(t *testing.T) {
	a := &Archiver{
		config:    Config{MaxConcurrentFlushes: 4},
		resilient: resilience.NewManager(resilience.DefaultManagerConfig()),
	}

	a.resilient.RecordFailure(flushResilienceKey)
	stats := a.resilient.Stats(flushResilienceKey)
	assert.Equal(t, "closed", stats.CircuitState, "a single failure must not trip the breaker")
}
