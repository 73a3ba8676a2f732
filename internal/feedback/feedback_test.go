package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kakunin/internal/models"
)

var (
	v1 = models.PromptRef{TemplateID: "policy_qa", Version: 1}
	v2 = models.PromptRef{TemplateID: "policy_qa", Version: 2}
	t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func outcome(ref models.PromptRef, state models.CaseState, confidence float64) models.ReviewOutcome {
	o := models.ReviewOutcome{CaseID: "c", Prompt: ref, State: state, Actor: "alice", Confidence: confidence, At: t0}
	switch state {
	case models.StateApproved:
		o.Decision = models.DecisionApprove
	default:
		o.Decision = models.DecisionReject
	}
	if state == models.StateExpired {
		o.Actor = models.ActorSystem
	}
	return o
}

func TestMemoryLog_ReadAfter(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Publish(ctx, outcome(v1, models.StateApproved, 0.5)))
	}
	events, err := log.Read(ctx, "", 2, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "1", events[0].ID)

	events, err = log.Read(ctx, events[1].ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "3", events[0].ID)

	events, err = log.Read(ctx, "3", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = log.Read(ctx, "not-a-number", 10, 0)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestMemoryLog_ReadBlocksUntilPublish(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = log.Publish(ctx, outcome(v1, models.StateRejected, 0.3))
	}()
	events, err := log.Read(ctx, "", 10, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.StateRejected, events[0].Outcome.State)

	events, err = log.Read(ctx, "1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryLog_ReadHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryLog().Read(ctx, "", 10, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLog(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	log := NewRedisLog(client, "kakunin:outcomes")
	defer log.Close()
	ctx := context.Background()

	t.Run("Should append and read outcomes in order", func(t *testing.T) {
		require.NoError(t, log.Publish(ctx, outcome(v1, models.StateApproved, 0.7)))
		require.NoError(t, log.Publish(ctx, outcome(v2, models.StateRejected, 0.4)))

		events, err := log.Read(ctx, "", 10, 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, v1, events[0].Outcome.Prompt)
		assert.Equal(t, models.StateRejected, events[1].Outcome.State)
		assert.Equal(t, 0.4, events[1].Outcome.Confidence)

		rest, err := log.Read(ctx, events[0].ID, 10, 0)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, events[1].ID, rest[0].ID)
	})

	t.Run("Should return nothing when the stream has no newer entries", func(t *testing.T) {
		events, err := log.Read(ctx, "", 10, 0)
		require.NoError(t, err)
		last := events[len(events)-1].ID

		events, err = log.Read(ctx, last, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("Should feed the loop", func(t *testing.T) {
		loop := NewLoop(log, Config{WindowSize: 5, MinSamples: 1, RejectionCeiling: 0.5})
		n, err := loop.Poll(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.True(t, loop.Flagged(v2))
		assert.False(t, loop.Flagged(v1))
	})
}

func TestRedisLog_skipsUndecodableEvents(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	log := NewRedisLog(client, "kakunin:outcomes")
	defer log.Close()
	ctx := context.Background()

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "kakunin:outcomes",
		Values: map[string]interface{}{outcomeField: "{not json"},
	}).Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "kakunin:outcomes",
		Values: map[string]interface{}{"other": "x"},
	}).Err())
	for i := 0; i < 3; i++ {
		require.NoError(t, log.Publish(ctx, outcome(v1, models.StateRejected, 0.3)))
	}

	events, err := log.Read(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Error(t, events[0].Err)
	assert.NotEmpty(t, events[0].ID)
	assert.Error(t, events[1].Err)
	assert.NoError(t, events[2].Err)

	loop := NewLoop(log, Config{WindowSize: 5, MinSamples: 3, RejectionCeiling: 0.5})
	n, err := loop.Poll(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, loop.Flagged(v1))
	require.Len(t, loop.Stats(), 1)
	assert.Equal(t, 3, loop.Stats()[0].Rejected)

	n, err = loop.Poll(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "the cursor moved past the bad entries")
}

func TestDialRedis_unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()
	_, err := DialRedis(context.Background(), addr, "outcomes")
	assert.Error(t, err)
}

func TestLoop_FlagsAfterMinSamples(t *testing.T) {
	var hooked []Flag
	loop := NewLoop(NewMemoryLog(), Config{WindowSize: 10, MinSamples: 4, RejectionCeiling: 0.5},
		WithFlagHook(func(f Flag) { hooked = append(hooked, f) }))

	for i := 0; i < 3; i++ {
		loop.Apply(outcome(v1, models.StateRejected, 0.4))
	}
	assert.False(t, loop.Flagged(v1), "three samples are below the minimum")

	loop.Apply(outcome(v1, models.StateRejected, 0.4))
	assert.True(t, loop.Flagged(v1))
	require.Len(t, hooked, 1)
	assert.Equal(t, v1, hooked[0].Prompt)
	assert.Equal(t, 1.0, hooked[0].RejectionRate)
	assert.Equal(t, 4, hooked[0].Samples)

	loop.Apply(outcome(v1, models.StateRejected, 0.4))
	assert.Len(t, loop.Flags(), 1, "a version is flagged once")
}

func TestLoop_RejectionRateAtCeilingDoesNotFlag(t *testing.T) {
	loop := NewLoop(NewMemoryLog(), Config{WindowSize: 4, MinSamples: 4, RejectionCeiling: 0.5})
	loop.Apply(outcome(v1, models.StateRejected, 0.4))
	loop.Apply(outcome(v1, models.StateApproved, 0.6))
	loop.Apply(outcome(v1, models.StateRejected, 0.4))
	loop.Apply(outcome(v1, models.StateApproved, 0.6))
	assert.False(t, loop.Flagged(v1))
}

func TestLoop_RollingWindow(t *testing.T) {
	loop := NewLoop(NewMemoryLog(), Config{WindowSize: 3, MinSamples: 3, RejectionCeiling: 0.9})
	loop.Apply(outcome(v1, models.StateRejected, 0.4))
	loop.Apply(outcome(v1, models.StateRejected, 0.4))
	for i := 0; i < 3; i++ {
		loop.Apply(outcome(v1, models.StateApproved, 0.6))
	}
	stats := loop.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Approved)
	assert.Equal(t, 2, stats[0].Rejected)
	assert.Equal(t, 3, stats[0].Window)
	assert.Equal(t, 0.0, stats[0].RejectionRate)
	assert.Equal(t, 1.0, stats[0].ApprovalRate)
}

func TestLoop_ExpiriesDoNotCountAsRejections(t *testing.T) {
	loop := NewLoop(NewMemoryLog(), Config{WindowSize: 5, MinSamples: 1, RejectionCeiling: 0.1})
	for i := 0; i < 5; i++ {
		loop.Apply(outcome(v1, models.StateExpired, 0.3))
	}
	stats := loop.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 5, stats[0].Expired)
	assert.Equal(t, 0, stats[0].Rejected)
	assert.Equal(t, 0, stats[0].Window)
	assert.False(t, loop.Flagged(v1))
}

func TestLoop_VersionsAreIndependent(t *testing.T) {
	loop := NewLoop(NewMemoryLog(), Config{WindowSize: 5, MinSamples: 2, RejectionCeiling: 0.5})
	loop.Apply(outcome(v1, models.StateRejected, 0.3))
	loop.Apply(outcome(v1, models.StateRejected, 0.3))
	loop.Apply(outcome(v2, models.StateApproved, 0.7))
	loop.Apply(outcome(v2, models.StateApproved, 0.7))

	assert.True(t, loop.Flagged(v1))
	assert.False(t, loop.Flagged(v2))
	stats := loop.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, v1, stats[0].Prompt)
	assert.Equal(t, v2, stats[1].Prompt)
}

func TestLoop_RunConsumesUntilCancel(t *testing.T) {
	log := NewMemoryLog()
	loop := NewLoop(log, Config{WindowSize: 5, MinSamples: 1, RejectionCeiling: 0.5, PollInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.NoError(t, log.Publish(ctx, outcome(v1, models.StateRejected, 0.2)))
	assert.Eventually(t, func() bool { return loop.Flagged(v1) }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLoop_Advise(t *testing.T) {
	t.Run("Should need the minimum sample count", func(t *testing.T) {
		loop := NewLoop(NewMemoryLog(), Config{MinSamples: 5, TargetPrecision: 0.9})
		loop.Apply(outcome(v1, models.StateApproved, 0.8))
		advice := loop.Advise()
		assert.False(t, advice.OK)
		assert.Equal(t, 1, advice.Samples)
	})

	t.Run("Should find the lowest threshold that keeps precision", func(t *testing.T) {
		loop := NewLoop(NewMemoryLog(), Config{WindowSize: 20, MinSamples: 4, TargetPrecision: 0.75})
		loop.Apply(outcome(v1, models.StateApproved, 0.9))
		loop.Apply(outcome(v1, models.StateApproved, 0.8))
		loop.Apply(outcome(v1, models.StateApproved, 0.7))
		loop.Apply(outcome(v1, models.StateRejected, 0.6))
		loop.Apply(outcome(v1, models.StateRejected, 0.5))
		loop.Apply(outcome(v1, models.StateRejected, 0.4))

		advice := loop.Advise()
		require.True(t, advice.OK)
		// At 0.6: 3 of 4 approved = 0.75; at 0.5: 3 of 5 = 0.6.
		assert.Equal(t, 0.6, advice.Threshold)
		assert.Equal(t, 0.75, advice.Precision)
	})

	t.Run("Should report no threshold when precision is never reached", func(t *testing.T) {
		loop := NewLoop(NewMemoryLog(), Config{MinSamples: 2, TargetPrecision: 0.9})
		loop.Apply(outcome(v1, models.StateRejected, 0.9))
		loop.Apply(outcome(v1, models.StateRejected, 0.8))
		assert.False(t, loop.Advise().OK)
	})
}
