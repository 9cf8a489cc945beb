// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/recfleet/recfleet/internal/domain/session/model"
	"github.com/recfleet/recfleet/internal/domain/session/reaper"
	"github.com/recfleet/recfleet/internal/domain/session/service"
	"github.com/recfleet/recfleet/internal/domain/session/store"
)

type fixture struct {
	store  *store.Store
	svc    *service.Service
	clock  *clockwork.FakeClock
	reaper *reaper.Reaper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := store.NewWithClient(client, time.Hour, zerolog.Nop())
	svc := service.New(st, zerolog.Nop())
	clock := clockwork.NewFakeClock()

	return &fixture{
		store: st,
		svc:   svc,
		clock: clock,
		reaper: reaper.New(svc, st, reaper.Config{
			Interval:        30 * time.Second,
			MaxInactiveTime: 600 * time.Second,
			ChunkTimeSize:   10 * time.Second,
		}, clock, zerolog.Nop()),
	}
}

func (f *fixture) seed(t *testing.T, id string, lastHeartbeat time.Time, lastChunk string) {
	t.Helper()
	require.NoError(t, f.store.Save(context.Background(), &model.Session{
		SessionID:     id,
		ClientID:      "client-1",
		Status:        model.StatusRecording,
		Active:        true,
		CreatedAt:     lastHeartbeat.Add(-time.Minute),
		LastHeartbeat: lastHeartbeat,
		LastChunk:     lastChunk,
	}))
}

func (f *fixture) status(t *testing.T, id string) model.Status {
	t.Helper()
	sess, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return sess.Status
}

func TestTick_HealthySessionUntouched(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "rec-1", f.clock.Now().Add(-5*time.Second), "0001.mp4")

	f.reaper.Tick(context.Background())

	assert.Equal(t, model.StatusRecording, f.status(t, "rec-1"))
}

func TestTick_MaxInactiveFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "rec-1", f.clock.Now().Add(-601*time.Second), "0001.mp4")

	f.reaper.Tick(context.Background())

	assert.Equal(t, model.StatusFailed, f.status(t, "rec-1"))
}

func TestTick_SilentRecorderFails(t *testing.T) {
	f := newFixture(t)
	// Beyond 3*chunkTime+30s = 60s of silence but below the hard threshold.
	f.seed(t, "rec-1", f.clock.Now().Add(-61*time.Second), "0001.mp4")

	f.reaper.Tick(context.Background())

	sess, err := f.store.FindByID(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, sess.Status)
	assert.False(t, sess.Active)
}

func TestTick_StuckRecorderFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Heartbeats keep flowing but lastChunk never advances.
	f.seed(t, "rec-1", f.clock.Now(), "0002.mp4")
	f.reaper.Tick(ctx)
	assert.Equal(t, model.StatusRecording, f.status(t, "rec-1"))

	// 21s later (beyond 2*chunkTime) with fresh heartbeats, same chunk.
	f.clock.Advance(21 * time.Second)
	f.seed(t, "rec-1", f.clock.Now(), "0002.mp4")
	f.reaper.Tick(ctx)

	assert.Equal(t, model.StatusFailed, f.status(t, "rec-1"))
}

func TestTick_ChunkProgressResetsStuckTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "rec-1", f.clock.Now(), "0002.mp4")
	f.reaper.Tick(ctx)

	f.clock.Advance(21 * time.Second)
	f.seed(t, "rec-1", f.clock.Now(), "0003.mp4")
	f.reaper.Tick(ctx)

	assert.Equal(t, model.StatusRecording, f.status(t, "rec-1"))
}

func TestTick_NoChunkYetIsNotStuck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A session that heartbeats but has not produced a first chunk is
	// covered by the silence thresholds, not stuck detection.
	f.seed(t, "rec-1", f.clock.Now(), "")
	f.reaper.Tick(ctx)
	f.clock.Advance(30 * time.Second)
	f.seed(t, "rec-1", f.clock.Now(), "")
	f.reaper.Tick(ctx)

	assert.Equal(t, model.StatusRecording, f.status(t, "rec-1"))
}

func TestTick_StoppedSilentSessionRetired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Stopped on its own terms, then silence past the hard threshold.
	// STOPPED has no edge to FAILED, so reaping retires it to INACTIVE.
	require.NoError(t, f.store.Save(ctx, &model.Session{
		SessionID:     "rec-1",
		ClientID:      "client-1",
		Status:        model.StatusStopped,
		Active:        true,
		CreatedAt:     f.clock.Now().Add(-time.Hour),
		LastHeartbeat: f.clock.Now().Add(-601 * time.Second),
	}))

	f.reaper.Tick(ctx)

	got, err := f.store.FindByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, got.Status)
	assert.False(t, got.Active)

	ids, err := f.store.FindAllActiveSessionIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTick_TerminalSessionDeactivated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := &model.Session{
		SessionID:     "rec-1",
		ClientID:      "client-1",
		Status:        model.StatusCompleted,
		Active:        true, // index drift: terminal but still indexed
		CreatedAt:     f.clock.Now(),
		LastHeartbeat: f.clock.Now(),
	}
	require.NoError(t, f.store.Save(ctx, sess))

	f.reaper.Tick(ctx)

	got, err := f.store.FindByID(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, got.Status)
	assert.False(t, got.Active)

	ids, err := f.store.FindAllActiveSessionIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRun_TicksOnSchedule(t *testing.T) {
	// Registered before the fixture so it runs after the fixture's cleanups
	// (t.Cleanup is LIFO); miniredis and the client must close before the
	// leak check.
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })

	f := newFixture(t)
	f.seed(t, "rec-1", f.clock.Now().Add(-601*time.Second), "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.reaper.Run(ctx)
		close(done)
	}()

	// Let the loop park on the ticker before advancing.
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(31 * time.Second)

	require.Eventually(t, func() bool {
		sess, err := f.store.FindByID(context.Background(), "rec-1")
		return err == nil && sess.Status == model.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
