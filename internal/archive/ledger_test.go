package archive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-harvester/internal/model"
	"asset-harvester/internal/planner"
	"asset-harvester/internal/runstore"
)

func queuedState(ids ...string) *model.RunState {
	st := model.NewRunState("run-1", time.Now())
	for _, id := range ids {
		st.Items[id] = &model.Item{ID: id, DestPath: "example.com/" + id, Status: model.StatusQueued}
	}
	return st
}

func unwritableStore(t *testing.T) *runstore.Store {
	t.Helper()
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	return runstore.Open(filepath.Join(blocker, "state"))
}

func TestLedger_PersistsEveryTransition(t *testing.T) {
	dir := t.TempDir()
	store := runstore.Open(dir)
	led := newLedger(queuedState("a"), store, time.Hour, true, zerolog.Nop(), nil)
	require.NoError(t, led.save())

	it, err := led.Begin("a")
	require.NoError(t, err)
	assert.Equal(t, 1, it.Attempts)
	require.NoError(t, led.Complete("a", 42, "abc"))
	require.NoError(t, store.Close())

	got, err := runstore.Open(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Items["a"].Status)
	assert.Equal(t, int64(42), got.Items["a"].SizeBytes)
	assert.Equal(t, "abc", got.Items["a"].SHA256)
}

func TestLedger_InterruptRefundsAttempt(t *testing.T) {
	led := newLedger(queuedState("a"), runstore.Open(t.TempDir()), 0, true, zerolog.Nop(), nil)
	_, err := led.Begin("a")
	require.NoError(t, err)
	require.NoError(t, led.Interrupt("a", errors.New("context canceled")))

	it := led.snapshot().Items["a"]
	assert.Equal(t, model.StatusFailed, it.Status)
	assert.Equal(t, ReasonInterrupted, it.Reason)
	assert.Equal(t, 0, it.Attempts)

	assert.True(t, led.Requeue("a"))
	assert.Equal(t, model.StatusQueued, led.snapshot().Items["a"].Status)
	assert.False(t, led.Requeue("a"), "only failed items are requeued")
}

func TestLedger_DegradesToMemoryWhenPersistenceIsOptional(t *testing.T) {
	led := newLedger(queuedState("a"), unwritableStore(t), 0, false, zerolog.Nop(), nil)

	_, err := led.Begin("a")
	require.NoError(t, err)
	assert.True(t, led.isDegraded())
	require.NoError(t, led.Complete("a", 1, "ff"))
	require.NoError(t, led.save())
	assert.Equal(t, model.StatusCompleted, led.snapshot().Items["a"].Status)
}

func TestLedger_FailsWhenPersistenceIsRequired(t *testing.T) {
	led := newLedger(queuedState("a"), unwritableStore(t), 0, true, zerolog.Nop(), nil)
	_, err := led.Begin("a")
	require.Error(t, err)
	assert.False(t, led.isDegraded())
}

func TestLedger_ApplyPlan(t *testing.T) {
	st := model.NewRunState("run-1", time.Now())
	st.Items["done"] = &model.Item{ID: "done", DestPath: "example.com/done.pdf", Status: model.StatusCompleted, SizeBytes: 3, SHA256: "aa", Attempts: 1}
	st.Items["gone"] = &model.Item{ID: "gone", DestPath: "example.com/gone.pdf", Status: model.StatusCompleted, SizeBytes: 3, SHA256: "bb", Attempts: 1}
	st.Items["dead"] = &model.Item{ID: "dead", DestPath: "example.com/dead.pdf", Status: model.StatusFailed, Attempts: 3}
	led := newLedger(st, runstore.Open(t.TempDir()), 0, true, zerolog.Nop(), nil)

	plan := planner.Result{Entries: []planner.Entry{
		{Item: model.Item{ID: "new", DestPath: "example.com/new.pdf", SourceRef: "https://example.com/new.pdf"}, Decision: planner.Enqueue, Reason: planner.ReasonNew, New: true},
		{Item: *st.Items["done"], Decision: planner.Skip, Reason: planner.ReasonVerifiedOnDisk},
		{Item: *st.Items["gone"], Decision: planner.Enqueue, Reason: planner.ReasonMissingLocalFile},
		{Item: *st.Items["dead"], Decision: planner.Exhausted, Reason: planner.ReasonMaxAttempts},
	}}
	require.NoError(t, led.applyPlan(plan))

	got := led.snapshot()
	assert.Equal(t, model.StatusQueued, got.Items["new"].Status)
	assert.Equal(t, model.StatusSkipped, got.Items["done"].Status)
	assert.Equal(t, "aa", got.Items["done"].SHA256)
	assert.Equal(t, model.StatusQueued, got.Items["gone"].Status)
	assert.Empty(t, got.Items["gone"].SHA256)
	assert.Zero(t, got.Items["gone"].SizeBytes)
	assert.Equal(t, model.StatusFailed, got.Items["dead"].Status)
	assert.Equal(t, planner.ReasonMaxAttempts, got.Items["dead"].Reason)
}
