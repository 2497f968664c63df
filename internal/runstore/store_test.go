package runstore

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-harvester/internal/model"
)

func newState() *model.RunState {
	st := model.NewRunState("run-1", time.Now())
	st.AddSeeds("https://example.com/docs/")
	st.Items["a"] = &model.Item{ID: "a", SourceRef: "https://example.com/a.pdf", DestPath: "example.com/a.pdf", Status: model.StatusQueued}
	st.Items["b"] = &model.Item{ID: "b", SourceRef: "https://example.com/b.pdf", DestPath: "example.com/b.pdf", Status: model.StatusQueued}
	return st
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Open(t.TempDir()).Load()
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := Open(t.TempDir())
	st := newState()
	require.NoError(t, store.Save(st))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, []string{"https://example.com/docs/"}, got.Seeds)
	assert.Len(t, got.Items, 2)
	assert.False(t, got.LastPersistedAt.IsZero())
}

func TestLoad_ReplaysJournalAfterSnapshot(t *testing.T) {
	store := Open(t.TempDir())
	st := newState()
	require.NoError(t, store.Save(st))

	it := st.Items["a"]
	require.NoError(t, model.TransitionItem(it, model.StatusInProgress, ""))
	it.Attempts = 1
	it.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.AppendTransition(it.Transition(model.StatusQueued)))

	require.NoError(t, model.TransitionItem(it, model.StatusCompleted, ""))
	it.SizeBytes = 1234
	it.SHA256 = "deadbeef"
	it.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.AppendTransition(it.Transition(model.StatusInProgress)))
	require.NoError(t, store.Close())

	got, err := Open(store.Dir()).Load()
	require.NoError(t, err)
	a := got.Items["a"]
	assert.Equal(t, model.StatusCompleted, a.Status)
	assert.Equal(t, int64(1234), a.SizeBytes)
	assert.Equal(t, "deadbeef", a.SHA256)
	assert.Equal(t, 1, a.Attempts)
	assert.Equal(t, model.StatusQueued, got.Items["b"].Status)
}

func TestLoad_InProgressBecomesFailed(t *testing.T) {
	store := Open(t.TempDir())
	st := newState()
	st.Items["a"].Status = model.StatusInProgress
	st.Items["a"].Attempts = 2
	require.NoError(t, store.Save(st))

	got, err := store.Load()
	require.NoError(t, err)
	a := got.Items["a"]
	assert.Equal(t, model.StatusFailed, a.Status)
	assert.Equal(t, ReasonInterruptedPreviousRun, a.Reason)
	assert.Equal(t, 1, a.Attempts)
	assert.NotEmpty(t, a.LastError)
}

func TestLoad_IgnoresTornTrailingJournalLine(t *testing.T) {
	store := Open(t.TempDir())
	st := newState()
	require.NoError(t, store.Save(st))

	it := st.Items["b"]
	require.NoError(t, model.TransitionItem(it, model.StatusFailed, "download_error"))
	it.LastError = "boom"
	it.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.AppendTransition(it.Transition(model.StatusQueued)))
	require.NoError(t, store.Close())

	f, err := os.OpenFile(store.JournalPath(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"item_id":"a","from":"queued","to":"in_pro`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := Open(store.Dir()).Load()
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Items["b"].Status)
	assert.Equal(t, model.StatusQueued, got.Items["a"].Status)
}

func TestLoad_CorruptSnapshot(t *testing.T) {
	store := Open(t.TempDir())
	require.NoError(t, os.WriteFile(store.StatePath(), []byte("{not json"), 0o644))

	_, err := store.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrStoreCorrupt))
}

func TestSave_TruncatesJournal(t *testing.T) {
	store := Open(t.TempDir())
	st := newState()
	require.NoError(t, store.Save(st))
	require.NoError(t, store.AppendTransition(model.Transition{ItemID: "a", From: model.StatusQueued, To: model.StatusQueued, At: time.Now().UTC()}))
	require.NoError(t, store.Save(st))

	info, err := os.Stat(store.JournalPath())
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestArchive_MovesStateAside(t *testing.T) {
	store := Open(t.TempDir())
	require.NoError(t, store.Save(newState()))

	dest, err := store.Archive()
	require.NoError(t, err)
	assert.FileExists(t, dest+"/state.json")

	_, err = store.Load()
	require.ErrorIs(t, err, model.ErrNotFound)

	archives, err := ListArchives(store.Dir())
	require.NoError(t, err)
	assert.Equal(t, []string{dest}, archives)

	_, err = store.Archive()
	require.ErrorIs(t, err, model.ErrNotFound)
}
