package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-harvester/internal/model"
)

func addItem(st *model.RunState, src, dest string, status model.Status, size int64, lastErr string) *model.Item {
	it := &model.Item{
		ID:        model.ItemID(src, dest),
		SourceRef: src,
		DestPath:  dest,
		Status:    status,
		SizeBytes: size,
		LastError: lastErr,
		Attempts:  1,
	}
	st.Items[it.ID] = it
	return it
}

func sampleState() *model.RunState {
	st := model.NewRunState("run-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	st.AddSeeds("https://example.com/docs/", "s3://bucket/reports")
	addItem(st, "https://example.com/docs/a.pdf", "example.com/docs/a.pdf", model.StatusCompleted, 10, "")
	addItem(st, "https://example.com/docs/b.pdf", "example.com/docs/b.pdf", model.StatusSkipped, 20, "stale error")
	addItem(st, "https://example.com/docs/sub/c.csv", "example.com/docs/sub/c.csv", model.StatusFailed, 0, "status 500")
	addItem(st, "s3://bucket/reports/q1.xlsx", "s3/bucket/reports/q1.xlsx", model.StatusQueued, 0, "")
	st.SeedErrors["https://broken.example/"] = model.SeedError{Kind: "discovery", Message: "timeout"}
	return st
}

func TestExport_MirrorsFolderTree(t *testing.T) {
	doc := Export(sampleState(), time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "run-1", doc.RunID)
	assert.Equal(t, []string{"https://example.com/docs/", "s3://bucket/reports"}, doc.Seeds)
	assert.Equal(t, 4, doc.Summary.Total)
	assert.Equal(t, 1, doc.Summary.Failed)
	assert.Equal(t, []string{"example.com/docs/sub/c.csv"}, doc.Unresolved)
	require.Len(t, doc.SeedErrors, 1)
	assert.Equal(t, "discovery", doc.SeedErrors[0].Kind)

	require.Len(t, doc.Tree.Children, 2)
	site := doc.Tree.Children[0]
	assert.Equal(t, "example.com", site.Name)
	assert.Equal(t, NodeDir, site.Type)
	assert.Equal(t, 3, site.Files)
	assert.Equal(t, 4, doc.Tree.Files)

	docs := site.Children[0]
	assert.Equal(t, "example.com/docs", docs.Path)
	require.Len(t, docs.Children, 3)
	assert.Equal(t, "sub", docs.Children[0].Name)
	assert.Equal(t, "a.pdf", docs.Children[1].Name)
	assert.Equal(t, "b.pdf", docs.Children[2].Name)
	assert.Empty(t, docs.Children[2].LastError)

	failed := docs.Children[0].Children[0]
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, "status 500", failed.LastError)
	assert.Equal(t, "https://example.com/docs/sub/c.csv", failed.SourceRef)
}

func TestExport_OneEntryPerItem(t *testing.T) {
	st := sampleState()
	addItem(st, "https://mirror.example/a.pdf", "example.com/docs/a.pdf", model.StatusFailed, 0, "dup dest")

	doc := Export(st, time.Now())
	files := doc.Files()
	require.Len(t, files, len(st.Items))

	seen := make(map[string]bool)
	for _, f := range files {
		it, ok := st.Items[f.ID]
		require.True(t, ok, f.ID)
		assert.False(t, seen[f.ID])
		seen[f.ID] = true
		assert.Equal(t, it.Status, f.Status)
		assert.Equal(t, it.DestPath, f.Path)
	}
}

func TestExport_IsPureAndIdempotent(t *testing.T) {
	st := sampleState()
	before := st.Clone()
	now := time.Now()

	first := Export(st, now)
	second := Export(st, now)
	assert.Equal(t, first, second)
	assert.Equal(t, before, st)
}

func TestWriteReadAndVerify(t *testing.T) {
	root := t.TempDir()
	st := sampleState()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "example.com", "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "example.com", "docs", "a.pdf"), make([]byte, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "example.com", "docs", "b.pdf"), make([]byte, 3), 0o644))

	path := filepath.Join(root, DefaultFileName)
	doc := Export(st, time.Now())
	require.NoError(t, Write(path, doc))

	read, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, read.Files(), 4)

	mismatches := Verify(read, root)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "example.com/docs/b.pdf", mismatches[0].Path)
	assert.Contains(t, mismatches[0].Detail, "size 3")

	_, err = Read(filepath.Join(root, "missing.json"))
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
