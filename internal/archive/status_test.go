package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asset-harvester/internal/manifest"
	"asset-harvester/internal/model"
	"asset-harvester/internal/runstore"
)

func TestStatus_ReportsCountsAndFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxAttempts = 1
	a, b := asset("a.pdf"), asset("b.pdf")
	strategy := &listStrategy{}
	strategy.set(testSeed, a, b)
	fetcher := newMemFetcher()
	fetcher.serve(a, "alpha")
	fetcher.failures[b.SourceRef] = 1
	fetcher.serve(b, "bravo")

	res, err := Run(context.Background(), cfg, testDeps(strategy, fetcher))
	require.NoError(t, err)

	report, err := Status(cfg)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, report.RunID)
	assert.Equal(t, []string{testSeed}, report.Seeds)
	assert.Equal(t, 2, report.Counts.Total)
	assert.Equal(t, 1, report.Counts.Completed)
	assert.False(t, report.Lock.Held)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, b.DestPath, report.Failed[0].Path)
	assert.True(t, report.Failed[0].Exhausted)
	assert.False(t, report.LastPersistedAt.IsZero())
}

func TestStatus_NotFound(t *testing.T) {
	_, err := Status(testConfig(t))
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestExportAndVerifyManifest(t *testing.T) {
	cfg := testConfig(t)
	a, b := asset("a.pdf"), asset("sub/b.pdf")
	strategy := &listStrategy{}
	strategy.set(testSeed, a, b)
	fetcher := newMemFetcher()
	fetcher.serve(a, "alpha")
	fetcher.serve(b, "bravo")
	_, err := Run(context.Background(), cfg, testDeps(strategy, fetcher))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "export.json")
	doc, path, err := ExportManifest(cfg, out)
	require.NoError(t, err)
	assert.Equal(t, out, path)
	assert.Len(t, doc.Files(), 2)

	mismatches, err := VerifyManifest(cfg, out)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.DownloadRoot, filepath.FromSlash(a.DestPath)), []byte("tampered!"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(cfg.DownloadRoot, filepath.FromSlash(b.DestPath))))
	mismatches, err = VerifyManifest(cfg, out)
	require.NoError(t, err)
	byPath := map[string]manifest.Mismatch{}
	for _, m := range mismatches {
		byPath[m.Path] = m
	}
	require.Len(t, byPath, 2)
	assert.Equal(t, "missing on disk", byPath[b.DestPath].Detail)
	assert.Contains(t, byPath[a.DestPath].Detail, "size 9 on disk")
}

func TestClear_ArchivesStateAndStartsFresh(t *testing.T) {
	cfg := testConfig(t)
	a := asset("a.pdf")
	strategy := &listStrategy{}
	strategy.set(testSeed, a)
	fetcher := newMemFetcher()
	fetcher.serve(a, "alpha")
	first, err := Run(context.Background(), cfg, testDeps(strategy, fetcher))
	require.NoError(t, err)

	dest, err := Clear(cfg)
	require.NoError(t, err)
	assert.DirExists(t, dest)
	assert.NoFileExists(t, runstore.Open(cfg.StateDir).StatePath())

	second, err := Run(context.Background(), cfg, testDeps(strategy, fetcher))
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 2, fetcher.callCount(a.SourceRef))
}

func TestClear_NothingToArchive(t *testing.T) {
	dest, err := Clear(testConfig(t))
	require.NoError(t, err)
	assert.Empty(t, dest)
}

func TestClear_RespectsRunLock(t *testing.T) {
	cfg := testConfig(t)
	lock, err := runstore.AcquireRunLock(cfg.StateDir)
	require.NoError(t, err)
	defer func() {
		_ = lock.Release()
	}()
	_, err = Clear(cfg)
	require.ErrorIs(t, err, model.ErrLockContention)
}

func TestDoctor(t *testing.T) {
	cfg := testConfig(t)
	cfg.Seeds = []string{testSeed, "https://drive.google.com/drive/folders/abc123"}
	cfg.DriveCredentials = ""

	res := Doctor(cfg)
	checks := map[string]DoctorCheck{}
	for _, c := range res.Checks {
		checks[c.Name] = c
	}
	assert.True(t, checks["directory:download_root"].OK)
	assert.True(t, checks["directory:state"].OK)
	assert.True(t, checks["lock:run"].OK)
	assert.Contains(t, checks, "disk:free")
	require.Contains(t, checks, "credentials:gdrive")
	assert.False(t, checks["credentials:gdrive"].OK)
	assert.False(t, res.OK)

	lock, err := runstore.AcquireRunLock(cfg.StateDir)
	require.NoError(t, err)
	defer func() {
		_ = lock.Release()
	}()
	for _, c := range Doctor(cfg).Checks {
		if c.Name == "lock:run" {
			assert.False(t, c.OK)
		}
	}
}
