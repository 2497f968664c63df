package archive

import (
	"errors"
	"time"

	"asset-harvester/internal/config"
	"asset-harvester/internal/manifest"
	"asset-harvester/internal/model"
	"asset-harvester/internal/runstore"
)

type FailedItem struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	SourceRef string `json:"source_ref"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Exhausted bool   `json:"exhausted"`
}

type StatusReport struct {
	StateDir        string             `json:"state_dir"`
	RunID           string             `json:"run_id"`
	Seeds           []string           `json:"seeds"`
	Counts          model.Counts       `json:"counts"`
	LastPersistedAt time.Time          `json:"last_persisted_at,omitzero"`
	Lock            runstore.LockState `json:"lock"`
	SeedErrors      []SeedFailure      `json:"seed_errors,omitempty"`
	Failed          []FailedItem       `json:"failed,omitempty"`
}

// Status reads the stored run state without taking the run lock. Items a
// crashed run left in progress are reported as failed, as the next run will.
func Status(cfg config.Config) (StatusReport, error) {
	report := StatusReport{StateDir: cfg.StateDir, Lock: runstore.InspectRunLock(cfg.StateDir)}
	st, err := runstore.Open(cfg.StateDir).Load()
	if err != nil {
		return report, err
	}
	report.RunID = st.RunID
	report.Seeds = st.Seeds
	report.Counts = st.Counts()
	report.LastPersistedAt = st.LastPersistedAt

	doc := manifest.Export(st, time.Now())
	for _, se := range doc.SeedErrors {
		report.SeedErrors = append(report.SeedErrors, SeedFailure{Seed: se.Seed, Kind: se.Kind, Message: se.Message})
	}
	for _, id := range st.SortedIDs() {
		it := st.Items[id]
		if it.Status != model.StatusFailed {
			continue
		}
		report.Failed = append(report.Failed, FailedItem{
			ID:        it.ID,
			Path:      it.DestPath,
			SourceRef: it.SourceRef,
			Attempts:  it.Attempts,
			Reason:    it.Reason,
			LastError: it.LastError,
			Exhausted: it.Attempts >= cfg.MaxAttempts,
		})
	}
	return report, nil
}

// ExportManifest writes the manifest of the stored state to path, or to the
// configured manifest path when path is empty.
func ExportManifest(cfg config.Config, path string) (manifest.Document, string, error) {
	if path == "" {
		path = cfg.ManifestPath
	}
	st, err := runstore.Open(cfg.StateDir).Load()
	if err != nil {
		return manifest.Document{}, "", err
	}
	doc := manifest.Export(st, time.Now())
	if err := manifest.Write(path, doc); err != nil {
		return manifest.Document{}, "", err
	}
	return doc, path, nil
}

// VerifyManifest compares a written manifest with the files under the
// download root.
func VerifyManifest(cfg config.Config, path string) ([]manifest.Mismatch, error) {
	if path == "" {
		path = cfg.ManifestPath
	}
	doc, err := manifest.Read(path)
	if err != nil {
		return nil, err
	}
	return manifest.Verify(doc, cfg.DownloadRoot), nil
}

// Clear archives the stored run state under the run lock so the next run
// starts fresh. Downloaded files are left alone.
func Clear(cfg config.Config) (string, error) {
	runLock, err := runstore.AcquireRunLock(cfg.StateDir)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = runLock.Release()
	}()
	dest, err := runstore.Open(cfg.StateDir).Archive()
	if errors.Is(err, model.ErrNotFound) {
		return "", nil
	}
	return dest, err
}
