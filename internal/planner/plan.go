// Package planner decides, for every discovered item, whether it must be
// transferred, can be skipped, or needs manual intervention.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"asset-harvester/internal/model"
)

type Decision string

const (
	Enqueue   Decision = "enqueue"
	Skip      Decision = "skip"
	Exhausted Decision = "exhausted"
)

const (
	ReasonVerifiedOnDisk   = "verified_on_disk"
	ReasonAdoptedFromDisk  = "adopted_existing_file"
	ReasonMissingLocalFile = "missing_local_file"
	ReasonContentChanged   = "content_changed_on_disk"
	ReasonRetry            = "retry_previous_failure"
	ReasonNew              = "new"
	ReasonPending          = "pending"
	ReasonMaxAttempts      = "max_attempts_reached"
)

// Entry is the decision for one item. Item carries the stored state merged
// with what discovery reported; its Status is still the stored status.
type Entry struct {
	Item     model.Item
	Decision Decision
	Reason   string
	New      bool
}

type Result struct {
	Entries []Entry
}

// FileState reports the size of a destination file relative to the download root.
type FileState interface {
	Stat(destPath string) (size int64, exists bool)
}

// ContentHasher is implemented by a FileState that can also hash a
// destination file. Plan then requires a recorded checksum to match before it
// skips a completed item.
type ContentHasher interface {
	SHA256(destPath string) (sum string, ok bool)
}

// DirState checks destination files under Root. With VerifyHashes set it
// rehashes completed files instead of trusting their size alone.
type DirState struct {
	Root         string
	VerifyHashes bool
}

func (d DirState) Stat(destPath string) (int64, bool) {
	info, err := os.Stat(filepath.Join(d.Root, filepath.FromSlash(destPath)))
	if err != nil || !info.Mode().IsRegular() {
		return 0, false
	}
	return info.Size(), true
}

func (d DirState) SHA256(destPath string) (string, bool) {
	if !d.VerifyHashes {
		return "", false
	}
	f, err := os.Open(filepath.Join(d.Root, filepath.FromSlash(destPath)))
	if err != nil {
		return "", false
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// Plan applies the dedup rules in order:
//  1. completed or skipped, and the file is on disk with the recorded size
//     (and recorded sha256 when files is a ContentHasher): skip
//  2. failed with attempts < maxAttempts: queue again
//  3. failed with attempts >= maxAttempts: stays failed, reported as exhausted
//  4. otherwise: queue
//
// Candidates are the discovered items in discovery order followed by stored
// items that were not rediscovered and still have work pending.
func Plan(discovered []model.Item, state *model.RunState, files FileState, maxAttempts int) Result {
	seen := make(map[string]bool, len(discovered))
	entries := make([]Entry, 0, len(discovered))

	for _, d := range discovered {
		if d.ID == "" || seen[d.ID] {
			continue
		}
		seen[d.ID] = true

		var stored *model.Item
		if state != nil {
			stored = state.Items[d.ID]
		}
		if stored == nil {
			entries = append(entries, planNew(d, files))
			continue
		}
		merged := *stored
		merged.SourceRef = d.SourceRef
		merged.Seed = d.Seed
		merged.Kind = d.Kind
		if d.ExpectedSize > 0 {
			merged.ExpectedSize = d.ExpectedSize
		}
		entries = append(entries, planStored(merged, files, maxAttempts))
	}

	if state != nil {
		for _, id := range state.SortedIDs() {
			if seen[id] {
				continue
			}
			it := *state.Items[id]
			switch it.Status {
			case model.StatusDiscovered, model.StatusQueued, model.StatusFailed, model.StatusInProgress:
				entries = append(entries, planStored(it, files, maxAttempts))
			}
		}
	}

	return Result{Entries: entries}
}

func planNew(item model.Item, files FileState) Entry {
	item.Status = ""
	if item.ExpectedSize > 0 {
		if size, ok := files.Stat(item.DestPath); ok && size == item.ExpectedSize {
			item.SizeBytes = size
			return Entry{Item: item, Decision: Skip, Reason: ReasonAdoptedFromDisk, New: true}
		}
	}
	return Entry{Item: item, Decision: Enqueue, Reason: ReasonNew, New: true}
}

func planStored(item model.Item, files FileState, maxAttempts int) Entry {
	switch item.Status {
	case model.StatusCompleted, model.StatusSkipped:
		size, ok := files.Stat(item.DestPath)
		if !ok || size != item.SizeBytes {
			return Entry{Item: item, Decision: Enqueue, Reason: ReasonMissingLocalFile}
		}
		if hasher, can := files.(ContentHasher); can && item.SHA256 != "" {
			if sum, ok := hasher.SHA256(item.DestPath); ok && sum != item.SHA256 {
				return Entry{Item: item, Decision: Enqueue, Reason: ReasonContentChanged}
			}
		}
		return Entry{Item: item, Decision: Skip, Reason: ReasonVerifiedOnDisk}
	case model.StatusFailed, model.StatusInProgress:
		if item.Attempts < maxAttempts {
			return Entry{Item: item, Decision: Enqueue, Reason: ReasonRetry}
		}
		return Entry{Item: item, Decision: Exhausted, Reason: ReasonMaxAttempts}
	default:
		return Entry{Item: item, Decision: Enqueue, Reason: ReasonPending}
	}
}

func (r Result) filter(d Decision) []model.Item {
	out := make([]model.Item, 0)
	for _, e := range r.Entries {
		if e.Decision == d {
			out = append(out, e.Item)
		}
	}
	return out
}

// Enqueue returns the items to transfer, in plan order.
func (r Result) Enqueue() []model.Item {
	return r.filter(Enqueue)
}

func (r Result) Skipped() []model.Item {
	return r.filter(Skip)
}

// Exhausted returns failed items that reached the attempt limit.
func (r Result) Exhausted() []model.Item {
	return r.filter(Exhausted)
}
