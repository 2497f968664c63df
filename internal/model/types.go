package model

import (
	"cmp"
	"slices"
	"time"
)

const SchemaVersion = 1

type Kind string

const (
	KindWeb   Kind = "web"
	KindDrive Kind = "gdrive"
	KindS3    Kind = "s3"
)

// Item is one discoverable, downloadable asset.
type Item struct {
	ID            string    `json:"id"`
	SourceRef     string    `json:"source_ref"`
	DestPath      string    `json:"dest_path"`
	Seed          string    `json:"seed,omitempty"`
	Kind          Kind      `json:"kind,omitempty"`
	Status        Status    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	SizeBytes     int64     `json:"size_bytes,omitempty"`
	ExpectedSize  int64     `json:"expected_size,omitempty"`
	SHA256        string    `json:"sha256,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitzero"`
	CompletedAt   time.Time `json:"completed_at,omitzero"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

type SeedError struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// RunState is the canonical persisted state of one install directory.
type RunState struct {
	SchemaVersion   int                  `json:"schema_version"`
	RunID           string               `json:"run_id"`
	Seeds           []string             `json:"seeds"`
	Items           map[string]*Item     `json:"items"`
	SeedErrors      map[string]SeedError `json:"seed_errors,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	LastPersistedAt time.Time            `json:"last_persisted_at,omitzero"`
}

// Transition is one journaled status change.
type Transition struct {
	ItemID    string    `json:"item_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Attempts  int       `json:"attempts"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	SHA256    string    `json:"sha256,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	At        time.Time `json:"at"`
}

type Counts struct {
	Total          int   `json:"total"`
	Discovered     int   `json:"discovered"`
	Queued         int   `json:"queued"`
	InProgress     int   `json:"in_progress"`
	Completed      int   `json:"completed"`
	Failed         int   `json:"failed"`
	Skipped        int   `json:"skipped"`
	CompletedBytes int64 `json:"completed_bytes"`
}

func NewRunState(runID string, now time.Time) *RunState {
	return &RunState{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		Seeds:         []string{},
		Items:         make(map[string]*Item),
		SeedErrors:    make(map[string]SeedError),
		CreatedAt:     now.UTC(),
	}
}

// AddSeeds appends seeds not already present, keeping order.
func (s *RunState) AddSeeds(seeds ...string) {
	for _, seed := range seeds {
		if seed == "" || slices.Contains(s.Seeds, seed) {
			continue
		}
		s.Seeds = append(s.Seeds, seed)
	}
}

// Transition records the item fields carried by a journal record.
func (it *Item) Transition(from Status) Transition {
	return Transition{
		ItemID:    it.ID,
		From:      from,
		To:        it.Status,
		Reason:    it.Reason,
		Attempts:  it.Attempts,
		SizeBytes: it.SizeBytes,
		SHA256:    it.SHA256,
		LastError: it.LastError,
		At:        it.UpdatedAt,
	}
}

// Apply replays a journal record onto the item.
func (it *Item) Apply(t Transition) {
	it.Status = t.To
	it.Reason = t.Reason
	it.Attempts = t.Attempts
	it.SizeBytes = t.SizeBytes
	it.SHA256 = t.SHA256
	it.LastError = t.LastError
	it.UpdatedAt = t.At
	if t.To == StatusInProgress {
		it.LastAttemptAt = t.At
	}
	if t.To == StatusCompleted {
		it.CompletedAt = t.At
	}
}

func (s *RunState) Clone() *RunState {
	out := *s
	out.Seeds = slices.Clone(s.Seeds)
	out.Items = make(map[string]*Item, len(s.Items))
	for id, it := range s.Items {
		cp := *it
		out.Items[id] = &cp
	}
	out.SeedErrors = make(map[string]SeedError, len(s.SeedErrors))
	for k, v := range s.SeedErrors {
		out.SeedErrors[k] = v
	}
	return &out
}

func (s *RunState) Counts() Counts {
	var c Counts
	for _, it := range s.Items {
		c.Total++
		switch it.Status {
		case StatusDiscovered:
			c.Discovered++
		case StatusQueued:
			c.Queued++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
			c.CompletedBytes += it.SizeBytes
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
			c.CompletedBytes += it.SizeBytes
		}
	}
	return c
}

// SortedIDs returns item ids ordered by destination path then id.
func (s *RunState) SortedIDs() []string {
	ids := make([]string, 0, len(s.Items))
	for id := range s.Items {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(cmp.Compare(s.Items[a].DestPath, s.Items[b].DestPath), cmp.Compare(a, b))
	})
	return ids
}
