package runstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"asset-harvester/internal/model"
)

const (
	stateFileName   = "state.json"
	journalFileName = "transitions.jsonl"
	archiveDirName  = "archive"

	ReasonInterruptedPreviousRun = "interrupted_previous_run"
)

// Store persists a RunState as a JSON snapshot plus an append-only journal of
// transitions recorded since that snapshot. All writes are serialized.
type Store struct {
	dir string

	mu      sync.Mutex
	journal *os.File
}

func Open(dir string) *Store {
	return &Store{dir: strings.TrimSpace(dir)}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) StatePath() string {
	return filepath.Join(s.dir, stateFileName)
}

func (s *Store) JournalPath() string {
	return filepath.Join(s.dir, journalFileName)
}

// Load reads the snapshot, replays newer journal records and converts items
// left in progress by a crashed run into failed ones.
func (s *Store) Load() (*model.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.StatePath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.ErrNotFound
		}
		return nil, model.Wrap(model.ErrPersistence, path, err)
	}
	var st model.RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, model.Wrap(model.ErrStoreCorrupt, path, err)
	}
	if st.SchemaVersion > model.SchemaVersion {
		return nil, model.Wrap(model.ErrStoreCorrupt, path, fmt.Errorf("unsupported schema_version %d", st.SchemaVersion))
	}
	if st.Items == nil {
		st.Items = make(map[string]*model.Item)
	}
	if st.SeedErrors == nil {
		st.SeedErrors = make(map[string]model.SeedError)
	}
	for id, it := range st.Items {
		if it == nil {
			delete(st.Items, id)
			continue
		}
		if it.ID == "" {
			it.ID = id
		}
	}

	records, err := s.readJournal()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.At.Before(st.LastPersistedAt) {
			continue
		}
		if it, ok := st.Items[rec.ItemID]; ok {
			it.Apply(rec)
		}
	}

	resetInterruptedItems(&st)
	return &st, nil
}

func resetInterruptedItems(st *model.RunState) {
	for _, it := range st.Items {
		if it.Status != model.StatusInProgress {
			continue
		}
		_ = model.TransitionItem(it, model.StatusFailed, ReasonInterruptedPreviousRun)
		if it.Attempts > 0 {
			it.Attempts--
		}
		if it.LastError == "" {
			it.LastError = "previous run interrupted while this item was in progress"
		}
	}
}

func (s *Store) readJournal() ([]model.Transition, error) {
	path := s.JournalPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, model.Wrap(model.ErrPersistence, path, err)
	}

	lines := make([][]byte, 0, 64)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, bytes.Clone(line))
	}
	if err := sc.Err(); err != nil {
		return nil, model.Wrap(model.ErrStoreCorrupt, path, err)
	}

	out := make([]model.Transition, 0, len(lines))
	for i, line := range lines {
		var rec model.Transition
		if err := json.Unmarshal(line, &rec); err != nil {
			if i == len(lines)-1 {
				// torn final write from a crash
				break
			}
			return nil, model.Wrap(model.ErrStoreCorrupt, path, fmt.Errorf("line %d: %w", i+1, err))
		}
		out = append(out, rec)
	}
	return out, nil
}

// Save atomically writes the full snapshot and truncates the journal.
func (s *Store) Save(st *model.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.StatePath()
	st.LastPersistedAt = time.Now().UTC()
	if err := WriteJSON(path, st); err != nil {
		return model.Wrap(model.ErrPersistence, path, err)
	}

	if s.journal != nil {
		if err := s.journal.Truncate(0); err != nil {
			return model.Wrap(model.ErrPersistence, s.JournalPath(), err)
		}
		return nil
	}
	if err := os.Truncate(s.JournalPath(), 0); err != nil && !errors.Is(err, os.ErrNotExist) {
		return model.Wrap(model.ErrPersistence, s.JournalPath(), err)
	}
	return nil
}

// AppendTransition durably appends one record to the journal.
func (s *Store) AppendTransition(t model.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.JournalPath()
	if s.journal == nil {
		if err := Mkdir(s.dir); err != nil {
			return model.Wrap(model.ErrPersistence, path, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return model.Wrap(model.ErrPersistence, path, err)
		}
		s.journal = f
	}

	line, err := json.Marshal(t)
	if err != nil {
		return model.Wrap(model.ErrPersistence, path, err)
	}
	line = append(line, '\n')
	if _, err := s.journal.Write(line); err != nil {
		return model.Wrap(model.ErrPersistence, path, err)
	}
	if err := s.journal.Sync(); err != nil {
		return model.Wrap(model.ErrPersistence, path, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeJournal()
}

func (s *Store) closeJournal() error {
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	if err != nil {
		return fmt.Errorf("close journal %s: %w", s.JournalPath(), err)
	}
	return nil
}

// Archive moves the snapshot and journal into archive/<timestamp>/ so that the
// next run starts from an empty state.
func (s *Store) Archive() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeJournal(); err != nil {
		return "", err
	}

	moves := make([]string, 0, 2)
	for _, name := range []string{stateFileName, journalFileName} {
		if _, err := os.Stat(filepath.Join(s.dir, name)); err == nil {
			moves = append(moves, name)
		}
	}
	if len(moves) == 0 {
		return "", model.ErrNotFound
	}

	dest := filepath.Join(s.dir, archiveDirName, time.Now().UTC().Format("20060102T150405.000000000Z"))
	if err := Mkdir(dest); err != nil {
		return "", model.Wrap(model.ErrPersistence, dest, err)
	}
	for _, name := range moves {
		if err := os.Rename(filepath.Join(s.dir, name), filepath.Join(dest, name)); err != nil {
			return "", model.Wrap(model.ErrPersistence, name, err)
		}
	}
	return dest, nil
}
