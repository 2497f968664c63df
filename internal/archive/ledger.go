package archive

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"asset-harvester/internal/model"
	"asset-harvester/internal/planner"
	"asset-harvester/internal/runstore"
)

const (
	ReasonInterrupted = "interrupted"
	maxErrorLen       = 1200
)

// ledger owns the RunState for the duration of a run. Every transition is
// applied under stateMu and journaled before the call returns.
type ledger struct {
	stateMu sync.Mutex
	state   *model.RunState
	store   *runstore.Store

	persistInterval    time.Duration
	requirePersistence bool
	lastSave           time.Time
	degraded           bool

	log zerolog.Logger
	now func() time.Time
}

func newLedger(state *model.RunState, store *runstore.Store, persistInterval time.Duration, requirePersistence bool, log zerolog.Logger, now func() time.Time) *ledger {
	if now == nil {
		now = time.Now
	}
	return &ledger{
		state:              state,
		store:              store,
		persistInterval:    persistInterval,
		requirePersistence: requirePersistence,
		log:                log,
		now:                now,
	}
}

func (l *ledger) item(id string) (*model.Item, error) {
	it, ok := l.state.Items[id]
	if !ok {
		return nil, fmt.Errorf("unknown item %s", id)
	}
	return it, nil
}

func (l *ledger) Begin(id string) (model.Item, error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	it, err := l.item(id)
	if err != nil {
		return model.Item{}, err
	}
	from := it.Status
	if err := model.TransitionItem(it, model.StatusInProgress, ""); err != nil {
		return model.Item{}, err
	}
	it.Attempts++
	it.UpdatedAt = l.now().UTC()
	it.LastAttemptAt = it.UpdatedAt
	if err := l.persistLocked(it.Transition(from)); err != nil {
		return model.Item{}, err
	}
	return *it, nil
}

func (l *ledger) Complete(id string, size int64, sha256 string) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	it, err := l.item(id)
	if err != nil {
		return err
	}
	from := it.Status
	if err := model.TransitionItem(it, model.StatusCompleted, ""); err != nil {
		return err
	}
	it.SizeBytes = size
	it.SHA256 = sha256
	it.LastError = ""
	it.UpdatedAt = l.now().UTC()
	it.CompletedAt = it.UpdatedAt
	return l.persistLocked(it.Transition(from))
}

func (l *ledger) Fail(id string, cause error, reason string) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	it, err := l.item(id)
	if err != nil {
		return err
	}
	from := it.Status
	if err := model.TransitionItem(it, model.StatusFailed, reason); err != nil {
		return err
	}
	it.LastError = errorText(cause)
	it.UpdatedAt = l.now().UTC()
	return l.persistLocked(it.Transition(from))
}

func (l *ledger) Interrupt(id string, cause error) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	it, err := l.item(id)
	if err != nil {
		return err
	}
	from := it.Status
	if err := model.TransitionItem(it, model.StatusFailed, ReasonInterrupted); err != nil {
		return err
	}
	if it.Attempts > 0 {
		it.Attempts--
	}
	it.LastError = errorText(cause)
	it.UpdatedAt = l.now().UTC()
	return l.persistLocked(it.Transition(from))
}

func (l *ledger) Requeue(id string) bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	it, err := l.item(id)
	if err != nil || it.Status != model.StatusFailed {
		return false
	}
	from := it.Status
	if err := model.TransitionItem(it, model.StatusQueued, planner.ReasonRetry); err != nil {
		return false
	}
	it.UpdatedAt = l.now().UTC()
	if err := l.persistLocked(it.Transition(from)); err != nil {
		l.log.Error().Err(err).Str("item_id", id).Msg("requeue not persisted")
		return false
	}
	return true
}

// applyPlan applies the planner decisions in memory. The caller saves the
// full snapshot afterwards, which also covers items that are new to the store.
func (l *ledger) applyPlan(plan planner.Result) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	now := l.now().UTC()
	for _, e := range plan.Entries {
		it, ok := l.state.Items[e.Item.ID]
		if !ok {
			cp := e.Item
			cp.Status = ""
			it = &cp
			if err := model.TransitionItem(it, model.StatusDiscovered, ""); err != nil {
				return err
			}
			l.state.Items[it.ID] = it
		} else {
			it.SourceRef = e.Item.SourceRef
			it.Seed = e.Item.Seed
			it.Kind = e.Item.Kind
			it.ExpectedSize = e.Item.ExpectedSize
		}

		var err error
		switch e.Decision {
		case planner.Enqueue:
			err = model.TransitionItem(it, model.StatusQueued, e.Reason)
			if err == nil && (e.Reason == planner.ReasonMissingLocalFile || e.Reason == planner.ReasonContentChanged) {
				it.SHA256 = ""
				it.SizeBytes = 0
				it.CompletedAt = time.Time{}
				it.LastError = "previously completed but the local file is missing"
				if e.Reason == planner.ReasonContentChanged {
					it.LastError = "previously completed but the local file no longer matches its sha256"
				}
			}
		case planner.Skip:
			err = model.TransitionItem(it, model.StatusSkipped, e.Reason)
		case planner.Exhausted:
			err = model.TransitionItem(it, model.StatusFailed, e.Reason)
		}
		if err != nil {
			return err
		}
		it.UpdatedAt = now
	}
	return nil
}

// persistLocked journals one transition and saves the full snapshot when the
// persist interval has elapsed. Without require_persistence a write failure
// switches the run to memory-only mode once and is otherwise ignored.
func (l *ledger) persistLocked(t model.Transition) error {
	if l.degraded {
		return nil
	}
	if err := l.store.AppendTransition(t); err != nil {
		return l.persistFailed(err)
	}
	if l.persistInterval > 0 && l.now().Sub(l.lastSave) < l.persistInterval {
		return nil
	}
	return l.saveLocked()
}

func (l *ledger) save() error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.saveLocked()
}

func (l *ledger) saveLocked() error {
	if l.degraded {
		return nil
	}
	if err := l.store.Save(l.state); err != nil {
		return l.persistFailed(err)
	}
	l.lastSave = l.now()
	return nil
}

func (l *ledger) persistFailed(err error) error {
	if l.requirePersistence {
		return err
	}
	l.degraded = true
	l.log.Warn().Err(err).Msg("run state cannot be written; continuing in memory only, progress of this run will not survive a restart")
	return nil
}

func (l *ledger) isDegraded() bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.degraded
}

func (l *ledger) snapshot() *model.RunState {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state.Clone()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return truncate(err.Error(), maxErrorLen)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
