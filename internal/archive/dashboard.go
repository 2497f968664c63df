package archive

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"asset-harvester/internal/model"
	"asset-harvester/internal/transfer"
)

const maxRecentEvents = 8

// Tracker aggregates phase changes and pool events into a snapshot the
// terminal dashboard renders. It is safe for concurrent use.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	phase   Phase
	counts  model.Counts
	workers map[int]*workerProgress
	events  []string

	target    int
	completed int
	failed    int
	retrying  int
	done      map[string]bool
	sizes     sizeEstimate
}

type WorkerSnapshot struct {
	Worker   int
	Line     string
	Fraction float64
}

type Snapshot struct {
	Phase     Phase
	Counts    model.Counts
	Target    int
	Completed int
	Failed    int
	Retrying  int
	Active    int
	Rate      float64
	SizeDone  int64
	SizeTotal int64
	ETA       string
	Workers   []WorkerSnapshot
	Events    []string
}

func NewTracker() *Tracker {
	return &Tracker{
		now:     time.Now,
		workers: make(map[int]*workerProgress),
		events:  make([]string, 0, maxRecentEvents),
		done:    make(map[string]bool),
	}
}

func (t *Tracker) SetPhase(p Phase, counts model.Counts) {
	t.mu.Lock()
	t.phase = p
	t.counts = counts
	t.mu.Unlock()
}

// SetQueue records the items planned for transfer.
func (t *Tracker) SetQueue(items []model.Item) {
	t.mu.Lock()
	t.target = len(items)
	t.sizes = estimateSizes(items)
	t.mu.Unlock()
}

func (t *Tracker) Handle(e transfer.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	at := t.now()
	switch e.Kind {
	case transfer.EventStarted:
		t.workers[e.Worker] = newWorkerProgress(e.ItemID, e.Path, e.Attempt, e.Total, at)
		if e.Attempt > 1 && t.retrying > 0 {
			t.retrying--
		}
	case transfer.EventProgress:
		if w, ok := t.workers[e.Worker]; ok {
			w.update(e.Bytes, e.Total, at)
		}
	case transfer.EventFinished:
		delete(t.workers, e.Worker)
		var msg string
		switch {
		case e.Status == model.StatusCompleted:
			t.completed++
			t.done[e.ItemID] = true
			msg = fmt.Sprintf("done  %s (%s)", e.Path, formatBytesIEC(e.Bytes))
		case e.Retry:
			t.retrying++
			msg = fmt.Sprintf("fail  %s (retry in %s)", e.Path, e.RetryIn.Round(time.Second))
		default:
			t.failed++
			msg = fmt.Sprintf("fail  %s (%s)", e.Path, errorText(e.Err))
		}
		t.events = append([]string{truncate(msg, 160)}, t.events...)
		if len(t.events) > maxRecentEvents {
			t.events = t.events[:maxRecentEvents]
		}
	}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int, 0, len(t.workers))
	for id := range t.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	s := Snapshot{
		Phase:     t.phase,
		Counts:    t.counts,
		Target:    t.target,
		Completed: t.completed,
		Failed:    t.failed,
		Retrying:  t.retrying,
		Active:    len(ids),
		Events:    append([]string(nil), t.events...),
	}
	for _, id := range ids {
		w := t.workers[id]
		s.Rate += w.rate
		s.Workers = append(s.Workers, WorkerSnapshot{Worker: id, Line: w.render(), Fraction: w.fraction()})
	}
	if t.sizes.hasEstimate() {
		s.SizeTotal = t.sizes.totalBytes
		s.SizeDone = t.sizes.completedBytes(t.done)
		s.ETA = estimateTotalETA(s.SizeTotal, s.SizeDone, s.Rate)
	}
	return s
}

// Header is the one-line summary shown above the worker list.
func (s Snapshot) Header() string {
	parts := []string{
		string(s.Phase),
		fmt.Sprintf("downloaded %d/%d", s.Completed, s.Target),
		fmt.Sprintf("active %d", s.Active),
	}
	if s.Failed > 0 || s.Retrying > 0 {
		parts = append(parts, fmt.Sprintf("failed %d retrying %d", s.Failed, s.Retrying))
	}
	parts = append(parts, "total "+formatRate(s.Rate))
	if s.SizeTotal > 0 {
		parts = append(parts, fmt.Sprintf("size ~ %s/%s", formatBytesIEC(s.SizeDone), formatBytesIEC(s.SizeTotal)))
		if s.ETA != "" {
			parts = append(parts, "eta ~ "+s.ETA)
		} else {
			parts = append(parts, "eta ~ calculating")
		}
	}
	return strings.Join(parts, " | ")
}

func estimateTotalETA(totalBytes, doneBytes int64, bytesPerSec float64) string {
	if totalBytes <= 0 || bytesPerSec <= 0 {
		return ""
	}
	remainingBytes := totalBytes - doneBytes
	if remainingBytes <= 0 {
		return "0m"
	}
	remainingSeconds := float64(remainingBytes) / bytesPerSec
	if remainingSeconds <= 0 {
		return ""
	}
	return formatETASeconds(remainingSeconds)
}

func formatETASeconds(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	secs := int64(math.Round(seconds))
	if secs < 60 {
		return "<1m"
	}
	minutes := secs / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	remMinutes := minutes % 60
	if hours < 24 {
		if remMinutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, remMinutes)
	}
	days := hours / 24
	remHours := hours % 24
	if remHours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, remHours)
}
