package archive

import (
	"errors"
	"strings"
	"testing"
	"time"

	"asset-harvester/internal/model"
	"asset-harvester/internal/transfer"
)

func TestEstimateTotalETA(t *testing.T) {
	got := estimateTotalETA(3_600_000_000, 0, 1_000_000)
	if got != "1h" {
		t.Fatalf("expected 1h, got %q", got)
	}

	got = estimateTotalETA(3_900_000_000, 0, 1_000_000)
	if got != "1h 5m" {
		t.Fatalf("expected 1h 5m, got %q", got)
	}

	got = estimateTotalETA(10_000_000, 0, 1_000_000)
	if got != "<1m" {
		t.Fatalf("expected <1m, got %q", got)
	}

	got = estimateTotalETA(1_000_000_000, 1_000_000_000, 1_000_000)
	if got != "0m" {
		t.Fatalf("expected 0m, got %q", got)
	}
}

func TestEstimateTotalETAInvalidInputs(t *testing.T) {
	if got := estimateTotalETA(0, 0, 1_000_000); got != "" {
		t.Fatalf("expected empty eta for missing size, got %q", got)
	}
	if got := estimateTotalETA(1_000_000_000, 0, 0); got != "" {
		t.Fatalf("expected empty eta for missing rate, got %q", got)
	}
}

func TestTrackerFollowsPoolEvents(t *testing.T) {
	tr := NewTracker()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	tr.SetPhase(PhaseDownloading, model.Counts{Total: 3, Queued: 3})
	tr.SetQueue([]model.Item{
		{ID: "a", ExpectedSize: 4000},
		{ID: "b", ExpectedSize: 6000},
		{ID: "c"},
	})

	tr.Handle(transfer.Event{Kind: transfer.EventStarted, Worker: 1, ItemID: "a", Path: "site/a.pdf", Attempt: 1, Total: 4000})
	tr.Handle(transfer.Event{Kind: transfer.EventStarted, Worker: 2, ItemID: "b", Path: "site/b.pdf", Attempt: 1, Total: 6000})
	clock = clock.Add(time.Second)
	tr.Handle(transfer.Event{Kind: transfer.EventProgress, Worker: 1, ItemID: "a", Bytes: 2000, Total: 4000})

	s := tr.Snapshot()
	if s.Active != 2 || s.Target != 3 {
		t.Fatalf("active=%d target=%d", s.Active, s.Target)
	}
	if s.Workers[0].Worker != 1 || s.Workers[0].Fraction != 0.5 {
		t.Fatalf("unexpected worker snapshot: %+v", s.Workers[0])
	}
	if s.Rate != 2000 {
		t.Fatalf("rate = %v, want 2000", s.Rate)
	}

	tr.Handle(transfer.Event{Kind: transfer.EventFinished, Worker: 1, ItemID: "a", Path: "site/a.pdf", Status: model.StatusCompleted, Bytes: 4000})
	tr.Handle(transfer.Event{Kind: transfer.EventFinished, Worker: 2, ItemID: "b", Path: "site/b.pdf", Status: model.StatusFailed, Retry: true, RetryIn: 2 * time.Second, Err: errors.New("status 503")})

	s = tr.Snapshot()
	if s.Completed != 1 || s.Retrying != 1 || s.Failed != 0 || s.Active != 0 {
		t.Fatalf("unexpected totals: %+v", s)
	}
	if s.SizeTotal != 10000 || s.SizeDone != 4000 {
		t.Fatalf("size = %d/%d", s.SizeDone, s.SizeTotal)
	}
	if len(s.Events) != 2 || !strings.HasPrefix(s.Events[0], "fail  site/b.pdf (retry in 2s)") {
		t.Fatalf("unexpected events: %q", s.Events)
	}

	tr.Handle(transfer.Event{Kind: transfer.EventStarted, Worker: 1, ItemID: "b", Path: "site/b.pdf", Attempt: 2})
	tr.Handle(transfer.Event{Kind: transfer.EventFinished, Worker: 1, ItemID: "b", Path: "site/b.pdf", Status: model.StatusFailed, Err: errors.New("status 404")})
	s = tr.Snapshot()
	if s.Retrying != 0 || s.Failed != 1 {
		t.Fatalf("unexpected totals after give up: %+v", s)
	}
	if !strings.Contains(s.Header(), "downloaded 1/3") {
		t.Fatalf("unexpected header %q", s.Header())
	}
}
