package transfer

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"asset-harvester/internal/model"
	"asset-harvester/internal/retry"
)

const (
	DefaultWorkers     = 6
	DefaultItemTimeout = 5 * time.Minute

	PartSuffix    = ".part"
	chunkSize     = 32 << 10
	progressEvery = 250 * time.Millisecond
)

// Ledger owns the run state. Every call applies one status transition and
// persists it before returning.
type Ledger interface {
	// Begin moves a queued item to in_progress and counts the attempt.
	Begin(id string) (model.Item, error)
	Complete(id string, size int64, sha256 string) error
	Fail(id string, cause error, reason string) error
	// Interrupt marks an in-flight item failed without counting the attempt.
	Interrupt(id string, cause error) error
	// Requeue moves a failed item back to queued; false vetoes the retry.
	Requeue(id string) bool
}

type EventKind string

const (
	EventStarted  EventKind = "started"
	EventProgress EventKind = "progress"
	EventFinished EventKind = "finished"
)

type Event struct {
	Kind    EventKind
	Worker  int
	ItemID  string
	Path    string
	Attempt int
	Bytes   int64
	Total   int64
	// Set on EventFinished.
	Status   model.Status
	Err      error
	Retry    bool
	RetryIn  time.Duration
	Duration time.Duration
}

type Pool struct {
	Workers     int
	Root        string
	Fetcher     Fetcher
	Ledger      Ledger
	Retry       retry.Policy
	ItemTimeout time.Duration
	// Limiter is shared by all workers; nil means unlimited.
	Limiter *rate.Limiter
	Logger  zerolog.Logger
	OnEvent func(Event)
}

// NewLimiter returns a bandwidth limiter for kbps kilobytes per second, or
// nil when kbps is not positive.
func NewLimiter(kbps int) *rate.Limiter {
	if kbps <= 0 {
		return nil
	}
	bytesPerSec := kbps * 1024
	return rate.NewLimiter(rate.Limit(bytesPerSec), max(bytesPerSec, chunkSize))
}

// Run processes q until it is drained or ctx ends. In-flight items are
// interrupted on cancellation and their partial files are kept. The returned
// error is a ledger failure; cancellation itself is not an error.
func (p *Pool) Run(ctx context.Context, q *Queue) error {
	workers := p.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var fatalOnce sync.Once
	var fatalErr error
	setFatal := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel(err)
		})
	}

	var wg sync.WaitGroup
	workerFn := func(workerID int) {
		defer wg.Done()
		for {
			id, ok := q.Pop(runCtx)
			if !ok {
				return
			}
			if err := p.process(runCtx, workerID, q, id); err != nil {
				setFatal(err)
			}
			q.Done()
		}
	}
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go workerFn(w)
	}
	wg.Wait()
	// retries still waiting out their backoff must not touch the ledger after
	// Run returns
	cancel(nil)
	q.Wait()
	return fatalErr
}

func (p *Pool) process(ctx context.Context, workerID int, q *Queue, id string) error {
	if ctx.Err() != nil {
		return nil
	}
	item, err := p.Ledger.Begin(id)
	if err != nil {
		return fmt.Errorf("begin %s: %w", id, err)
	}
	log := p.Logger.With().Str("item_id", id).Str("path", item.DestPath).Int("attempt", item.Attempts).Int("worker", workerID).Logger()
	log.Debug().Msg("transfer started")
	p.emit(Event{Kind: EventStarted, Worker: workerID, ItemID: id, Path: item.DestPath, Attempt: item.Attempts, Total: item.ExpectedSize})

	started := time.Now()
	itemCtx := ctx
	if p.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, p.ItemTimeout)
		defer cancel()
	}
	size, sum, dlErr := p.download(itemCtx, workerID, item)

	done := Event{Kind: EventFinished, Worker: workerID, ItemID: id, Path: item.DestPath, Attempt: item.Attempts, Bytes: size, Total: size, Duration: time.Since(started)}
	switch {
	case dlErr == nil:
		if err := p.Ledger.Complete(id, size, sum); err != nil {
			return fmt.Errorf("complete %s: %w", id, err)
		}
		log.Info().Int64("bytes", size).Msg("transfer completed")
		done.Status = model.StatusCompleted
		p.emit(done)
		return nil

	case ctx.Err() != nil:
		cause := context.Cause(ctx)
		if err := p.Ledger.Interrupt(id, cause); err != nil {
			return fmt.Errorf("interrupt %s: %w", id, err)
		}
		log.Info().Err(cause).Msg("transfer interrupted")
		done.Status = model.StatusFailed
		done.Err = cause
		p.emit(done)
		return nil
	}

	if errors.Is(dlErr, context.DeadlineExceeded) && itemCtx.Err() != nil {
		dlErr = model.Wrap(model.ErrTransfer, item.SourceRef, fmt.Errorf("item timeout after %s", p.ItemTimeout))
	}
	decision := p.Retry.OnFailure(item, dlErr)
	if err := p.Ledger.Fail(id, dlErr, decision.Reason); err != nil {
		return fmt.Errorf("fail %s: %w", id, err)
	}
	done.Status = model.StatusFailed
	done.Err = dlErr
	if decision.Action == retry.RetryAfter {
		done.Retry = true
		done.RetryIn = decision.Delay
		q.PushAfter(ctx, id, decision.Delay, p.Ledger.Requeue)
		log.Warn().Err(dlErr).Dur("retry_in", decision.Delay).Msg("transfer failed, will retry")
	} else {
		log.Error().Err(dlErr).Str("reason", decision.Reason).Msg("transfer failed, giving up")
	}
	p.emit(done)
	return nil
}

// download streams the item into <dest>.part and renames it into place once
// it is complete. A partial file left by an earlier attempt is resumed when
// the fetcher honours the offset.
func (p *Pool) download(ctx context.Context, workerID int, item model.Item) (int64, string, error) {
	final := filepath.Join(p.Root, filepath.FromSlash(item.DestPath))
	part := final + PartSuffix
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return 0, "", model.Wrap(model.ErrTransfer, item.DestPath, err)
	}

	var offset int64
	if st, err := os.Stat(part); err == nil && st.Mode().IsRegular() {
		offset = st.Size()
	}
	body, err := p.Fetcher.Open(ctx, Request{Item: item, Offset: offset, Worker: workerID})
	if err != nil {
		return 0, "", err
	}
	defer body.Close()

	f, err := os.OpenFile(part, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, "", model.Wrap(model.ErrTransfer, item.DestPath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	written := int64(0)
	if offset > 0 && body.Offset == offset {
		n, err := io.Copy(hasher, io.LimitReader(f, offset))
		if err != nil || n != offset {
			return 0, "", model.Wrap(model.ErrTransfer, item.DestPath, fmt.Errorf("read partial file: %w", cmp.Or(err, io.ErrUnexpectedEOF)))
		}
		written = offset
	} else {
		if err := f.Truncate(0); err != nil {
			return 0, "", model.Wrap(model.ErrTransfer, item.DestPath, err)
		}
	}
	if _, err := f.Seek(written, io.SeekStart); err != nil {
		return 0, "", model.Wrap(model.ErrTransfer, item.DestPath, err)
	}

	total := body.Total
	if total <= 0 {
		total = item.ExpectedSize
	}
	written, err = p.copy(ctx, f, hasher, body, written, total, workerID, item)
	if err != nil {
		return written, "", err
	}
	if total > 0 && written != total {
		if written > total {
			_ = f.Truncate(0)
		}
		return written, "", model.Wrap(model.ErrTransfer, item.DestPath, fmt.Errorf("incomplete transfer: got %d of %d bytes", written, total))
	}
	if err := f.Sync(); err != nil {
		return written, "", model.Wrap(model.ErrTransfer, item.DestPath, err)
	}
	if err := f.Close(); err != nil {
		return written, "", model.Wrap(model.ErrTransfer, item.DestPath, err)
	}
	if err := os.Rename(part, final); err != nil {
		return written, "", model.Wrap(model.ErrTransfer, item.DestPath, err)
	}
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (p *Pool) copy(ctx context.Context, dst io.Writer, hasher hash.Hash, src io.Reader, written, total int64, workerID int, item model.Item) (int64, error) {
	buf := make([]byte, chunkSize)
	lastEmit := time.Now()
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if p.Limiter != nil {
				if err := p.Limiter.WaitN(ctx, n); err != nil {
					return written, err
				}
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, model.Wrap(model.ErrTransfer, item.DestPath, err)
			}
			hasher.Write(buf[:n])
			written += int64(n)
			if time.Since(lastEmit) >= progressEvery {
				lastEmit = time.Now()
				p.emit(Event{Kind: EventProgress, Worker: workerID, ItemID: item.ID, Path: item.DestPath, Attempt: item.Attempts, Bytes: written, Total: total})
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, fmt.Errorf("read %s: %w", item.SourceRef, rerr)
		}
	}
}

func (p *Pool) emit(e Event) {
	if p.OnEvent != nil {
		p.OnEvent(e)
	}
}
