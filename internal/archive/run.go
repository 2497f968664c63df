package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"asset-harvester/internal/config"
	"asset-harvester/internal/discovery"
	"asset-harvester/internal/manifest"
	"asset-harvester/internal/model"
	"asset-harvester/internal/observability"
	"asset-harvester/internal/planner"
	"asset-harvester/internal/runstore"
	"asset-harvester/internal/transfer"
)

type Phase string

const (
	PhaseDiscovering Phase = "discovering"
	PhasePlanning    Phase = "planning"
	PhaseDownloading Phase = "downloading"
	PhaseExporting   Phase = "exporting"
)

type Outcome string

const (
	OutcomeAllCompleted          Outcome = "all_completed"
	OutcomeCompletedWithFailures Outcome = "completed_with_failures"
	OutcomeCancelled             Outcome = "cancelled"
	OutcomeFatal                 Outcome = "fatal_error"
)

var errRunTimeout = errors.New("run timeout exceeded")

// Deps are the collaborators of a run. Strategies and Fetcher are required
// unless the run skips discovery or downloads.
type Deps struct {
	Strategies map[model.Kind]discovery.Strategy
	Fetcher    transfer.Fetcher
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
	// OnPhase, OnPlan and OnEvent may be called from several goroutines.
	OnPhase func(Phase, model.Counts)
	OnPlan  func(enqueue []model.Item)
	OnEvent func(transfer.Event)
	Now     func() time.Time
}

type SeedFailure struct {
	Seed    string `json:"seed"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type Result struct {
	RunID        string  `json:"run_id"`
	StateDir     string  `json:"state_dir"`
	ManifestPath string  `json:"manifest_path,omitempty"`
	Outcome      Outcome `json:"outcome"`

	// Failures counts failed items plus seeds whose discovery failed.
	Failures int    `json:"failures"`
	Reason   string `json:"reason,omitempty"`

	Discovered int  `json:"discovered"`
	Enqueued   int  `json:"enqueued"`
	Skipped    int  `json:"skipped"`
	Exhausted  int  `json:"exhausted"`
	PlanOnly   bool `json:"plan_only,omitempty"`

	Counts     model.Counts  `json:"counts"`
	Unresolved []string      `json:"unresolved,omitempty"`
	SeedErrors []SeedFailure `json:"seed_errors,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// ExitCode maps the outcome to the process exit status.
func (r Result) ExitCode() int {
	switch r.Outcome {
	case OutcomeAllCompleted:
		return 0
	case OutcomeCompletedWithFailures:
		return 2
	case OutcomeCancelled:
		return 130
	default:
		return 1
	}
}

type runner struct {
	cfg  config.Config
	deps Deps
	log  zerolog.Logger
	now  func() time.Time
}

// Run executes one harvest: lock, load, discover, plan, download, persist and
// export the manifest. Only lock contention, a corrupt store, configuration
// errors and required persistence failures are returned as errors; everything
// else ends up in the Result.
func Run(ctx context.Context, cfg config.Config, deps Deps) (Result, error) {
	r := &runner{cfg: cfg, deps: deps, log: observability.Component(deps.Logger, "archive"), now: deps.Now}
	if r.now == nil {
		r.now = time.Now
	}
	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) (Result, error) {
	cfg := r.cfg
	started := r.now()
	res := Result{StateDir: cfg.StateDir, ManifestPath: cfg.ManifestPath, PlanOnly: cfg.PlanOnly}
	fatal := func(err error) (Result, error) {
		res.Outcome = OutcomeFatal
		res.Reason = err.Error()
		res.Duration = r.now().Sub(started)
		return res, err
	}

	runLock, err := runstore.AcquireRunLock(cfg.StateDir)
	if err != nil {
		return fatal(err)
	}
	defer func() {
		if err := runLock.Release(); err != nil {
			r.log.Warn().Err(err).Msg("release run lock")
		}
	}()
	if runLock.Recovered != nil {
		r.log.Warn().Int("pid", runLock.Recovered.PID).Str("created_at", runLock.Recovered.CreatedAt).Msg("replaced stale run lock left by a crashed run")
	}
	if err := runstore.Mkdir(cfg.DownloadRoot); err != nil {
		return fatal(model.Wrap(model.ErrConfig, cfg.DownloadRoot, err))
	}

	store := runstore.Open(cfg.StateDir)
	defer func() {
		_ = store.Close()
	}()
	state, err := store.Load()
	switch {
	case errors.Is(err, model.ErrNotFound):
		state = model.NewRunState(uuid.NewString(), r.now())
		r.log.Info().Str("run_id", state.RunID).Msg("starting new run state")
	case err != nil:
		return fatal(err)
	default:
		r.log.Info().Str("run_id", state.RunID).Int("items", len(state.Items)).Msg("resuming run state")
	}
	res.RunID = state.RunID
	state.AddSeeds(cfg.Seeds...)

	led := newLedger(state, store, cfg.PersistInterval, cfg.RequirePersistence, r.log, r.now)

	runCtx := ctx
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, cfg.RunTimeout, errRunTimeout)
		defer cancel()
	}

	var discovered []model.Item
	if !cfg.NoDiscover {
		seeds := cfg.Seeds
		if len(seeds) == 0 {
			seeds = state.Seeds
		}
		r.phase(PhaseDiscovering, state.Counts())
		dres := r.discover(runCtx, seeds)
		if runCtx.Err() != nil {
			return r.finish(runCtx, led, res, started)
		}
		r.recordSeedErrors(state, dres)
		discovered = dres.Items
		res.Discovered = len(discovered)
	}

	r.phase(PhasePlanning, state.Counts())
	plan := planner.Plan(discovered, state, planner.DirState{Root: cfg.DownloadRoot, VerifyHashes: cfg.VerifyHashes}, cfg.MaxAttempts)
	if err := led.applyPlan(plan); err != nil {
		return fatal(err)
	}
	if err := led.save(); err != nil {
		return fatal(err)
	}
	enqueue := plan.Enqueue()
	res.Enqueued = len(enqueue)
	res.Skipped = len(plan.Skipped())
	res.Exhausted = len(plan.Exhausted())
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObservePlanned(model.StatusSkipped, res.Skipped)
	}
	r.log.Info().
		Int("discovered", res.Discovered).
		Int("enqueue", res.Enqueued).
		Int("skip", res.Skipped).
		Int("exhausted", res.Exhausted).
		Msg("plan ready")
	for _, it := range plan.Exhausted() {
		r.log.Warn().Str("item_id", it.ID).Str("path", it.DestPath).Int("attempts", it.Attempts).Msg("max attempts reached, needs manual intervention")
	}

	if r.deps.OnPlan != nil {
		r.deps.OnPlan(enqueue)
	}

	if !cfg.PlanOnly && len(enqueue) > 0 {
		r.phase(PhaseDownloading, led.snapshot().Counts())
		if err := r.download(runCtx, led, enqueue); err != nil {
			_ = led.save()
			r.writeManifest(led)
			return fatal(err)
		}
	}
	return r.finish(runCtx, led, res, started)
}

func (r *runner) discover(ctx context.Context, seeds []string) discovery.Result {
	svc := &discovery.Service{
		Strategies:  r.deps.Strategies,
		Concurrency: r.cfg.DiscoveryWorkers,
		Logger:      observability.Component(r.deps.Logger, "discovery"),
	}
	return svc.Discover(ctx, seeds)
}

// recordSeedErrors stores the errors of failed seeds and clears those of
// seeds that were enumerated successfully.
func (r *runner) recordSeedErrors(state *model.RunState, dres discovery.Result) {
	for _, seed := range dres.Succeeded {
		delete(state.SeedErrors, seed)
	}
	at := r.now().UTC()
	for _, se := range dres.Errors {
		state.SeedErrors[se.Seed] = model.SeedError{Kind: se.Kind(), Message: errorText(se.Err), At: at}
		if r.deps.Metrics != nil {
			r.deps.Metrics.ObserveDiscoveryError(se.Kind())
		}
	}
}

func (r *runner) download(ctx context.Context, led *ledger, items []model.Item) error {
	if r.deps.Fetcher == nil {
		return model.Wrap(model.ErrConfig, "", errors.New("no fetcher configured"))
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}

	pool := &transfer.Pool{
		Workers:     r.cfg.Workers,
		Root:        r.cfg.DownloadRoot,
		Fetcher:     r.deps.Fetcher,
		Ledger:      led,
		Retry:       r.cfg.RetryPolicy(),
		ItemTimeout: r.cfg.ItemTimeout,
		Limiter:     transfer.NewLimiter(r.cfg.DownloadLimitKBps),
		Logger:      observability.Component(r.deps.Logger, "transfer"),
		OnEvent: func(e transfer.Event) {
			if r.deps.Metrics != nil {
				r.deps.Metrics.ObserveTransfer(e)
			}
			if r.deps.OnEvent != nil {
				r.deps.OnEvent(e)
			}
		},
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	if r.cfg.SnapshotInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.NewTicker(r.cfg.SnapshotInterval)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					r.writeManifest(led)
				}
			}
		}()
	}

	err := pool.Run(ctx, transfer.NewQueue(ids...))
	close(stop)
	wg.Wait()
	return err
}

func (r *runner) finish(runCtx context.Context, led *ledger, res Result, started time.Time) (Result, error) {
	if err := led.save(); err != nil {
		res.Outcome = OutcomeFatal
		res.Reason = err.Error()
		return res, err
	}
	r.phase(PhaseExporting, led.snapshot().Counts())
	doc, written := r.writeManifest(led)
	if !written {
		res.ManifestPath = ""
	}

	res.Counts = doc.Summary
	res.Unresolved = doc.Unresolved
	for _, se := range doc.SeedErrors {
		res.SeedErrors = append(res.SeedErrors, SeedFailure{Seed: se.Seed, Kind: se.Kind, Message: se.Message})
	}
	res.Failures = res.Counts.Failed + len(res.SeedErrors)
	res.Degraded = led.isDegraded()
	res.Duration = r.now().Sub(started)

	switch {
	case runCtx.Err() != nil:
		res.Outcome = OutcomeCancelled
		res.Reason = context.Cause(runCtx).Error()
	case res.Failures > 0:
		res.Outcome = OutcomeCompletedWithFailures
	default:
		res.Outcome = OutcomeAllCompleted
	}

	ev := r.log.Info()
	if res.Outcome != OutcomeAllCompleted {
		ev = r.log.Warn()
	}
	ev.Str("outcome", string(res.Outcome)).
		Int("completed", res.Counts.Completed).
		Int("skipped", res.Counts.Skipped).
		Int("failed", res.Counts.Failed).
		Int("queued", res.Counts.Queued).
		Int("seed_errors", len(res.SeedErrors)).
		Dur("duration", res.Duration).
		Msg("run finished")
	return res, nil
}

// writeManifest exports the current state. A failed write is logged and does
// not fail the run; the run state remains the source of truth.
func (r *runner) writeManifest(led *ledger) (manifest.Document, bool) {
	doc := manifest.Export(led.snapshot(), r.now())
	if r.cfg.ManifestPath == "" {
		return doc, false
	}
	if err := manifest.Write(r.cfg.ManifestPath, doc); err != nil {
		r.log.Error().Err(err).Str("path", r.cfg.ManifestPath).Msg("write manifest")
		return doc, false
	}
	return doc, true
}

func (r *runner) phase(p Phase, counts model.Counts) {
	r.log.Debug().Str("phase", string(p)).Int("items", counts.Total).Msg("phase")
	if r.deps.OnPhase != nil {
		r.deps.OnPhase(p, counts)
	}
}

// Summary is a one-line human description of a result.
func (r Result) Summary() string {
	parts := []string{
		fmt.Sprintf("completed %d", r.Counts.Completed),
		fmt.Sprintf("skipped %d", r.Counts.Skipped),
		fmt.Sprintf("failed %d", r.Counts.Failed),
	}
	if r.Counts.Queued > 0 {
		parts = append(parts, fmt.Sprintf("queued %d", r.Counts.Queued))
	}
	if len(r.SeedErrors) > 0 {
		parts = append(parts, fmt.Sprintf("seed errors %d", len(r.SeedErrors)))
	}
	return fmt.Sprintf("%s: %s", r.Outcome, strings.Join(parts, ", "))
}
