package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options configures the engine and its stages.
type Options struct {
	ErrorBudget      int
	GateTimeout      time.Duration
	ScoreConcurrency int
	SweepConcurrency int
	Retries          int
	RetryBackoff     time.Duration
	Feedback         FeedbackConfig
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		ErrorBudget:      DefaultErrorBudget,
		GateTimeout:      24 * time.Hour,
		ScoreConcurrency: 4,
		SweepConcurrency: 4,
		Retries:          3,
		RetryBackoff:     500 * time.Millisecond,
		Feedback:         DefaultFeedbackConfig(),
	}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.ErrorBudget <= 0 {
		o.ErrorBudget = d.ErrorBudget
	}
	if o.GateTimeout <= 0 {
		o.GateTimeout = d.GateTimeout
	}
	if o.ScoreConcurrency <= 0 {
		o.ScoreConcurrency = d.ScoreConcurrency
	}
	if o.SweepConcurrency <= 0 {
		o.SweepConcurrency = d.SweepConcurrency
	}
	if o.Retries <= 0 {
		o.Retries = 1
	}
	if o.Feedback == (FeedbackConfig{}) {
		o.Feedback = d.Feedback
	}
	return o
}

// Store persists run snapshots. Snapshots are written when a run suspends,
// when it is interrupted, and when it finishes.
type Store interface {
	Save(ctx context.Context, s *State) error
	Load(ctx context.Context, id uuid.UUID) (*State, error)
	FindByGate(ctx context.Context, token string) (*State, error)
	ListSuspended(ctx context.Context) ([]*State, error)

	// Claim takes the exclusive right to drive run id until release is
	// called. A run claimed by any engine sharing the store reports ErrRunBusy.
	Claim(ctx context.Context, id uuid.UUID) (release func(), err error)

	// RequestCancel flags a run for cancellation by whichever engine holds
	// its claim. CancelRequested reports the flag.
	RequestCancel(ctx context.Context, id uuid.UUID) error
	CancelRequested(ctx context.Context, id uuid.UUID) (bool, error)
}

// Engine drives runs through their stages. At most one loop runs per run
// identity across every engine sharing a store; a run suspends when the
// router decides to wait and resumes on a gate resolution or expiry.
//
// Loops run detached from the caller's context. A caller that goes away
// leaves the run going; only Cancel and Shutdown stop a loop.
type Engine struct {
	rt     *Runtime
	store  Store
	opts   Options
	router *Router
	stages map[StageName]Stage
	logger *slog.Logger

	mu      sync.Mutex
	active  map[uuid.UUID]*runHandle
	loops   sync.WaitGroup
	closing bool
}

type runHandle struct {
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// NewEngine creates an engine over the runtime collaborators and store.
func NewEngine(rt *Runtime, store Store, opts Options) *Engine {
	opts = opts.normalize()
	e := &Engine{
		rt:     rt,
		store:  store,
		opts:   opts,
		router: NewRouter(opts.ErrorBudget),
		logger: rt.logger().With("workflow", "engine"),
		active: make(map[uuid.UUID]*runHandle),
	}
	e.stages = map[StageName]Stage{
		StageDiscover:  DiscoverStage(rt, opts),
		StageScore:     ScoreStage(rt, opts),
		StageTransform: TransformStage(rt, opts),
		StageGate:      GateStage(rt, opts),
		StageFinalize:  FinalizeStage(rt, opts),
		StageLearn:     LearnStage(rt, opts),
	}
	return e
}

// Options returns the normalized engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// Router returns the engine's router.
func (e *Engine) Router() *Router {
	return e.router
}

// Start creates a run for profile and drives it from discovery until it
// suspends or finishes.
func (e *Engine) Start(ctx context.Context, profile Profile) (Summary, error) {
	s := NewState(profile, e.rt.now())
	s.Threshold = e.opts.Feedback.Policy().Threshold

	ctx, h, release, err := e.acquire(ctx, s.ID)
	if err != nil {
		return s.Summary(), err
	}
	defer release()

	if err := e.store.Save(ctx, s); err != nil {
		return e.fail(s, err)
	}

	e.logger.Info("run started", "run_id", s.ID, "user_id", profile.UserID)
	return e.drive(ctx, h, s, StageDiscover)
}

// Get loads the current snapshot of a run.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*State, error) {
	return e.store.Load(ctx, id)
}

// ResolveGate applies an external decision to the pending gate identified by
// token and continues the run. A decision that arrives after the deadline
// expires the gate instead and reports ErrGateExpired.
func (e *Engine) ResolveGate(ctx context.Context, token string, decision GateDecision, feedback string) (Summary, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return Summary{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	ctx, h, s, release, err := e.lockGate(ctx, token)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	now := e.rt.now()
	g := s.PendingGate
	if g.Expired(now) {
		g.Status = GateExpired
		g.ResolvedAt = &now
		e.logger.Info("late gate decision expired", "run_id", s.ID, "token", token)
		sum, err := e.resume(ctx, h, s, now)
		return sum, errors.Join(ErrGateExpired, err)
	}

	if decision == DecisionApprove {
		g.Status = GateApproved
	} else {
		g.Status = GateRejected
	}
	g.Feedback = feedback
	g.ResolvedAt = &now

	e.logger.Info("gate resolved", "run_id", s.ID, "token", token, "status", g.Status)
	return e.resume(ctx, h, s, now)
}

// ExpireIfPastDeadline expires the gate identified by token if its deadline
// has passed and continues the run. The boolean reports whether the gate expired.
func (e *Engine) ExpireIfPastDeadline(ctx context.Context, token string) (Summary, bool, error) {
	ctx, h, s, release, err := e.lockGate(ctx, token)
	if err != nil {
		return Summary{}, false, err
	}
	defer release()

	now := e.rt.now()
	g := s.PendingGate
	if !g.Expired(now) {
		return s.Summary(), false, nil
	}

	g.Status = GateExpired
	g.ResolvedAt = &now

	e.logger.Info("gate expired", "run_id", s.ID, "token", token, "expires_at", g.ExpiresAt)
	sum, err := e.resume(ctx, h, s, now)
	return sum, true, err
}

// Resume continues a run that is not being driven. A suspended run has its
// gate re-evaluated; while the gate is still pending and within its deadline
// the run is left untouched and the summary reports wait. A run left running
// by an interruption continues from the stage it was about to execute.
func (e *Engine) Resume(ctx context.Context, id uuid.UUID) (Summary, error) {
	ctx, h, release, err := e.acquire(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	s, err := e.store.Load(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	if s.Terminal() {
		return s.Summary(), ErrRunTerminal
	}
	if s.Status == StatusRunning {
		next := s.NextStage
		if _, ok := e.stages[next]; !ok {
			next = StageDiscover
		}
		e.logger.Info("run resumed after interruption", "run_id", s.ID, "next_stage", next)
		return e.drive(ctx, h, s, next)
	}
	if s.Status != StatusSuspended {
		return s.Summary(), ErrRunNotSuspended
	}

	now := e.rt.now()
	if g := s.PendingGate; g != nil && g.Status == GatePending && g.Expired(now) {
		g.Status = GateExpired
		g.ResolvedAt = &now
	}

	if e.router.Next(StageGate, s) == StageWait {
		sum := s.Summary()
		sum.NextStage = StageWait
		return sum, nil
	}
	return e.resume(ctx, h, s, now)
}

// Sweep expires every pending gate whose deadline has passed and returns the
// number of runs it expired. Failures on individual runs are logged and do
// not stop the sweep.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	suspended, err := e.store.ListSuspended(ctx)
	if err != nil {
		return 0, fmt.Errorf("list suspended runs: %w", err)
	}

	now := e.rt.now()
	var expired atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.SweepConcurrency)

	for _, s := range suspended {
		gate := s.PendingGate
		if gate == nil || gate.Status != GatePending || !gate.Expired(now) {
			continue
		}
		g.Go(func() error {
			_, ok, err := e.ExpireIfPastDeadline(gctx, gate.Token)
			if err != nil && !errors.Is(err, ErrBudgetExceeded) && !errors.Is(err, ErrRunBusy) {
				e.logger.Warn("sweep failed to expire gate", "run_id", s.ID, "token", gate.Token, "error", err)
			}
			if ok {
				expired.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	if n := expired.Load(); n > 0 {
		e.logger.Info("sweep expired gates", "count", n)
	}
	return int(expired.Load()), nil
}

// Cancel stops a run. A running loop is flagged and stops before its next
// stage; the stage in flight finishes and its result is discarded. A run
// driven by another engine sharing the store is flagged through the store. An
// idle run is terminated immediately.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	if h, ok := e.active[id]; ok {
		h.cancelled.Store(true)
		e.mu.Unlock()
		e.logger.Info("run cancellation requested", "run_id", id)
		return nil
	}
	e.mu.Unlock()

	ctx, _, release, err := e.acquire(ctx, id)
	if errors.Is(err, ErrRunBusy) {
		return e.requestCancel(ctx, id)
	}
	if err != nil {
		return err
	}
	defer release()

	s, err := e.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if s.Terminal() {
		return ErrRunTerminal
	}

	_, err = e.terminate(ctx, s, "cancelled")
	return err
}

func (e *Engine) requestCancel(ctx context.Context, id uuid.UUID) error {
	s, err := e.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if s.Terminal() {
		return ErrRunTerminal
	}
	if err := e.store.RequestCancel(ctx, id); err != nil {
		return fmt.Errorf("request cancel of run %s: %w", id, err)
	}
	e.logger.Info("run cancellation requested through store", "run_id", id)
	return nil
}

// Shutdown interrupts every loop this engine drives and waits for each to
// persist a resumable snapshot. New loops are refused with ErrEngineClosed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	n := len(e.active)
	for _, h := range e.active {
		h.cancel()
	}
	e.mu.Unlock()

	if n > 0 {
		e.logger.Info("interrupting active runs", "count", n)
	}

	done := make(chan struct{})
	go func() {
		e.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

// Active returns the number of runs this engine is driving.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Engine) drive(ctx context.Context, h *runHandle, s *State, next StageName) (Summary, error) {
	for {
		if e.cancelRequested(ctx, h, s.ID) {
			return e.terminate(ctx, s, "cancelled")
		}

		switch next {
		case StageWait:
			return e.suspend(ctx, s)
		case StageStop:
			return e.finish(ctx, s)
		}

		if ctx.Err() != nil {
			return e.interrupt(ctx, s, next)
		}

		stage, ok := e.stages[next]
		if !ok {
			return e.fail(s, fmt.Errorf("no stage registered for %q", next))
		}

		work := s.Clone()
		err := e.execute(ctx, stage, work)

		if e.cancelRequested(ctx, h, s.ID) {
			return e.terminate(ctx, s, "cancelled")
		}
		if ctx.Err() != nil {
			return e.interrupt(ctx, s, next)
		}

		s = work
		now := e.rt.now()
		s.CurrentStage = next
		s.UpdatedAt = now
		if err != nil {
			s.RecordError(next, err, now)
			e.logger.Warn("stage failed", "run_id", s.ID, "stage", next, "error", err)
		}

		next = e.router.Decide(next, s, now)

		if err := s.CheckInvariants(); err != nil {
			e.logger.Error("run invariant violated", "run_id", s.ID, "stage", s.CurrentStage, "error", err)
		}
	}
}

// cancelRequested reports a cancellation flagged locally or through the store.
func (e *Engine) cancelRequested(ctx context.Context, h *runHandle, id uuid.UUID) bool {
	if h.cancelled.Load() {
		return true
	}
	requested, err := e.store.CancelRequested(context.WithoutCancel(ctx), id)
	if err != nil {
		e.logger.Warn("cancel flag unreadable", "run_id", id, "error", err)
		return false
	}
	return requested
}

func (e *Engine) execute(ctx context.Context, stage Stage, s *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name(), r)
		}
	}()
	return stage.Execute(ctx, s)
}

func (e *Engine) resume(ctx context.Context, h *runHandle, s *State, now time.Time) (Summary, error) {
	s.Status = StatusRunning
	s.UpdatedAt = now
	next := e.router.Decide(StageGate, s, now)
	return e.drive(ctx, h, s, next)
}

func (e *Engine) suspend(ctx context.Context, s *State) (Summary, error) {
	s.Status = StatusSuspended
	s.UpdatedAt = e.rt.now()

	if err := e.store.Save(context.WithoutCancel(ctx), s); err != nil {
		return e.fail(s, err)
	}

	e.logger.Info("run suspended", "run_id", s.ID, "token", s.PendingGate.Token, "expires_at", s.PendingGate.ExpiresAt)
	return s.Summary(), nil
}

func (e *Engine) finish(ctx context.Context, s *State) (Summary, error) {
	now := e.rt.now()
	s.Status = StatusTerminal
	s.ActiveCandidate = ""
	s.Document = nil
	s.PendingGate = nil
	s.UpdatedAt = now
	s.CompletedAt = &now

	var runErr error
	switch {
	case e.router.OverBudget(s):
		s.Outcome = OutcomeBudgetExceeded
		runErr = fmt.Errorf("%w: %d errors", ErrBudgetExceeded, len(s.Errors))
	case s.Profile.Paused:
		s.Outcome = OutcomePaused
	default:
		s.Outcome = OutcomeCompleted
	}

	if err := e.store.Save(context.WithoutCancel(ctx), s); err != nil {
		return e.fail(s, err)
	}

	e.logger.Info("run finished",
		"run_id", s.ID,
		"outcome", s.Outcome,
		"submitted", len(s.Submissions),
		"errors", len(s.Errors),
	)
	return s.Summary(), runErr
}

func (e *Engine) terminate(ctx context.Context, s *State, reason string) (Summary, error) {
	now := e.rt.now()
	s.RecordDecision(s.CurrentStage, StageStop, reason, now)
	s.NextStage = StageStop
	s.Status = StatusTerminal
	s.Outcome = OutcomeCancelled
	s.ActiveCandidate = ""
	s.Document = nil
	s.PendingGate = nil
	s.UpdatedAt = now
	s.CompletedAt = &now

	if err := e.store.Save(context.WithoutCancel(ctx), s); err != nil {
		return e.fail(s, err)
	}

	e.logger.Info("run cancelled", "run_id", s.ID, "reason", reason)
	return s.Summary(), nil
}

// interrupt persists a run stopped by engine shutdown so Resume can continue
// it from next. The run keeps its running status.
func (e *Engine) interrupt(ctx context.Context, s *State, next StageName) (Summary, error) {
	s.NextStage = next
	s.UpdatedAt = e.rt.now()

	if err := e.store.Save(context.WithoutCancel(ctx), s); err != nil {
		return e.fail(s, err)
	}

	e.logger.Warn("run interrupted", "run_id", s.ID, "next_stage", next)
	return s.Summary(), fmt.Errorf("%w: %s", ErrInterrupted, s.ID)
}

func (e *Engine) fail(s *State, err error) (Summary, error) {
	s.Status = StatusFailed
	s.Outcome = OutcomePersistenceFailed
	s.UpdatedAt = e.rt.now()
	e.logger.Error("run persistence failed", "run_id", s.ID, "error", err)
	return s.Summary(), fmt.Errorf("%w: %w", ErrPersistence, err)
}

// acquire claims the run identity for one loop, first in this engine and
// then in the store. The returned context carries the caller's values but not
// its cancellation; Shutdown cancels it. release frees both claims.
func (e *Engine) acquire(ctx context.Context, id uuid.UUID) (context.Context, *runHandle, func(), error) {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return ctx, nil, nil, ErrEngineClosed
	}
	if _, busy := e.active[id]; busy {
		e.mu.Unlock()
		return ctx, nil, nil, fmt.Errorf("%w: %s", ErrRunBusy, id)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &runHandle{cancel: cancel}
	e.active[id] = h
	e.loops.Add(1)
	e.mu.Unlock()

	local := func() {
		cancel()
		e.releaseHandle(id)
		e.loops.Done()
	}

	unclaim, err := e.store.Claim(ctx, id)
	if err != nil {
		local()
		return ctx, nil, nil, err
	}

	return runCtx, h, func() {
		unclaim()
		local()
	}, nil
}

func (e *Engine) releaseHandle(id uuid.UUID) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

// lockGate finds the suspended run holding token, claims it, and reloads it
// under the claim.
func (e *Engine) lockGate(ctx context.Context, token string) (context.Context, *runHandle, *State, func(), error) {
	found, err := e.store.FindByGate(ctx, token)
	if err != nil {
		return ctx, nil, nil, nil, err
	}

	ctx, h, release, err := e.acquire(ctx, found.ID)
	if err != nil {
		return ctx, nil, nil, nil, err
	}

	s, err := e.store.Load(ctx, found.ID)
	if err != nil {
		release()
		return ctx, nil, nil, nil, err
	}

	switch {
	case s.Terminal():
		err = ErrRunTerminal
	case s.PendingGate == nil || s.PendingGate.Token != token || s.PendingGate.Status != GatePending:
		err = ErrGateResolved
	case s.Status != StatusSuspended:
		err = ErrRunNotSuspended
	}
	if err != nil {
		release()
		return ctx, nil, nil, nil, err
	}

	return ctx, h, s, release, nil
}
