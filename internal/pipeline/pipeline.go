// Package pipeline implements the spreadsheet-to-table extraction state
// machine: ingest uploaded workbooks, analyze their sheets, design a
// target schema, extract typed columnar output, validate it, and persist
// the result — with a resume-after-review path and a bounded revision
// loop when extraction fails quality checks.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/convert"
	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/objstore"
	"github.com/sheetpipe/sheetpipe/internal/progress"
	"github.com/sheetpipe/sheetpipe/internal/store"
	"github.com/sheetpipe/sheetpipe/pkg/llm"
)

// Options tunes a Service.
type Options struct {
	ScratchDir string
	SampleRows int
	KeyPrefix  string // object key prefix for table artifacts
}

// Service drives extraction runs end to end.
type Service struct {
	store      store.Store
	objects    objstore.Store
	llm        llm.Client
	engine     convert.Engine
	scratchDir string
	sampleRows int
	keyPrefix  string
}

// New creates a Service with all collaborators.
func New(st store.Store, objects objstore.Store, llmClient llm.Client, engine convert.Engine, opts Options) *Service {
	if opts.ScratchDir == "" {
		opts.ScratchDir = "/tmp/sheetpipe"
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = 10
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "tables"
	}
	return &Service{
		store:      st,
		objects:    objects,
		llm:        llmClient,
		engine:     engine,
		scratchDir: opts.ScratchDir,
		sampleRows: opts.SampleRows,
		keyPrefix:  opts.KeyPrefix,
	}
}

// Run claims the run and drives it through the state machine until a
// terminal phase. Progress events stream to sink throughout; the run
// record's terminal status and error are the error-of-record. Cancellation
// is honored at phase boundaries.
func (p *Service) Run(ctx context.Context, runID string, sink progress.Sink) error {
	if sink == nil {
		sink = progress.Discard
	}

	run, err := p.store.ClaimRun(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: claim run %s", runID)
	}
	log := zap.L().With(zap.String("run", run.ID), zap.String("project", run.ProjectID))
	log.Info("pipeline: run claimed", zap.String("review_mode", string(run.Config.ReviewMode)))

	state, err := p.loadState(ctx, run)
	if err != nil {
		p.finish(ctx, run, sink, model.RunStatusFailed, err)
		return err
	}

	phase := routeEntry(state)
	for phase != PhaseDone && phase != PhaseError {
		if err := ctx.Err(); err != nil {
			p.finish(ctx, run, sink, model.RunStatusCancelled, err)
			return eris.Wrap(err, "pipeline: run cancelled")
		}

		sink.Emit(progress.Event{Type: progress.EventPhaseStart, RunID: run.ID, Phase: string(phase), At: time.Now().UTC()})
		start := time.Now()

		update := p.step(ctx, phase, state, sink)
		state.merge(update)

		log.Info("pipeline: phase finished",
			zap.String("phase", string(phase)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Bool("failed", update.Err != nil))

		if update.Usage.TotalTokens > 0 {
			sink.Emit(progress.Event{Type: progress.EventTokenUpdate, RunID: run.ID, Usage: &state.Usage})
		}

		if state.Err != nil {
			phase = PhaseError
			break
		}

		next := p.route(phase, state)
		pausing := next == PhaseDone && phase == PhaseDesign

		// Persist phase/revisions/usage after every transition so a
		// crashed run can be inspected mid-flight. A pausing run keeps the
		// phase it paused in, not the END marker.
		recorded := next
		if pausing {
			recorded = phase
		}
		if err := p.store.UpdateRunProgress(ctx, run.ID, string(recorded), state.Revisions, state.Usage); err != nil {
			log.Warn("pipeline: run progress write failed", zap.Error(err))
		}
		sink.Emit(progress.Event{Type: progress.EventPhaseComplete, RunID: run.ID, Phase: string(phase), At: time.Now().UTC()})

		// A review pause persists the plan and parks the run.
		if pausing {
			return p.pauseForReview(ctx, run, state, sink)
		}
		phase = next
	}

	if phase == PhaseError {
		p.finish(ctx, run, sink, model.RunStatusFailed, state.Err)
		return state.Err
	}

	p.finish(ctx, run, sink, model.RunStatusCompleted, nil)
	return nil
}

// step dispatches one phase function.
func (p *Service) step(ctx context.Context, phase Phase, s *State, sink progress.Sink) Update {
	switch phase {
	case PhaseIngest:
		return p.ingest(ctx, s, sink)
	case PhaseAnalyze:
		return p.analyze(ctx, s, sink)
	case PhaseDesign:
		return p.design(ctx, s, sink)
	case PhaseExtract:
		return p.extract(ctx, s, sink)
	case PhaseValidate:
		return p.validatePhase(ctx, s, sink)
	case PhasePersist:
		return p.persist(ctx, s, sink)
	}
	return Update{Err: eris.Errorf("pipeline: unknown phase %q", phase)}
}

// route picks the next phase. Linear edges are fixed; the conditional
// decision points live in router.go.
func (p *Service) route(phase Phase, s *State) Phase {
	switch phase {
	case PhaseIngest:
		return PhaseAnalyze
	case PhaseAnalyze:
		return PhaseDesign
	case PhaseDesign:
		return routeAfterDesign(s)
	case PhaseExtract:
		return PhaseValidate
	case PhaseValidate:
		return routeAfterValidate(s)
	case PhasePersist:
		return PhaseDone
	}
	return PhaseError
}

// loadState builds the initial state: project files always, plus the
// approved plan and reviewer modifications when resuming after review.
func (p *Service) loadState(ctx context.Context, run *model.Run) (*State, error) {
	files, err := p.store.ListProjectFiles(ctx, run.ProjectID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list project files")
	}
	if len(files) == 0 {
		return nil, eris.Errorf("pipeline: project %s has no files", run.ProjectID)
	}

	state := &State{Run: run, Files: files, Revisions: run.Revisions, Usage: run.Usage}

	plan, err := p.store.GetPlan(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		state.Plan = plan
		mods, err := p.store.GetModifications(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		state.Mods = mods
	}
	return state, nil
}

// pauseForReview persists the designed plan and parks the run in review
// status. A later approval resumes it through the entry router.
func (p *Service) pauseForReview(ctx context.Context, run *model.Run, s *State, sink progress.Sink) error {
	if err := p.store.SavePlan(ctx, run.ID, s.Plan); err != nil {
		p.finish(ctx, run, sink, model.RunStatusFailed, err)
		return eris.Wrap(err, "pipeline: save plan for review")
	}
	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusReview, ""); err != nil {
		return eris.Wrap(err, "pipeline: mark run for review")
	}
	sink.Emit(progress.Event{
		Type:  progress.EventReviewReady,
		RunID: run.ID,
		Plan:  s.Plan,
		Usage: &s.Usage,
		At:    time.Now().UTC(),
	})
	zap.L().Info("pipeline: run paused for plan review", zap.String("run", run.ID))
	return nil
}

// finish writes the terminal status and emits the closing event. The
// status write uses a fresh context so cancellation cannot orphan a run
// in running state.
func (p *Service) finish(ctx context.Context, run *model.Run, sink progress.Sink, status model.RunStatus, cause error) {
	wctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.store.UpdateRunStatus(wctx, run.ID, status, msg); err != nil {
		zap.L().Error("pipeline: terminal status write failed",
			zap.String("run", run.ID), zap.String("status", string(status)), zap.Error(err))
	}

	ev := progress.Event{Type: progress.EventRunComplete, RunID: run.ID, At: time.Now().UTC()}
	if cause != nil {
		ev.Type = progress.EventRunError
		ev.Error = msg
	}
	sink.Emit(ev)
	zap.L().Info("pipeline: run finished", zap.String("run", run.ID), zap.String("status", string(status)))
}
