package main

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"studio/internal/domain"
	"studio/internal/events"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/orchestrator"
	"studio/internal/workspace"
)

const interruptedReason = "Interrupted by worker restart."

type runWorker struct {
	cfg       *infra.Config
	logger    infra.Logger
	runs      domain.RunRepository
	segments  domain.SegmentRepository
	handles   domain.HandleStore
	creds     domain.CredentialSource
	publisher domain.Publisher
	newSubmit func(apiKey string) (orchestrator.SubmitFunc, error)
}

// Run recovers state left by a previous process and then claims queued runs
// until ctx is canceled.
func (w *runWorker) Run(ctx context.Context) error {
	w.logger.Info().Msg("worker: started")
	if err := w.recover(ctx); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		run, err := w.runs.Claim(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				w.logger.Error().Err(err).Msg("worker: failed to claim run")
			}
			if err := sleep(ctx, w.cfg.WorkerPollInterval); err != nil {
				return err
			}
			continue
		}

		w.handleRun(ctx, run)
	}
}

func (w *runWorker) recover(ctx context.Context) error {
	n, err := w.runs.RecoverInterrupted(ctx, interruptedReason)
	if err != nil {
		return err
	}
	if err := w.segments.ResetGenerating(ctx, interruptedReason); err != nil {
		return err
	}
	if n > 0 {
		w.logger.Warn().Int("runs", n).Msg("worker: failed runs interrupted by restart")
	}
	return nil
}

func (w *runWorker) handleRun(ctx context.Context, run *domain.Run) {
	log := w.logger.With().Str("run_id", run.ID).Str("mode", string(run.Mode)).Logger()
	log.Info().Int("total", run.Total).Msg("worker: picked run")

	outcome, err := w.execute(ctx, run)
	status, message := finalState(outcome, err)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker: run failed")
	}

	// Shutdown must not leave the record running.
	finishCtx := context.WithoutCancel(ctx)
	if err := w.runs.Finish(finishCtx, run.ID, status, message, outcome); err != nil {
		log.Error().Err(err).Msg("worker: finish run failed")
		return
	}
	log.Info().Str("status", string(status)).Msg("worker: run finished")
}

func (w *runWorker) execute(ctx context.Context, run *domain.Run) (*domain.Outcome, error) {
	key, err := w.creds.APIKey(ctx)
	if err != nil {
		return nil, errors.Join(domain.ErrMissingCredential, err)
	}
	if key == "" {
		return nil, domain.ErrMissingCredential
	}
	submit, err := w.newSubmit(key)
	if err != nil {
		return nil, err
	}
	segs, err := w.segments.List(ctx)
	if err != nil {
		return nil, err
	}

	ws := workspace.New(workspace.Options{
		Releaser:  w.handles,
		Persister: w.segments,
		Source:    w.segments,
		Logger:    &w.logger,
	})
	ws.Load(segs)

	orch, err := orchestrator.New(orchestrator.Options{
		Store:       ws,
		Submit:      submit,
		Publisher:   events.Fanout{w.publisher, w.progressRecorder(run.ID)},
		Credentials: credentials.Static(key),
		ChainPolicy: orchestrator.ParseChainPolicy(w.cfg.ChainPolicy),
		Logger:      &w.logger,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var outcome *domain.Outcome
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		var err error
		outcome, err = orch.Run(gctx, run.Mode, run.ID)
		return err
	})
	g.Go(func() error {
		w.watchCancel(gctx, run.ID, cancel)
		return nil
	})
	err = g.Wait()
	return outcome, err
}

// watchCancel polls the run record and cancels the batch once a cancel has
// been requested. The orchestrator stops before the next segment.
func (w *runWorker) watchCancel(ctx context.Context, runID string, cancel context.CancelFunc) {
	every := w.cfg.CancelCheckEvery
	if every <= 0 {
		every = 2 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := w.runs.CancelRequested(ctx, runID)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn().Err(err).Str("run_id", runID).Msg("worker: cancel check failed")
				}
				continue
			}
			if requested {
				w.logger.Info().Str("run_id", runID).Msg("worker: cancel requested")
				cancel()
				return
			}
		}
	}
}

func (w *runWorker) progressRecorder(runID string) domain.Publisher {
	return domain.PublisherFunc(func(ctx context.Context, ev domain.ProgressEvent) error {
		if ev.Type == domain.EventRunFinished {
			return nil
		}
		return w.runs.UpdateProgress(context.WithoutCancel(ctx), runID, ev.Completed, ev.Total, ev.Message)
	})
}

// finalState maps the orchestrator result onto the persisted run record.
func finalState(outcome *domain.Outcome, err error) (domain.RunStatus, string) {
	if outcome != nil {
		return outcome.RunStatus(), outcome.Summary()
	}
	if err == nil {
		return domain.RunStatusFailed, "Run ended without an outcome."
	}
	if errors.Is(err, context.Canceled) {
		return domain.RunStatusCanceled, "Generation canceled."
	}
	return domain.RunStatusFailed, err.Error()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = 2 * time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
