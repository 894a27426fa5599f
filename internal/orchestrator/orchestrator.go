// Package orchestrator drains an ordered batch of segments against a
// submission adapter one at a time, isolating per-segment failures.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/infra"
)

// Store is the segment state the orchestrator reads and mutates. It is the
// sole writer of status and result fields while a run is active.
type Store interface {
	Segments(ctx context.Context) ([]domain.Segment, error)
	MarkGenerating(ctx context.Context, id string) error
	// MarkSucceeded attaches h to the segment. When it returns an error the
	// store has already released h.
	MarkSucceeded(ctx context.Context, id string, h domain.ResultHandle) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// SubmitFunc performs the full single-job lifecycle for one segment:
// submission, polling and download.
type SubmitFunc func(ctx context.Context, req domain.SubmitRequest) (domain.ResultHandle, error)

// ChainPolicy decides what happens when a chained segment's predecessor has
// no usable result.
type ChainPolicy string

const (
	// ChainStrict fails the dependent segment with ErrDependencyNotReady.
	ChainStrict ChainPolicy = "strict"
	// ChainLenient submits the dependent segment without a seed image.
	ChainLenient ChainPolicy = "lenient"
)

// ParseChainPolicy maps configuration input onto a policy, defaulting to strict.
func ParseChainPolicy(v string) ChainPolicy {
	if strings.EqualFold(strings.TrimSpace(v), string(ChainLenient)) {
		return ChainLenient
	}
	return ChainStrict
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Store       Store
	Submit      SubmitFunc
	Publisher   domain.Publisher
	Credentials domain.CredentialSource
	ChainPolicy ChainPolicy
	Logger      *infra.Logger
	Now         func() time.Time
}

// Orchestrator runs batches sequentially.
type Orchestrator struct {
	store       Store
	submit      SubmitFunc
	publisher   domain.Publisher
	credentials domain.CredentialSource
	chainPolicy ChainPolicy
	logger      *infra.Logger
	now         func() time.Time
}

// New validates opts and constructs an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if opts.Submit == nil {
		return nil, errors.New("orchestrator: submit adapter is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	policy := opts.ChainPolicy
	if policy == "" {
		policy = ChainStrict
	}
	return &Orchestrator{
		store:       opts.Store,
		submit:      opts.Submit,
		publisher:   opts.Publisher,
		credentials: opts.Credentials,
		chainPolicy: policy,
		logger:      logger,
		now:         now,
	}, nil
}

// RunBatch processes every eligible segment in order. Precondition failures
// are returned before any submission. Segment failures are reported in the
// outcome, never as an error. When ctx is canceled between segments the
// partial outcome is returned together with ctx.Err().
func (o *Orchestrator) RunBatch(ctx context.Context, runID string) (*domain.Outcome, error) {
	return o.drain(ctx, runID, modeFilter(domain.RunModeAll))
}

// RetryFailed runs only the segments whose last attempt ended in error.
func (o *Orchestrator) RetryFailed(ctx context.Context, runID string) (*domain.Outcome, error) {
	return o.drain(ctx, runID, modeFilter(domain.RunModeRetryFailed))
}

// Run dispatches a persisted run by its mode.
func (o *Orchestrator) Run(ctx context.Context, mode domain.RunMode, runID string) (*domain.Outcome, error) {
	return o.drain(ctx, runID, modeFilter(mode))
}

// CountEligible reports how many segments a run in mode would attempt.
func CountEligible(mode domain.RunMode, segments []domain.Segment) int {
	return len(eligible(segments, modeFilter(mode)))
}

func modeFilter(mode domain.RunMode) func(domain.Segment) bool {
	if mode == domain.RunModeRetryFailed {
		return func(seg domain.Segment) bool { return seg.Status == domain.StatusError }
	}
	return func(domain.Segment) bool { return true }
}

func (o *Orchestrator) drain(ctx context.Context, runID string, include func(domain.Segment) bool) (*domain.Outcome, error) {
	if err := o.preflight(ctx); err != nil {
		return nil, err
	}
	segments, err := o.store.Segments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load segments: %w", err)
	}
	queue := eligible(segments, include)
	if len(queue) == 0 {
		return nil, domain.ErrNoEligibleWork
	}

	r := &run{
		o:        o,
		id:       runID,
		segments: segments,
		outcome: &domain.Outcome{
			Total:     len(queue),
			Skipped:   len(segments) - len(queue),
			Succeeded: []string{},
			Failed:    []domain.Failure{},
		},
	}
	log := o.logger.With().Str("run_id", runID).Logger()
	log.Info().Int("total", len(queue)).Int("skipped", r.outcome.Skipped).Msg("orchestrator: run started")
	r.publish(ctx, domain.ProgressEvent{
		Type:    domain.EventRunStarted,
		Message: "Initializing...",
		Status:  domain.StatusGenerating,
	})

	for i, idx := range queue {
		if err := ctx.Err(); err != nil {
			r.outcome.Status = domain.OutcomeCanceled
			r.finish(context.WithoutCancel(ctx))
			log.Warn().Int("completed", r.outcome.Completed).Msg("orchestrator: run canceled")
			return r.outcome, err
		}
		r.process(ctx, i, idx)
	}

	if len(r.outcome.Failed) == 0 {
		r.outcome.Status = domain.OutcomeSuccess
	} else {
		r.outcome.Status = domain.OutcomePartialFailure
	}
	r.finish(ctx)
	log.Info().
		Str("status", string(r.outcome.Status)).
		Int("succeeded", len(r.outcome.Succeeded)).
		Int("failed", len(r.outcome.Failed)).
		Msg("orchestrator: run finished")
	return r.outcome, nil
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	if o.credentials == nil {
		return domain.ErrMissingCredential
	}
	key, err := o.credentials.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMissingCredential, err)
	}
	if strings.TrimSpace(key) == "" {
		return domain.ErrMissingCredential
	}
	return nil
}

// eligible returns indices of ready segments, preserving order.
func eligible(segments []domain.Segment, include func(domain.Segment) bool) []int {
	queue := make([]int, 0, len(segments))
	for i, seg := range segments {
		if seg.Ready() && include(seg) {
			queue = append(queue, i)
		}
	}
	return queue
}

type run struct {
	o        *Orchestrator
	id       string
	segments []domain.Segment
	outcome  *domain.Outcome
}

func (r *run) process(ctx context.Context, pos, idx int) {
	seg := r.segments[idx]
	total := r.outcome.Total
	log := r.o.logger.With().Str("run_id", r.id).Str("segment_id", seg.ID).Int("index", pos+1).Logger()

	prev, depErr := r.predecessor(idx)
	if depErr != nil && r.o.chainPolicy == ChainLenient {
		log.Warn().Err(depErr).Msg("orchestrator: chaining skipped, submitting without seed")
		prev, depErr = nil, nil
	}

	if err := r.o.store.MarkGenerating(ctx, seg.ID); err != nil {
		r.fail(ctx, pos, idx, fmt.Errorf("mark generating: %w", err))
		return
	}
	r.segments[idx].Status = domain.StatusGenerating
	r.segments[idx].Result = nil
	message := fmt.Sprintf("Generating segment %d of %d...", pos+1, total)
	r.publish(ctx, domain.ProgressEvent{
		Type:          domain.EventSegmentStarted,
		SegmentID:     seg.ID,
		SegmentStatus: domain.StatusGenerating,
		Index:         pos + 1,
		Message:       message,
		Status:        domain.StatusGenerating,
	})

	if depErr != nil {
		r.fail(ctx, pos, idx, depErr)
		return
	}

	started := r.o.now()
	handle, err := r.o.submit(ctx, domain.SubmitRequest{
		RunID:    r.id,
		Segment:  seg,
		Previous: prev,
		OnPoll: func(attempt, max int) {
			r.publish(ctx, domain.ProgressEvent{
				Type:          domain.EventSegmentPolling,
				SegmentID:     seg.ID,
				SegmentStatus: domain.StatusGenerating,
				Index:         pos + 1,
				Message:       fmt.Sprintf("%s Polling for results... (%d/%d)", message, attempt, max),
				Status:        domain.StatusGenerating,
			})
		},
	})
	if err != nil {
		r.fail(ctx, pos, idx, err)
		return
	}
	// A downloaded result is kept even if cancellation arrived meanwhile.
	if err := r.o.store.MarkSucceeded(context.WithoutCancel(ctx), seg.ID, handle); err != nil {
		r.fail(ctx, pos, idx, fmt.Errorf("store result: %w", err))
		return
	}

	r.segments[idx].Status = domain.StatusSuccess
	r.segments[idx].Result = &handle
	r.outcome.Completed++
	r.outcome.Succeeded = append(r.outcome.Succeeded, seg.ID)
	log.Info().Dur("elapsed", r.o.now().Sub(started)).Str("result_key", handle.Key).Msg("orchestrator: segment succeeded")
	r.publish(ctx, domain.ProgressEvent{
		Type:          domain.EventSegmentSucceeded,
		SegmentID:     seg.ID,
		SegmentStatus: domain.StatusSuccess,
		Index:         pos + 1,
		Message:       fmt.Sprintf("Segment %d of %d generated.", pos+1, total),
		Status:        domain.StatusGenerating,
	})
}

// predecessor returns the segment immediately before idx in original order
// when idx requests chaining. The predecessor must have succeeded with a
// result handle.
func (r *run) predecessor(idx int) (*domain.Segment, error) {
	seg := r.segments[idx]
	if !seg.ChainFromPrevious {
		return nil, nil
	}
	if idx == 0 {
		return nil, fmt.Errorf("%w: segment has no predecessor", domain.ErrDependencyNotReady)
	}
	prev := r.segments[idx-1]
	if prev.Status != domain.StatusSuccess || prev.Result == nil || prev.Result.IsZero() {
		return nil, fmt.Errorf("%w: predecessor %s is %s", domain.ErrDependencyNotReady, prev.ID, prev.Status)
	}
	clone := prev.Clone()
	return &clone, nil
}

func (r *run) fail(ctx context.Context, pos, idx int, cause error) {
	seg := r.segments[idx]
	reason := cause.Error()
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		reason = "generation canceled"
	}
	// The failure must be recorded even when ctx was canceled mid-job.
	writeCtx := context.WithoutCancel(ctx)
	if err := r.o.store.MarkFailed(writeCtx, seg.ID, reason); err != nil {
		r.o.logger.Error().Err(err).Str("run_id", r.id).Str("segment_id", seg.ID).Msg("orchestrator: mark failed")
	}
	r.segments[idx].Status = domain.StatusError
	r.segments[idx].Result = nil
	r.segments[idx].Error = reason
	r.outcome.Completed++
	r.outcome.Failed = append(r.outcome.Failed, domain.Failure{
		SegmentID: seg.ID,
		Kind:      domain.FailureKind(cause),
		Reason:    reason,
	})
	r.o.logger.Error().
		Err(cause).
		Str("run_id", r.id).
		Str("segment_id", seg.ID).
		Int("index", pos+1).
		Str("kind", domain.FailureKind(cause)).
		Msg("orchestrator: segment failed")
	r.publish(writeCtx, domain.ProgressEvent{
		Type:          domain.EventSegmentFailed,
		SegmentID:     seg.ID,
		SegmentStatus: domain.StatusError,
		Index:         pos + 1,
		Message:       fmt.Sprintf("Segment %d of %d failed.", pos+1, r.outcome.Total),
		Status:        domain.StatusGenerating,
		Error:         reason,
	})
}

func (r *run) finish(ctx context.Context) {
	status := domain.StatusSuccess
	if r.outcome.Status != domain.OutcomeSuccess {
		status = domain.StatusError
	}
	r.publish(ctx, domain.ProgressEvent{
		Type:    domain.EventRunFinished,
		Message: r.outcome.Summary(),
		Status:  status,
	})
}

// publish stamps the aggregate fields and forwards the event. Publisher
// failures never abort a run.
func (r *run) publish(ctx context.Context, ev domain.ProgressEvent) {
	if r.o.publisher == nil {
		return
	}
	ev.RunID = r.id
	ev.Completed = r.outcome.Completed
	ev.Total = r.outcome.Total
	if ev.Total > 0 {
		ev.Fraction = float64(ev.Completed) / float64(ev.Total)
	}
	ev.At = r.o.now().UTC()
	if err := r.o.publisher.Publish(ctx, ev); err != nil {
		r.o.logger.Warn().Err(err).Str("run_id", r.id).Str("event", string(ev.Type)).Msg("orchestrator: publish progress failed")
	}
}
