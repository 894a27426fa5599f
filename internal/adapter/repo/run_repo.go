package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// RunRepositoryPG implements domain.RunRepository backed by PostgreSQL.
type RunRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewRunRepository creates a run repository.
func NewRunRepository(sql infra.SQLExecutor) *RunRepositoryPG {
	return &RunRepositoryPG{sql: sql}
}

// Enqueue records a queued run. The single-active index turns a concurrent
// submission into domain.ErrRunActive.
func (r *RunRepositoryPG) Enqueue(ctx context.Context, mode domain.RunMode, total int) (*domain.Run, error) {
	run := &domain.Run{
		ID:      uuid.NewString(),
		Mode:    mode,
		Status:  domain.RunStatusQueued,
		Total:   total,
		Message: "Queued",
	}
	err := r.sql.QueryRow(ctx, sqlinline.QInsertRun, run.ID, string(mode), total).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return nil, domain.ErrRunActive
		}
		return nil, err
	}
	return run, nil
}

// Claim locks the oldest queued run and marks it running.
func (r *RunRepositoryPG) Claim(ctx context.Context) (*domain.Run, error) {
	return r.one(ctx, sqlinline.QClaimRun)
}

// Get fetches a run by id.
func (r *RunRepositoryPG) Get(ctx context.Context, id string) (*domain.Run, error) {
	return r.one(ctx, sqlinline.QSelectRun, id)
}

// Active returns the queued or running run, if any.
func (r *RunRepositoryPG) Active(ctx context.Context) (*domain.Run, error) {
	return r.one(ctx, sqlinline.QSelectActiveRun)
}

// UpdateProgress stores the latest counters. Completed never decreases.
func (r *RunRepositoryPG) UpdateProgress(ctx context.Context, id string, completed, total int, message string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateRunProgress, id, completed, total, message)
	return err
}

// Finish moves the run into a terminal status with its outcome.
func (r *RunRepositoryPG) Finish(ctx context.Context, id string, status domain.RunStatus, message string, outcome *domain.Outcome) error {
	var payload []byte
	if outcome != nil {
		b, err := json.Marshal(outcome)
		if err != nil {
			return fmt.Errorf("marshal outcome: %w", err)
		}
		payload = b
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QFinishRun, id, string(status), message, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RequestCancel flags a run for cancellation. Queued runs are canceled
// immediately. Runs that already finished are left untouched.
func (r *RunRepositoryPG) RequestCancel(ctx context.Context, id string) error {
	var status string
	err := r.sql.QueryRow(ctx, sqlinline.QRequestRunCancel, id).Scan(&status)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// CancelRequested reports whether a cancel was requested for the run.
func (r *RunRepositoryPG) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectRunCancelRequested, id).Scan(&requested); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrNotFound
		}
		return false, err
	}
	return requested, nil
}

// RecoverInterrupted fails runs that a previous worker left running.
func (r *RunRepositoryPG) RecoverInterrupted(ctx context.Context, reason string) (int, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailInterruptedRuns, reason)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *RunRepositoryPG) one(ctx context.Context, query string, args ...any) (*domain.Run, error) {
	run, err := scanRun(r.sql.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

func scanRun(row pgx.Row) (*domain.Run, error) {
	var (
		run          domain.Run
		mode, status string
		outcome      []byte
	)
	if err := row.Scan(
		&run.ID,
		&mode,
		&status,
		&run.Total,
		&run.Completed,
		&run.Message,
		&run.CancelRequested,
		&outcome,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Mode = domain.ParseRunMode(mode)
	run.Status = domain.RunStatus(status)
	if len(outcome) > 0 {
		var o domain.Outcome
		if err := json.Unmarshal(outcome, &o); err != nil {
			return nil, fmt.Errorf("decode run outcome: %w", err)
		}
		run.Outcome = &o
	}
	return &run, nil
}

var _ domain.RunRepository = (*RunRepositoryPG)(nil)
