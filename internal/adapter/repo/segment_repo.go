package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// SegmentRepositoryPG implements domain.SegmentRepository backed by PostgreSQL.
type SegmentRepositoryPG struct {
	sql infra.SQLExecutor
	tx  infra.TxRunner
}

// NewSegmentRepository creates a segment repository. Multi-statement edits
// (delete, move, import) run through tx.
func NewSegmentRepository(sql infra.SQLExecutor, tx infra.TxRunner) *SegmentRepositoryPG {
	return &SegmentRepositoryPG{sql: sql, tx: tx}
}

// List returns the workspace in position order.
func (r *SegmentRepositoryPG) List(ctx context.Context) ([]domain.Segment, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectSegments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *seg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one segment by id.
func (r *SegmentRepositoryPG) Get(ctx context.Context, id string) (*domain.Segment, error) {
	seg, err := scanSegment(r.sql.QueryRow(ctx, sqlinline.QSelectSegment, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return seg, nil
}

// Insert appends seg to the end of the workspace.
func (r *SegmentRepositoryPG) Insert(ctx context.Context, seg domain.Segment) (*domain.Segment, error) {
	if err := insertSegment(ctx, r.sql, &seg, nil); err != nil {
		return nil, err
	}
	return &seg, nil
}

// Update stores the user-editable fields. Segments that are generating are
// refused with domain.ErrSegmentBusy.
func (r *SegmentRepositoryPG) Update(ctx context.Context, seg domain.Segment) error {
	mime, name, data := startImageColumns(seg.StartImage)
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateSegmentFields,
		seg.ID,
		seg.Prompt,
		seg.Dialogue,
		data,
		mime,
		name,
		seg.AspectRatio,
		string(seg.Modality),
		seg.ChainFromPrevious,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrBusy(ctx, r.sql, seg.ID)
	}
	return nil
}

// Delete removes a segment, closes the gap in positions, and returns the
// result handle the caller must release. It is refused with
// domain.ErrRunActive while a run is queued or running.
func (r *SegmentRepositoryPG) Delete(ctx context.Context, id string) (*domain.ResultHandle, error) {
	var released *domain.ResultHandle
	err := r.tx.InTx(ctx, func(exec infra.SQLExecutor) error {
		if err := refuseDuringRun(ctx, exec); err != nil {
			return err
		}
		h, err := scanHandle(exec.QueryRow(ctx, sqlinline.QDeleteSegment, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.missingOrBusy(ctx, exec, id)
			}
			return err
		}
		released = h
		_, err = exec.Exec(ctx, sqlinline.QCompactSegmentPositions)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// Move places a segment at position, clamped to the workspace bounds.
func (r *SegmentRepositoryPG) Move(ctx context.Context, id string, position int) error {
	return r.tx.InTx(ctx, func(exec infra.SQLExecutor) error {
		var (
			from   int
			status string
			count  int
		)
		if err := exec.QueryRow(ctx, sqlinline.QSelectSegmentPositionForUpdate, id).Scan(&from, &status, &count); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		if domain.Status(status) == domain.StatusGenerating {
			return domain.ErrSegmentBusy
		}
		to := clampPosition(position, count)
		if to == from {
			return nil
		}
		if _, err := exec.Exec(ctx, sqlinline.QShiftSegmentsForMove, id, from, to); err != nil {
			return err
		}
		_, err := exec.Exec(ctx, sqlinline.QSetSegmentPosition, id, to)
		return err
	})
}

// ReplaceAll swaps the whole workspace for segs. It is refused while any
// segment is generating or a run is queued or running. The returned handles
// belonged to the replaced segments and must be released by the caller.
func (r *SegmentRepositoryPG) ReplaceAll(ctx context.Context, segs []domain.Segment) ([]domain.ResultHandle, error) {
	var released []domain.ResultHandle
	err := r.tx.InTx(ctx, func(exec infra.SQLExecutor) error {
		var generating int
		if err := exec.QueryRow(ctx, sqlinline.QCountGeneratingSegments).Scan(&generating); err != nil {
			return err
		}
		if generating > 0 {
			return domain.ErrSegmentBusy
		}
		if err := refuseDuringRun(ctx, exec); err != nil {
			return err
		}

		rows, err := exec.Query(ctx, sqlinline.QDeleteAllSegments)
		if err != nil {
			return err
		}
		for rows.Next() {
			h, err := scanHandle(rows)
			if err != nil {
				rows.Close()
				return err
			}
			if h != nil {
				released = append(released, *h)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for i := range segs {
			pos := i
			if err := insertSegment(ctx, exec, &segs[i], &pos); err != nil {
				return fmt.Errorf("insert segment %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// SaveState writes the generation status, error and result handle.
func (r *SegmentRepositoryPG) SaveState(ctx context.Context, seg domain.Segment) error {
	var (
		key, mime, backend *string
		size               *int64
	)
	if seg.Result != nil && !seg.Result.IsZero() {
		key = &seg.Result.Key
		mime = &seg.Result.MIMEType
		size = &seg.Result.Size
		backend = &seg.Result.Backend
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QSaveSegmentState,
		seg.ID,
		string(seg.Status),
		key,
		mime,
		size,
		backend,
		seg.Error,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResetGenerating fails every segment left generating.
func (r *SegmentRepositoryPG) ResetGenerating(ctx context.Context, reason string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QResetGeneratingSegments, reason)
	return err
}

func refuseDuringRun(ctx context.Context, exec infra.SQLExecutor) error {
	var active int
	if err := exec.QueryRow(ctx, sqlinline.QCountActiveRuns).Scan(&active); err != nil {
		return err
	}
	if active > 0 {
		return domain.ErrRunActive
	}
	return nil
}

func (r *SegmentRepositoryPG) missingOrBusy(ctx context.Context, exec infra.SQLExecutor, id string) error {
	seg, err := scanSegment(exec.QueryRow(ctx, sqlinline.QSelectSegment, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	if seg.Status == domain.StatusGenerating {
		return domain.ErrSegmentBusy
	}
	return fmt.Errorf("segment %s was not modified", id)
}

func insertSegment(ctx context.Context, exec infra.SQLExecutor, seg *domain.Segment, position *int) error {
	mime, name, data := startImageColumns(seg.StartImage)
	return exec.QueryRow(ctx, sqlinline.QInsertSegment,
		seg.ID,
		position,
		seg.Prompt,
		seg.Dialogue,
		data,
		mime,
		name,
		seg.AspectRatio,
		string(seg.Modality),
		seg.ChainFromPrevious,
	).Scan(&seg.Position, &seg.UpdatedAt)
}

func startImageColumns(img *domain.InputImage) (mime, name *string, data []byte) {
	if img == nil {
		return nil, nil, nil
	}
	return &img.MIMEType, &img.Filename, img.Data
}

func scanSegment(row pgx.Row) (*domain.Segment, error) {
	var (
		seg                domain.Segment
		modality, status   string
		image              []byte
		imageMIME, imageNm *string
		key, mime, backend *string
		size               *int64
		updatedAt          time.Time
	)
	if err := row.Scan(
		&seg.ID,
		&seg.Position,
		&seg.Prompt,
		&seg.Dialogue,
		&image,
		&imageMIME,
		&imageNm,
		&seg.AspectRatio,
		&modality,
		&seg.ChainFromPrevious,
		&status,
		&key,
		&mime,
		&size,
		&backend,
		&seg.Error,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	seg.Modality = domain.NormalizeModality(modality)
	seg.Status = domain.Status(status)
	seg.UpdatedAt = updatedAt
	if len(image) > 0 {
		seg.StartImage = &domain.InputImage{Data: image, MIMEType: deref(imageMIME), Filename: deref(imageNm)}
	}
	if key != nil && *key != "" {
		seg.Result = &domain.ResultHandle{Key: *key, MIMEType: deref(mime), Backend: deref(backend)}
		if size != nil {
			seg.Result.Size = *size
		}
	}
	return &seg, nil
}

// scanHandle reads the result columns of a deleted row. A row without a
// result yields nil.
func scanHandle(row pgx.Row) (*domain.ResultHandle, error) {
	var (
		key, mime, backend *string
		size               *int64
	)
	if err := row.Scan(&key, &mime, &size, &backend); err != nil {
		return nil, err
	}
	if key == nil || *key == "" {
		return nil, nil
	}
	h := &domain.ResultHandle{Key: *key, MIMEType: deref(mime), Backend: deref(backend)}
	if size != nil {
		h.Size = *size
	}
	return h, nil
}

func clampPosition(position, count int) int {
	if position < 0 {
		return 0
	}
	if count > 0 && position > count-1 {
		return count - 1
	}
	return position
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ domain.SegmentRepository = (*SegmentRepositoryPG)(nil)
