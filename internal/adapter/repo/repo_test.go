package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

type sqlCall struct {
	query string
	args  []any
}

// fakeSQL answers queries by their sqlinline constant.
type fakeSQL struct {
	calls    []sqlCall
	rows     map[string][]any
	multi    map[string][][]any
	affected map[string]int64
	errs     map[string]error
	txs      int
}

func newFakeSQL() *fakeSQL {
	return &fakeSQL{
		rows:     map[string][]any{},
		multi:    map[string][][]any{},
		affected: map[string]int64{},
		errs:     map[string]error{},
	}
}

func (f *fakeSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, sqlCall{query: query, args: args})
	if err := f.errs[query]; err != nil {
		return pgconn.CommandTag{}, err
	}
	n, ok := f.affected[query]
	if !ok {
		n = 1
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", n)), nil
}

func (f *fakeSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	f.calls = append(f.calls, sqlCall{query: query, args: args})
	if err := f.errs[query]; err != nil {
		return fakeRow{err: err}
	}
	vals, ok := f.rows[query]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{vals: vals}
}

func (f *fakeSQL) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	f.calls = append(f.calls, sqlCall{query: query, args: args})
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return &fakeRows{data: f.multi[query], idx: -1}, nil
}

func (f *fakeSQL) InTx(_ context.Context, fn func(infra.SQLExecutor) error) error {
	f.txs++
	return fn(f)
}

func (f *fakeSQL) called(query string) int {
	n := 0
	for _, c := range f.calls {
		if c.query == query {
			n++
		}
	}
	return n
}

func (f *fakeSQL) argsOf(query string) []any {
	for _, c := range f.calls {
		if c.query == query {
			return c.args
		}
	}
	return nil
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

type fakeRows struct {
	data [][]any
	idx  int
}

func (r *fakeRows) Close() {}
func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error) { return r.data[r.idx], nil }
func (r *fakeRows) RawValues() [][]byte { return nil }
func (r *fakeRows) Conn() *pgx.Conn { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(dest, r.data[r.idx])
}

func assign(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, v := range vals {
		target := reflect.ValueOf(dest[i]).Elem()
		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(v))
	}
	return nil
}

func strPtr(s string) *string { return &s }
func int64Ptr(n int64) *int64 { return &n }

func segmentRow(id string, pos int, status string, key *string) []any {
	var size *int64
	if key != nil {
		size = int64Ptr(42)
	}
	return []any{
		id, pos, "prompt " + id, "", []byte(nil), (*string)(nil), (*string)(nil),
		"16:9", "video", false, status,
		key, strPtr("video/mp4"), size, strPtr("filesystem"), "", time.Unix(0, 0).UTC(),
	}
}

func TestSegmentListScansResults(t *testing.T) {
	sql := newFakeSQL()
	sql.multi[sqlinline.QSelectSegments] = [][]any{
		segmentRow("a", 0, "success", strPtr("runs/r/a.mp4")),
		segmentRow("b", 1, "idle", nil),
	}
	repo := NewSegmentRepository(sql, sql)

	segs, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Result == nil || segs[0].Result.Key != "runs/r/a.mp4" || segs[0].Result.Size != 42 {
		t.Fatalf("unexpected result handle: %+v", segs[0].Result)
	}
	if segs[1].Result != nil {
		t.Fatalf("idle segment should have no result, got %+v", segs[1].Result)
	}
	if segs[0].Status != domain.StatusSuccess || segs[0].Modality != domain.ModalityVideo {
		t.Fatalf("unexpected segment: %+v", segs[0])
	}
}

func TestSegmentUpdateReportsBusyOrMissing(t *testing.T) {
	tests := []struct {
		name string
		row  []any
		want error
	}{
		{name: "generating", row: segmentRow("a", 0, "generating", nil), want: domain.ErrSegmentBusy},
		{name: "missing", row: nil, want: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql := newFakeSQL()
			sql.affected[sqlinline.QUpdateSegmentFields] = 0
			if tt.row != nil {
				sql.rows[sqlinline.QSelectSegment] = tt.row
			}
			repo := NewSegmentRepository(sql, sql)
			err := repo.Update(context.Background(), domain.Segment{ID: "a", AspectRatio: "16:9", Modality: domain.ModalityVideo})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSegmentDeleteReturnsHandleAndCompacts(t *testing.T) {
	sql := newFakeSQL()
	sql.rows[sqlinline.QCountActiveRuns] = []any{0}
	sql.rows[sqlinline.QDeleteSegment] = []any{strPtr("runs/r/a.mp4"), strPtr("video/mp4"), int64Ptr(7), strPtr("filesystem")}
	repo := NewSegmentRepository(sql, sql)

	h, err := repo.Delete(context.Background(), "a")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if h == nil || h.Key != "runs/r/a.mp4" || h.Size != 7 {
		t.Fatalf("unexpected handle: %+v", h)
	}
	if sql.txs != 1 {
		t.Fatalf("expected delete inside one transaction, got %d", sql.txs)
	}
	if sql.called(sqlinline.QCompactSegmentPositions) != 1 {
		t.Fatalf("positions were not compacted")
	}
}

func TestSegmentDeleteWithoutResult(t *testing.T) {
	sql := newFakeSQL()
	sql.rows[sqlinline.QCountActiveRuns] = []any{0}
	sql.rows[sqlinline.QDeleteSegment] = []any{(*string)(nil), (*string)(nil), (*int64)(nil), (*string)(nil)}
	repo := NewSegmentRepository(sql, sql)

	h, err := repo.Delete(context.Background(), "a")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if h != nil {
		t.Fatalf("expected no handle, got %+v", h)
	}
}

func TestSegmentMoveClampsPosition(t *testing.T) {
	sql := newFakeSQL()
	sql.rows[sqlinline.QSelectSegmentPositionForUpdate] = []any{0, "idle", 3}
	repo := NewSegmentRepository(sql, sql)

	if err := repo.Move(context.Background(), "a", 99); err != nil {
		t.Fatalf("Move: %v", err)
	}
	args := sql.argsOf(sqlinline.QSetSegmentPosition)
	if len(args) != 2 || args[1] != 2 {
		t.Fatalf("expected clamp to last position 2, got %v", args)
	}
	shift := sql.argsOf(sqlinline.QShiftSegmentsForMove)
	if len(shift) != 3 || shift[1] != 0 || shift[2] != 2 {
		t.Fatalf("unexpected shift args %v", shift)
	}
}

func TestSegmentMoveRefusesGenerating(t *testing.T) {
	sql := newFakeSQL()
	sql.rows[sqlinline.QSelectSegmentPositionForUpdate] = []any{1, "generating", 3}
	repo := NewSegmentRepository(sql, sql)

	if err := repo.Move(context.Background(), "a", 0); !errors.Is(err, domain.ErrSegmentBusy) {
		t.Fatalf("expected ErrSegmentBusy, got %v", err)
	}
	if sql.called(sqlinline.QSetSegmentPosition) != 0 {
		t.Fatalf("position must not change")
	}
}

func TestSegmentReplaceAll(t *testing.T) {
	sql := newFakeSQL()
	sql.rows[sqlinline.QCountGeneratingSegments] = []any{0}
	sql.rows[sqlinline.QCountActiveRuns] = []any{0}
	sql.multi[sqlinline.QDeleteAllSegments] = [][]any{
		{strPtr("runs/r/a.mp4"), strPtr("video/mp4"), int64Ptr(1), strPtr("filesystem")},
		{(*string)(nil), (*string)(nil), (*int64)(nil), (*string)(nil)},
	}
	sql.rows[sqlinline.QInsertSegment] = []any{0, time.Unix(0, 0).UTC()}
	repo := NewSegmentRepository(sql, sql)

	segs := []domain.Segment{
		domain.NewSegment("n1", domain.SegmentInput{Prompt: "one"}),
		domain.NewSegment("n2", domain.SegmentInput{Prompt: "two"}),
	}
	released, err := repo.ReplaceAll(context.Background(), segs)
	if err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	if len(released) != 1 || released[0].Key != "runs/r/a.mp4" {
		t.Fatalf("unexpected released handles: %+v", released)
	}
	if sql.called(sqlinline.QInsertSegment) != 2 {
		t.Fatalf("expected 2 inserts, got %d", sql.called(sqlinline.QInsertSegment))
	}
}

func TestSegmentReplaceAllRefusedWhileGenerating(t *testing.T) {
	sql := newFakeSQL()
	sql.rows[sqlinline.QCountGeneratingSegments] = []any{1}
	repo := NewSegmentRepository(sql, sql)

	if _, err := repo.ReplaceAll(context.Background(), nil); !errors.Is(err, domain.ErrSegmentBusy) {
		t.Fatalf("expected ErrSegmentBusy, got %v", err)
	}
	if sql.called(sqlinline.QDeleteAllSegments) != 0 {
		t.Fatalf("workspace must be left untouched")
	}
}

func TestSegmentEditsRefusedDuringRun(t *testing.T) {
	sql := newFakeSQL()
	sql.rows[sqlinline.QCountGeneratingSegments] = []any{0}
	sql.rows[sqlinline.QCountActiveRuns] = []any{1}
	sql.rows[sqlinline.QDeleteSegment] = []any{strPtr("runs/r/a.mp4"), strPtr("video/mp4"), int64Ptr(7), strPtr("filesystem")}
	repo := NewSegmentRepository(sql, sql)

	h, err := repo.Delete(context.Background(), "a")
	if !errors.Is(err, domain.ErrRunActive) || h != nil {
		t.Fatalf("Delete: expected ErrRunActive and no handle, got %v %+v", err, h)
	}
	released, err := repo.ReplaceAll(context.Background(), nil)
	if !errors.Is(err, domain.ErrRunActive) || len(released) != 0 {
		t.Fatalf("ReplaceAll: expected ErrRunActive and no handles, got %v %+v", err, released)
	}
	if sql.called(sqlinline.QDeleteSegment) != 0 || sql.called(sqlinline.QDeleteAllSegments) != 0 {
		t.Fatalf("no row may be deleted while a run is active")
	}
}

func TestSegmentSaveStateWritesHandle(t *testing.T) {
	sql := newFakeSQL()
	repo := NewSegmentRepository(sql, sql)

	seg := domain.Segment{
		ID:     "a",
		Status: domain.StatusSuccess,
		Result: &domain.ResultHandle{Key: "k", MIMEType: "image/jpeg", Size: 3, Backend: "minio"},
	}
	if err := repo.SaveState(context.Background(), seg); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	args := sql.argsOf(sqlinline.QSaveSegmentState)
	if got := *(args[2].(*string)); got != "k" {
		t.Fatalf("result key = %q", got)
	}

	sql.affected[sqlinline.QSaveSegmentState] = 0
	if err := repo.SaveState(context.Background(), seg); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunEnqueueMapsUniqueViolation(t *testing.T) {
	sql := newFakeSQL()
	sql.errs[sqlinline.QInsertRun] = &pgconn.PgError{Code: "23505"}
	repo := NewRunRepository(sql)

	if _, err := repo.Enqueue(context.Background(), domain.RunModeAll, 3); !errors.Is(err, domain.ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
}

func TestRunEnqueue(t *testing.T) {
	sql := newFakeSQL()
	now := time.Now().UTC()
	sql.rows[sqlinline.QInsertRun] = []any{now, now}
	repo := NewRunRepository(sql)

	run, err := repo.Enqueue(context.Background(), domain.RunModeRetryFailed, 2)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if run.ID == "" || run.Status != domain.RunStatusQueued || run.Mode != domain.RunModeRetryFailed {
		t.Fatalf("unexpected run %+v", run)
	}
	if args := sql.argsOf(sqlinline.QInsertRun); args[1] != "retry_failed" || args[2] != 2 {
		t.Fatalf("unexpected insert args %v", args)
	}
}

func TestRunClaimEmptyQueue(t *testing.T) {
	repo := NewRunRepository(newFakeSQL())
	if _, err := repo.Claim(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunGetDecodesOutcome(t *testing.T) {
	outcome := domain.Outcome{Status: domain.OutcomePartialFailure, Total: 2, Completed: 2, Failed: []domain.Failure{{SegmentID: "b", Kind: "timeout"}}}
	payload, _ := json.Marshal(outcome)
	now := time.Now().UTC()

	sql := newFakeSQL()
	sql.rows[sqlinline.QSelectRun] = []any{"r1", "all", "partial_failure", 2, 2, "1 of 2 failed", false, payload, now, now}
	repo := NewRunRepository(sql)

	run, err := repo.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.Outcome == nil || len(run.Outcome.Failed) != 1 || run.Outcome.Failed[0].Kind != "timeout" {
		t.Fatalf("unexpected outcome %+v", run.Outcome)
	}
	if run.Status != domain.RunStatusPartialFailure {
		t.Fatalf("status = %s", run.Status)
	}
}

func TestRunFinishMarshalsOutcome(t *testing.T) {
	sql := newFakeSQL()
	repo := NewRunRepository(sql)

	outcome := &domain.Outcome{Status: domain.OutcomeSuccess, Total: 1, Completed: 1, Succeeded: []string{"a"}}
	if err := repo.Finish(context.Background(), "r1", domain.RunStatusSucceeded, outcome.Summary(), outcome); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	args := sql.argsOf(sqlinline.QFinishRun)
	var decoded domain.Outcome
	if err := json.Unmarshal(args[3].([]byte), &decoded); err != nil {
		t.Fatalf("outcome payload: %v", err)
	}
	if decoded.Completed != 1 || decoded.Succeeded[0] != "a" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestRunRequestCancel(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		cancel  []any
		current []any
		want    error
	}{
		{name: "running", cancel: []any{"running"}},
		{name: "already finished", current: []any{"r1", "all", "succeeded", 1, 1, "done", false, []byte(nil), now, now}},
		{name: "unknown", want: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql := newFakeSQL()
			if tt.cancel != nil {
				sql.rows[sqlinline.QRequestRunCancel] = tt.cancel
			}
			if tt.current != nil {
				sql.rows[sqlinline.QSelectRun] = tt.current
			}
			err := NewRunRepository(sql).RequestCancel(context.Background(), "r1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRunRecoverInterrupted(t *testing.T) {
	sql := newFakeSQL()
	sql.affected[sqlinline.QFailInterruptedRuns] = 2
	n, err := NewRunRepository(sql).RecoverInterrupted(context.Background(), "worker restarted")
	if err != nil || n != 2 {
		t.Fatalf("RecoverInterrupted = %d, %v", n, err)
	}
}
