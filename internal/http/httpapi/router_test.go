package httpapi

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/events"
	"studio/internal/http/handlers"
)

type memSegments struct {
	mu   sync.Mutex
	segs []domain.Segment
}

func (m *memSegments) List(context.Context) ([]domain.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Segment, len(m.segs))
	for i, s := range m.segs {
		out[i] = s.Clone()
	}
	return out, nil
}

func (m *memSegments) Get(_ context.Context, id string) (*domain.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.segs {
		if s.ID == id {
			c := s.Clone()
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSegments) Insert(_ context.Context, seg domain.Segment) (*domain.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg.Position = len(m.segs)
	m.segs = append(m.segs, seg)
	return &seg, nil
}

func (m *memSegments) Update(_ context.Context, seg domain.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.segs {
		if m.segs[i].ID == seg.ID {
			if m.segs[i].Status == domain.StatusGenerating {
				return domain.ErrSegmentBusy
			}
			m.segs[i] = seg
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memSegments) Delete(_ context.Context, id string) (*domain.ResultHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.segs {
		if m.segs[i].ID == id {
			if m.segs[i].Status == domain.StatusGenerating {
				return nil, domain.ErrSegmentBusy
			}
			h := m.segs[i].Result
			m.segs = append(m.segs[:i], m.segs[i+1:]...)
			return h, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSegments) Move(_ context.Context, id string, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.segs {
		if m.segs[i].ID == id {
			seg := m.segs[i]
			m.segs = append(m.segs[:i], m.segs[i+1:]...)
			if position < 0 {
				position = 0
			}
			if position > len(m.segs) {
				position = len(m.segs)
			}
			m.segs = append(m.segs[:position], append([]domain.Segment{seg}, m.segs[position:]...)...)
			for j := range m.segs {
				m.segs[j].Position = j
			}
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memSegments) ReplaceAll(_ context.Context, segs []domain.Segment) ([]domain.ResultHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var released []domain.ResultHandle
	for _, s := range m.segs {
		if s.Status == domain.StatusGenerating {
			return nil, domain.ErrSegmentBusy
		}
		if s.Result != nil {
			released = append(released, *s.Result)
		}
	}
	m.segs = append([]domain.Segment(nil), segs...)
	return released, nil
}

func (m *memSegments) SaveState(context.Context, domain.Segment) error { return nil }

func (m *memSegments) ResetGenerating(context.Context, string) error { return nil }

type memRuns struct {
	mu   sync.Mutex
	runs map[string]*domain.Run
	seq  int
}

func newMemRuns() *memRuns { return &memRuns{runs: map[string]*domain.Run{}} }

func (m *memRuns) Enqueue(_ context.Context, mode domain.RunMode, total int) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if !r.Status.Terminal() {
			return nil, domain.ErrRunActive
		}
	}
	m.seq++
	run := &domain.Run{ID: "run-" + string(rune('0'+m.seq)), Mode: mode, Status: domain.RunStatusQueued, Total: total, Message: "Queued"}
	m.runs[run.ID] = run
	c := *run
	return &c, nil
}

func (m *memRuns) Claim(context.Context) (*domain.Run, error) { return nil, domain.ErrNotFound }

func (m *memRuns) Get(_ context.Context, id string) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *memRuns) Active(context.Context) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if !r.Status.Terminal() {
			c := *r
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRuns) UpdateProgress(context.Context, string, int, int, string) error { return nil }

func (m *memRuns) Finish(_ context.Context, id string, status domain.RunStatus, message string, outcome *domain.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Status, r.Message, r.Outcome = status, message, outcome
	return nil
}

func (m *memRuns) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.CancelRequested = true
	if r.Status == domain.RunStatusQueued {
		r.Status = domain.RunStatusCanceled
	}
	return nil
}

func (m *memRuns) CancelRequested(context.Context, string) (bool, error) { return false, nil }

func (m *memRuns) RecoverInterrupted(context.Context, string) (int, error) { return 0, nil }

type memHandles struct {
	mu       sync.Mutex
	data     map[string][]byte
	released []string
}

func (m *memHandles) Allocate(_ context.Context, key string, data []byte, mime string) (domain.ResultHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = data
	return domain.ResultHandle{Key: key, MIMEType: mime, Size: int64(len(data)), Backend: "memory"}, nil
}

func (m *memHandles) Open(_ context.Context, h domain.ResultHandle) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[h.Key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memHandles) Release(_ context.Context, h domain.ResultHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, h.Key)
	m.released = append(m.released, h.Key)
	return nil
}

type fixture struct {
	segs    *memSegments
	runs    *memRuns
	handles *memHandles
	hub     *events.Hub
	app     *handlers.App
	srv     *httptest.Server
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	f := &fixture{
		segs:    &memSegments{},
		runs:    newMemRuns(),
		handles: &memHandles{},
		hub:     events.NewHub(8),
	}
	creds := domain.CredentialSource(staticKey(apiKey))
	f.app = handlers.NewApp(f.segs, f.runs, f.handles, creds, f.hub, zerolog.New(io.Discard))
	ids := 0
	f.app.NewID = func() string {
		ids++
		return "seg-" + string(rune('a'+ids-1))
	}
	f.app.Heartbeat = 20 * time.Millisecond
	f.srv = httptest.NewServer(NewRouter(f.app, zerolog.New(io.Discard), Options{CORSOrigins: []string{"*"}}))
	t.Cleanup(f.srv.Close)
	return f
}

type staticKey string

func (s staticKey) APIKey(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("api key not configured")
	}
	return string(s), nil
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&payload)
	}
	return resp, payload
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "k")
	resp, body := f.do(t, http.MethodGet, "/v1/healthz", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestSegmentLifecycle(t *testing.T) {
	f := newFixture(t, "k")

	resp, body := f.do(t, http.MethodPost, "/v1/segments", `{"prompt":"a fox","aspect_ratio":"9:16"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d %v", resp.StatusCode, body)
	}
	if body["id"] != "seg-a" || body["aspect_ratio"] != "9:16" || body["modality"] != "video" || body["ready"] != true {
		t.Fatalf("unexpected segment %v", body)
	}

	img := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n0000"))
	resp, body = f.do(t, http.MethodPost, "/v1/segments", `{"prompt":"","start_image":{"data_base64":"`+img+`"}}`)
	if resp.StatusCode != http.StatusCreated || body["has_start_image"] != true || body["start_image_mime"] != "image/png" {
		t.Fatalf("create with image = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPatch, "/v1/segments/seg-a", `{"prompt":"a red fox"}`)
	if resp.StatusCode != http.StatusOK || body["prompt"] != "a red fox" {
		t.Fatalf("patch = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/v1/segments/seg-b/move", `{"position":0}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move = %d %v", resp.StatusCode, body)
	}
	items := body["items"].([]any)
	if items[0].(map[string]any)["id"] != "seg-b" {
		t.Fatalf("move did not reorder: %v", items)
	}

	resp, _ = f.do(t, http.MethodDelete, "/v1/segments/seg-a", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodDelete, "/v1/segments/seg-a", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", resp.StatusCode)
	}
}

func TestSegmentValidation(t *testing.T) {
	f := newFixture(t, "k")
	tests := []struct {
		name string
		body string
	}{
		{name: "bad ratio", body: `{"prompt":"x","aspect_ratio":"2:1"}`},
		{name: "bad image", body: `{"prompt":"x","start_image":{"data_base64":"***"}}`},
		{name: "unknown field", body: `{"prompt":"x","colour":"red"}`},
		{name: "not json", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, "/v1/segments", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGeneratingSegmentIsLocked(t *testing.T) {
	f := newFixture(t, "k")
	f.segs.segs = []domain.Segment{{ID: "busy", Prompt: "p", Status: domain.StatusGenerating, AspectRatio: "16:9", Modality: domain.ModalityVideo}}

	resp, body := f.do(t, http.MethodPatch, "/v1/segments/busy", `{"prompt":"q"}`)
	if resp.StatusCode != http.StatusConflict || body["error"] != "segment_busy" {
		t.Fatalf("patch busy = %d %v", resp.StatusCode, body)
	}
	resp, _ = f.do(t, http.MethodDelete, "/v1/segments/busy", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete busy = %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPut, "/v1/segments", `{"segments":[{"prompt":"new"}]}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("import while busy = %d", resp.StatusCode)
	}
}

func TestImportReleasesPreviousResults(t *testing.T) {
	f := newFixture(t, "k")
	h, _ := f.handles.Allocate(context.Background(), "runs/r/old.mp4", []byte("old"), "video/mp4")
	f.segs.segs = []domain.Segment{{ID: "old", Prompt: "p", Status: domain.StatusSuccess, Result: &h}}

	resp, body := f.do(t, http.MethodPut, "/v1/segments", `{"segments":[{"prompt":"one"},{"prompt":"two","modality":"image"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import = %d %v", resp.StatusCode, body)
	}
	if len(body["items"].([]any)) != 2 {
		t.Fatalf("unexpected items %v", body["items"])
	}
	if len(f.handles.released) != 1 || f.handles.released[0] != "runs/r/old.mp4" {
		t.Fatalf("released = %v", f.handles.released)
	}
}

func TestDeleteAndImportRefusedDuringRun(t *testing.T) {
	f := newFixture(t, "k")
	h, _ := f.handles.Allocate(context.Background(), "runs/r/done.mp4", []byte("done"), "video/mp4")
	f.segs.segs = []domain.Segment{
		{ID: "next", Prompt: "p", AspectRatio: "16:9", Modality: domain.ModalityVideo},
		{ID: "done", Prompt: "q", Status: domain.StatusSuccess, Result: &h, AspectRatio: "16:9", Modality: domain.ModalityVideo},
	}
	_, created := f.do(t, http.MethodPost, "/v1/runs", "")
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("run not created: %v", created)
	}

	resp, body := f.do(t, http.MethodDelete, "/v1/segments/done", "")
	if resp.StatusCode != http.StatusConflict || body["error"] != "run_active" {
		t.Fatalf("delete during run = %d %v", resp.StatusCode, body)
	}
	resp, body = f.do(t, http.MethodPut, "/v1/segments", `{"segments":[{"prompt":"new"}]}`)
	if resp.StatusCode != http.StatusConflict || body["error"] != "run_active" {
		t.Fatalf("import during run = %d %v", resp.StatusCode, body)
	}
	if len(f.handles.released) != 0 || len(f.segs.segs) != 2 {
		t.Fatalf("workspace changed during run: released=%v segments=%d", f.handles.released, len(f.segs.segs))
	}

	f.do(t, http.MethodPost, "/v1/runs/"+id+"/cancel", "")
	if resp, _ := f.do(t, http.MethodDelete, "/v1/segments/done", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete after run = %d", resp.StatusCode)
	}
	if len(f.handles.released) != 1 || f.handles.released[0] != "runs/r/done.mp4" {
		t.Fatalf("released = %v", f.handles.released)
	}
}

func TestCreateRunPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		segs   []domain.Segment
		body   string
		want   int
		errKey string
	}{
		{name: "missing credential", apiKey: "", segs: []domain.Segment{{ID: "a", Prompt: "p"}}, want: http.StatusPreconditionFailed, errKey: "missing_credential"},
		{name: "nothing eligible", apiKey: "k", segs: []domain.Segment{{ID: "a", Prompt: "  "}}, want: http.StatusUnprocessableEntity, errKey: "no_eligible_work"},
		{name: "retry without failures", apiKey: "k", segs: []domain.Segment{{ID: "a", Prompt: "p", Status: domain.StatusSuccess}}, body: `{"mode":"retry_failed"}`, want: http.StatusUnprocessableEntity, errKey: "no_eligible_work"},
		{name: "queued", apiKey: "k", segs: []domain.Segment{{ID: "a", Prompt: "p"}, {ID: "b"}}, want: http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.apiKey)
			f.segs.segs = tt.segs
			resp, body := f.do(t, http.MethodPost, "/v1/runs", tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}
			if tt.errKey != "" && body["error"] != tt.errKey {
				t.Fatalf("error = %v, want %s", body["error"], tt.errKey)
			}
			if tt.want == http.StatusAccepted && body["total"] != float64(1) {
				t.Fatalf("total = %v, want 1", body["total"])
			}
		})
	}
}

func TestCreateRunRejectsSecondActiveRun(t *testing.T) {
	f := newFixture(t, "k")
	f.segs.segs = []domain.Segment{{ID: "a", Prompt: "p"}}
	if resp, _ := f.do(t, http.MethodPost, "/v1/runs", ""); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first run = %d", resp.StatusCode)
	}
	resp, body := f.do(t, http.MethodPost, "/v1/runs", "")
	if resp.StatusCode != http.StatusConflict || body["error"] != "run_active" {
		t.Fatalf("second run = %d %v", resp.StatusCode, body)
	}
}

func TestCancelQueuedRun(t *testing.T) {
	f := newFixture(t, "k")
	f.segs.segs = []domain.Segment{{ID: "a", Prompt: "p"}}
	_, created := f.do(t, http.MethodPost, "/v1/runs", "")
	id := created["id"].(string)

	resp, body := f.do(t, http.MethodPost, "/v1/runs/"+id+"/cancel", "")
	if resp.StatusCode != http.StatusAccepted || body["status"] != "canceled" || body["cancel_requested"] != true {
		t.Fatalf("cancel = %d %v", resp.StatusCode, body)
	}
	if resp, _ := f.do(t, http.MethodPost, "/v1/runs/missing/cancel", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel unknown = %d", resp.StatusCode)
	}
}

func TestDownloadAsset(t *testing.T) {
	f := newFixture(t, "k")
	h, _ := f.handles.Allocate(context.Background(), "runs/r/a.jpg", []byte("jpeg-bytes"), "image/jpeg")
	f.segs.segs = []domain.Segment{
		{ID: "a", Prompt: "p", Status: domain.StatusSuccess, Result: &h},
		{ID: "b", Prompt: "p"},
	}

	resp, err := http.Get(f.srv.URL + "/v1/assets/a")
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(data) != "jpeg-bytes" || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("asset = %d %q %q", resp.StatusCode, data, resp.Header.Get("Content-Type"))
	}

	if resp, _ := f.do(t, http.MethodGet, "/v1/assets/b", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("asset without result = %d", resp.StatusCode)
	}
}

func TestDownloadArchive(t *testing.T) {
	f := newFixture(t, "k")
	if resp, _ := f.do(t, http.MethodGet, "/v1/assets/archive", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty archive = %d", resp.StatusCode)
	}

	img, _ := f.handles.Allocate(context.Background(), "runs/r/a.jpg", []byte("jpeg"), "image/jpeg")
	clip, _ := f.handles.Allocate(context.Background(), "runs/r/c.mp4", []byte("mp4"), "video/mp4")
	f.segs.segs = []domain.Segment{
		{ID: "a", Prompt: "p", Modality: domain.ModalityImage, Status: domain.StatusSuccess, Result: &img},
		{ID: "b", Prompt: "p", Status: domain.StatusError},
		{ID: "c", Prompt: "p", Modality: domain.ModalityVideo, Status: domain.StatusSuccess, Result: &clip},
	}

	resp, err := http.Get(f.srv.URL + "/v1/assets/archive")
	if err != nil {
		t.Fatalf("get archive: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/zip" {
		t.Fatalf("archive = %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	var names []string
	for _, file := range zr.File {
		names = append(names, file.Name)
	}
	if strings.Join(names, ",") != "01-image.jpg,03-video.mp4" {
		t.Fatalf("archive entries = %v", names)
	}
}

func readEvents(t *testing.T, body io.Reader, n int) []domain.ProgressEvent {
	t.Helper()
	var out []domain.ProgressEvent
	sc := bufio.NewScanner(body)
	for len(out) < n && sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestRunEventsForFinishedRun(t *testing.T) {
	f := newFixture(t, "k")
	f.runs.runs["done"] = &domain.Run{ID: "done", Status: domain.RunStatusSucceeded, Total: 2, Completed: 2, Message: "Generation complete!"}

	resp, err := http.Get(f.srv.URL + "/v1/runs/done/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}
	evs := readEvents(t, resp.Body, 1)
	if len(evs) != 1 || evs[0].Type != domain.EventRunFinished || evs[0].Fraction != 1 {
		t.Fatalf("events = %+v", evs)
	}
}

func TestRunEventsStreamsUntilFinished(t *testing.T) {
	f := newFixture(t, "k")
	f.runs.runs["live"] = &domain.Run{ID: "live", Status: domain.RunStatusRunning, Total: 2, Message: "Initializing..."}

	resp, err := http.Get(f.srv.URL + "/v1/runs/live/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for f.hub.Clients() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		ctx := context.Background()
		_ = f.hub.Publish(ctx, domain.ProgressEvent{Type: domain.EventSegmentSucceeded, RunID: "other", Completed: 9})
		_ = f.hub.Publish(ctx, domain.ProgressEvent{Type: domain.EventSegmentSucceeded, RunID: "live", Completed: 1, Total: 2})
		_ = f.hub.Publish(ctx, domain.ProgressEvent{Type: domain.EventRunFinished, RunID: "live", Completed: 2, Total: 2})
	}()

	evs := readEvents(t, resp.Body, 3)
	types := make([]string, 0, len(evs))
	for _, ev := range evs {
		types = append(types, string(ev.Type))
	}
	want := []string{"run_started", "segment_succeeded", "run_finished"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for _, ev := range evs[1:] {
		if ev.RunID != "live" {
			t.Fatalf("leaked event from another run: %+v", ev)
		}
	}
}

func TestRunEventsNoticesFinishWithoutEvent(t *testing.T) {
	f := newFixture(t, "k")
	f.runs.runs["quiet"] = &domain.Run{ID: "quiet", Status: domain.RunStatusRunning, Total: 1}

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = f.runs.Finish(context.Background(), "quiet", domain.RunStatusCanceled, "canceled", nil)
	}()

	resp, err := http.Get(f.srv.URL + "/v1/runs/quiet/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()
	evs := readEvents(t, resp.Body, 2)
	if len(evs) != 2 || evs[1].Type != domain.EventRunFinished {
		t.Fatalf("events = %+v", evs)
	}
}

func TestUnknownRouteAndRun(t *testing.T) {
	f := newFixture(t, "k")
	paths := []string{"/v1/runs/nope", "/v1/runs/nope/events", "/v1/nothing"}
	for _, p := range paths {
		if resp, _ := f.do(t, http.MethodGet, p, ""); resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s = %d, want 404", p, resp.StatusCode)
		}
	}
}

func TestRateLimitSparesEventStreams(t *testing.T) {
	f := newFixture(t, "k")
	f.runs.runs["done"] = &domain.Run{ID: "done", Status: domain.RunStatusSucceeded, Total: 1, Completed: 1}
	srv := httptest.NewServer(NewRouter(f.app, zerolog.New(io.Discard), Options{RateLimitPerMin: 1}))
	t.Cleanup(srv.Close)

	get := func(path string) int {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get("/v1/runs/done"); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := get("/v1/segments"); code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", code)
	}
	for i := 0; i < 3; i++ {
		if code := get("/v1/runs/done/events"); code != http.StatusOK {
			t.Fatalf("events request %d = %d", i, code)
		}
	}
}
