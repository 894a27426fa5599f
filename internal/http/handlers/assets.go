package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/pkg/zip"
)

// DownloadAsset streams the current result of a segment.
func (a *App) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	seg, err := a.Segments.Get(r.Context(), chi.URLParam(r, "segment_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if seg.Result == nil || seg.Result.IsZero() {
		a.fail(w, r, domain.ErrNotFound)
		return
	}
	body, err := a.Handles.Open(r.Context(), *seg.Result)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer body.Close()

	mime := seg.Result.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	if seg.Result.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(seg.Result.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		a.Logger.Warn().Err(err).Str("segment_id", seg.ID).Msg("stream asset failed")
	}
}

// DownloadArchive streams every available result as one zip, named by
// segment position.
func (a *App) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	segs, err := a.Segments.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var entries []zip.Entry
	for i, seg := range segs {
		if seg.Result == nil || seg.Result.IsZero() {
			continue
		}
		h := *seg.Result
		entries = append(entries, zip.Entry{
			Name: fmt.Sprintf("%02d-%s%s", i+1, seg.Modality, path.Ext(h.Key)),
			Open: func() (io.ReadCloser, error) { return a.Handles.Open(r.Context(), h) },
		})
	}
	if len(entries) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no generated results")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="segments.zip"`)
	w.WriteHeader(http.StatusOK)
	if err := zip.Write(w, entries); err != nil {
		a.Logger.Warn().Err(err).Int("entries", len(entries)).Msg("stream archive failed")
	}
}
