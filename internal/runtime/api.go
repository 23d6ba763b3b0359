package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/loqalabs/loqa-narrator/internal/manuscript"
	"github.com/loqalabs/loqa-narrator/internal/worker"
)

// Reader serves manuscripts to readers without waiting on generation.
type Reader interface {
	Read(ctx context.Context, id string) (manuscript.Manuscript, error)
	CompleteAudio(ctx context.Context, id string) (string, error)
}

// Lister is the read side of the catalog.
type Lister interface {
	Get(ctx context.Context, id string) (manuscript.Manuscript, bool, error)
	List(ctx context.Context, state manuscript.State) ([]manuscript.Manuscript, error)
}

type APIOptions struct {
	Reader  Reader
	Catalog Lister
	Sitemap manuscript.SitemapOptions
	// Files serves the audio tree under /db/. Optional.
	Files   http.Handler
	Metrics http.Handler
	Ready   func() bool
}

type api struct {
	opts   APIOptions
	logger *slog.Logger
}

type stateResponse struct {
	ID       string   `json:"id"`
	State    string   `json:"state"`
	Progress *float64 `json:"progress,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewAPIHandler builds the reader-facing HTTP API.
func NewAPIHandler(opts APIOptions, log *slog.Logger) http.Handler {
	a := &api{opts: opts, logger: log.With(slog.String("component", "http-api"))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/manuscript/{id...}", a.handleManuscript)
	mux.HandleFunc("GET /api/state/{id...}", a.handleState)
	mux.HandleFunc("GET /api/complete_audio/{id...}", a.handleCompleteAudio)
	mux.HandleFunc("GET /sitemap.xml", a.handleSitemap)
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/readyz", a.handleReady)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if opts.Files != nil {
		mux.Handle("GET /db/", opts.Files)
	}
	return gzhttp.GzipHandler(mux)
}

func (a *api) handleManuscript(w http.ResponseWriter, r *http.Request) {
	id := manuscript.IDFromPath(r.PathValue("id"))
	m, err := a.opts.Reader.Read(r.Context(), id)
	if err != nil {
		a.logger.Error("read manuscript failed", slog.String("id", id), slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "catalog unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *api) handleState(w http.ResponseWriter, r *http.Request) {
	id := manuscript.IDFromPath(r.PathValue("id"))
	m, found, err := a.opts.Catalog.Get(r.Context(), id)
	if err != nil {
		a.logger.Error("state lookup failed", slog.String("id", id), slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "catalog unavailable"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, stateResponse{ID: id})
		return
	}
	writeJSON(w, manuscript.HTTPStatus(m), stateResponse{ID: m.ID, State: string(m.State), Progress: m.Progress})
}

func (a *api) handleCompleteAudio(w http.ResponseWriter, r *http.Request) {
	id := manuscript.IDFromPath(r.PathValue("id"))
	url, err := a.opts.Reader.CompleteAudio(r.Context(), id)
	switch {
	case errors.Is(err, worker.ErrNotReady):
		writeJSON(w, http.StatusTooEarly, errorResponse{Error: err.Error()})
	case err != nil:
		a.logger.Error("complete audio failed", slog.String("id", id), slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "complete audio unavailable"})
	default:
		writeJSON(w, http.StatusOK, url)
	}
}

func (a *api) handleSitemap(w http.ResponseWriter, r *http.Request) {
	ms, err := a.opts.Catalog.List(r.Context(), manuscript.StateDone)
	if err != nil {
		a.logger.Error("sitemap listing failed", slogError(err))
		http.Error(w, "catalog unavailable", http.StatusInternalServerError)
		return
	}
	data, err := manuscript.Sitemap(ms, a.opts.Sitemap)
	if err != nil {
		a.logger.Error("sitemap rendering failed", slogError(err))
		http.Error(w, "sitemap unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write(data)
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.opts.Ready != nil && a.opts.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
