package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/manuscript"
	"github.com/loqalabs/loqa-narrator/internal/worker"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeReader struct {
	reads    []string
	complete map[string]string
	failRead bool
}

func (f *fakeReader) Read(_ context.Context, id string) (manuscript.Manuscript, error) {
	f.reads = append(f.reads, id)
	if f.failRead {
		return manuscript.Manuscript{}, errors.New("database is locked")
	}
	return manuscript.Placeholder(id, "https://wiki.example/"+id), nil
}

func (f *fakeReader) CompleteAudio(_ context.Context, id string) (string, error) {
	if url, ok := f.complete[id]; ok {
		return url, nil
	}
	return "", worker.ErrNotReady
}

type fakeLister struct {
	items []manuscript.Manuscript
}

func (f *fakeLister) Get(_ context.Context, id string) (manuscript.Manuscript, bool, error) {
	for _, m := range f.items {
		if m.ID == id {
			return m, true, nil
		}
	}
	return manuscript.Manuscript{}, false, nil
}

func (f *fakeLister) List(_ context.Context, state manuscript.State) ([]manuscript.Manuscript, error) {
	var out []manuscript.Manuscript
	for _, m := range f.items {
		if state == "" || m.State == state {
			out = append(out, m)
		}
	}
	return out, nil
}

func newTestAPI(reader *fakeReader, lister *fakeLister, ready bool) http.Handler {
	return NewAPIHandler(APIOptions{
		Reader:  reader,
		Catalog: lister,
		Sitemap: manuscript.SitemapOptions{BaseURL: "https://wiki.example/", ArticlePath: "empire-wiki/", ChangeFreq: "weekly"},
		Ready:   func() bool { return ready },
	}, newLogger())
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestManuscriptEndpointReadsAndNormalizesID(t *testing.T) {
	reader := &fakeReader{}
	h := newTestAPI(reader, &fakeLister{}, true)

	rec := get(t, h, "/api/manuscript/Imperial%20Senate")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var m manuscript.Manuscript
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.ID != "Imperial_Senate" || m.State != manuscript.StateGenerating {
		t.Fatalf("unexpected manuscript %+v", m)
	}
	if len(reader.reads) != 1 || reader.reads[0] != "Imperial_Senate" {
		t.Fatalf("unexpected reads %v", reader.reads)
	}
}

func TestManuscriptEndpointHome(t *testing.T) {
	reader := &fakeReader{}
	h := newTestAPI(reader, &fakeLister{}, true)
	if rec := get(t, h, "/api/manuscript/"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(reader.reads) != 1 || reader.reads[0] != manuscript.HomeID {
		t.Fatalf("expected home read, got %v", reader.reads)
	}
}

func TestManuscriptEndpointCatalogFailure(t *testing.T) {
	h := newTestAPI(&fakeReader{failRead: true}, &fakeLister{}, true)
	if rec := get(t, h, "/api/manuscript/Highguard"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestStateEndpoint(t *testing.T) {
	progress := 0.5
	lister := &fakeLister{items: []manuscript.Manuscript{
		{ID: "Highguard", State: manuscript.StateDone},
		{ID: "Urizen", State: manuscript.StateGenerating, Progress: &progress},
		{ID: "Secret", State: manuscript.StateDisallowed},
	}}
	h := newTestAPI(&fakeReader{}, lister, true)

	cases := map[string]int{
		"/api/state/Highguard": http.StatusOK,
		"/api/state/Urizen":    http.StatusTooEarly,
		"/api/state/Secret":    http.StatusBadRequest,
		"/api/state/Nowhere":   http.StatusNotFound,
	}
	for path, want := range cases {
		if rec := get(t, h, path); rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}

	rec := get(t, h, "/api/state/Urizen")
	var body stateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != "generating" || body.Progress == nil || *body.Progress != 0.5 {
		t.Fatalf("unexpected state body %+v", body)
	}
}

func TestCompleteAudioEndpoint(t *testing.T) {
	reader := &fakeReader{complete: map[string]string{"Highguard": "/db/Highguard/audio/Highguard.mp3"}}
	h := newTestAPI(reader, &fakeLister{}, true)

	rec := get(t, h, "/api/complete_audio/Highguard")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var url string
	if err := json.Unmarshal(rec.Body.Bytes(), &url); err != nil || url != "/db/Highguard/audio/Highguard.mp3" {
		t.Fatalf("unexpected body %s (%v)", rec.Body.String(), err)
	}
	if rec := get(t, h, "/api/complete_audio/Urizen"); rec.Code != http.StatusTooEarly {
		t.Fatalf("expected 425, got %d", rec.Code)
	}
}

func TestSitemapEndpoint(t *testing.T) {
	lister := &fakeLister{items: []manuscript.Manuscript{
		{ID: "Urizen", State: manuscript.StateDone, LastModified: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "Highguard", State: manuscript.StateGenerating},
	}}
	rec := get(t, newTestAPI(&fakeReader{}, lister, true), "/sitemap.xml")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Urizen") || strings.Contains(body, "Highguard") {
		t.Fatalf("sitemap must list done manuscripts only:\n%s", body)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	h := newTestAPI(&fakeReader{}, &fakeLister{}, false)
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", rec.Code)
	}
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready, got %d", rec.Code)
	}
	h = newTestAPI(&fakeReader{}, &fakeLister{}, true)
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rec.Code)
	}
}

func TestResponsesAreCompressed(t *testing.T) {
	var items []manuscript.Manuscript
	for i := range 200 {
		items = append(items, manuscript.Manuscript{ID: fmt.Sprintf("Article_%03d", i), State: manuscript.StateDone})
	}
	h := newTestAPI(&fakeReader{}, &fakeLister{items: items}, true)
	req := httptest.NewRequest(http.MethodGet, "/sitemap.xml", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response, headers %v", rec.Header())
	}
}
