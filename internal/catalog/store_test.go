package catalog

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/alignment"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/manuscript"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.CatalogConfig{Path: filepath.Join(t.TempDir(), "catalog", "narrator.db"), BusyRetries: 3}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sample(id string) manuscript.Manuscript {
	return manuscript.Manuscript{
		ID:    id,
		Title: "The Empire",
		URL:   "https://wiki.example/" + id,
		State: manuscript.StateDone,
		Sections: []manuscript.Section{
			{Kind: manuscript.KindH1, Spans: manuscript.TextSpans("The Empire")},
			{
				Kind:      manuscript.KindP,
				Spans:     manuscript.TextSpans("Nine nations stand united."),
				Alignment: []alignment.Span{{Text: "Nine", Start: 0, Length: 1000}},
				AudioPath: "web/db/" + id + "/audio/0001.mp3",
				AudioURL:  "/db/" + id + "/audio/0001.mp3",
			},
		},
		Outro:        manuscript.Outro{AudioURL: "/db/" + id + "/audio/outro.mp3"},
		LastModified: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		ForcedVoice:  "Ella",
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "Highguard"); err != nil || ok {
		t.Fatalf("expected missing record, got ok=%v err=%v", ok, err)
	}

	m := sample("Highguard")
	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, ok, err := s.Get(ctx, "Highguard")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Title != m.Title || got.URL != m.URL || got.ForcedVoice != "Ella" {
		t.Fatalf("unexpected manuscript %+v", got)
	}
	if !got.LastModified.Equal(m.LastModified) {
		t.Fatalf("expected lastmod %v, got %v", m.LastModified, got.LastModified)
	}
	if got.Progress != nil {
		t.Fatalf("expected no progress, got %v", *got.Progress)
	}
	if len(got.Sections) != 2 || got.Sections[1].Alignment[0].Text != "Nine" {
		t.Fatalf("sections did not round trip: %+v", got.Sections)
	}

	m.Title = "The Empire Reborn"
	m.State = manuscript.StateError
	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("upsert replace: %v", err)
	}
	got, _, _ = s.Get(ctx, "Highguard")
	if got.Title != "The Empire Reborn" || got.State != manuscript.StateError {
		t.Fatalf("expected replaced record, got %+v", got)
	}
}

func TestInsertIfAbsent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	placeholder := manuscript.Placeholder("Urizen", "https://wiki.example/Urizen")
	inserted, err := s.InsertIfAbsent(ctx, placeholder)
	if err != nil || !inserted {
		t.Fatalf("expected insert, got inserted=%v err=%v", inserted, err)
	}
	inserted, err = s.InsertIfAbsent(ctx, sample("Urizen"))
	if err != nil || inserted {
		t.Fatalf("expected no-op, got inserted=%v err=%v", inserted, err)
	}
	got, _, _ := s.Get(ctx, "Urizen")
	if got.State != manuscript.StateGenerating || got.Progress == nil || *got.Progress != 0 {
		t.Fatalf("expected placeholder to survive, got %+v", got)
	}
}

func TestMarkGeneratingKeepsContent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, sample("Dawn")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	candidate := sample("Dawn")
	candidate.Title = "Dawn (new)"
	if err := s.MarkGenerating(ctx, candidate); err != nil {
		t.Fatalf("mark generating: %v", err)
	}
	got, _, _ := s.Get(ctx, "Dawn")
	if got.State != manuscript.StateGenerating || got.Progress == nil || *got.Progress != 0 {
		t.Fatalf("expected generating with zero progress, got %+v", got)
	}
	if got.Title != "The Empire" {
		t.Fatalf("expected previous content while generating, got %q", got.Title)
	}

	if err := s.SetProgress(ctx, "Dawn", 0.5); err != nil {
		t.Fatalf("set progress: %v", err)
	}
	got, _, _ = s.Get(ctx, "Dawn")
	if *got.Progress != 0.5 {
		t.Fatalf("expected progress 0.5, got %v", *got.Progress)
	}

	if err := s.MarkGenerating(ctx, sample("Varushka")); err != nil {
		t.Fatalf("mark generating new: %v", err)
	}
	if got, ok, _ := s.Get(ctx, "Varushka"); !ok || got.State != manuscript.StateGenerating {
		t.Fatalf("expected new generating record, got %+v", got)
	}
}

func TestListStatsAndCompleteAudio(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"Wintermark", "Dawn", "Navarr"} {
		if err := s.Upsert(ctx, sample(id)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if _, err := s.InsertIfAbsent(ctx, manuscript.Placeholder("Brass_Coast", "")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"Brass_Coast", "Dawn", "Navarr", "Wintermark"}
	if len(all) != len(want) {
		t.Fatalf("expected %d manuscripts, got %d", len(want), len(all))
	}
	for i, m := range all {
		if m.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], m.ID)
		}
	}
	done, err := s.List(ctx, manuscript.StateDone)
	if err != nil || len(done) != 3 {
		t.Fatalf("expected 3 done manuscripts, got %d err=%v", len(done), err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[manuscript.StateDone] != 3 || stats[manuscript.StateGenerating] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}

	if err := s.SetCompleteAudio(ctx, "Dawn", "web/db/Dawn/audio/Dawn.mp3", "/db/Dawn/audio/Dawn.mp3"); err != nil {
		t.Fatalf("set complete audio: %v", err)
	}
	got, _, _ := s.Get(ctx, "Dawn")
	if got.CompleteAudioURL != "/db/Dawn/audio/Dawn.mp3" {
		t.Fatalf("unexpected complete audio url %q", got.CompleteAudioURL)
	}
}
