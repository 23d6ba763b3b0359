package audio

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/manuscript"
)

func defaultSilence() map[manuscript.Kind]time.Duration {
	return map[manuscript.Kind]time.Duration{
		manuscript.KindH1: 2 * time.Second,
		manuscript.KindH2: time.Second,
		manuscript.KindP:  500 * time.Millisecond,
	}
}

func TestPlan(t *testing.T) {
	var logs bytes.Buffer
	sections := []manuscript.Section{
		{Kind: manuscript.KindH1, AudioPath: "0001.mp3"},
		{Kind: manuscript.KindImage, Src: "x.png"},
		{Kind: manuscript.KindP, AudioPath: "0002.mp3"},
		{Kind: manuscript.KindH2, AudioPath: "0003.mp3"},
		{Kind: manuscript.KindP},
		{Kind: manuscript.KindCite, AudioPath: "0004.mp3"},
	}
	pieces := Plan(sections, PlanOptions{
		Silence:        defaultSilence(),
		DefaultSilence: time.Second,
		Logger:         slog.New(slog.NewTextHandler(&logs, nil)),
	})
	want := []Piece{
		{Path: "0001.mp3"},
		{Silence: 500 * time.Millisecond},
		{Path: "0002.mp3"},
		{Silence: time.Second},
		{Path: "0003.mp3"},
		{Silence: time.Second},
		{Path: "0004.mp3"},
	}
	if len(pieces) != len(want) {
		t.Fatalf("expected %d pieces, got %+v", len(want), pieces)
	}
	for i := range want {
		if pieces[i] != want[i] {
			t.Fatalf("piece %d: expected %+v, got %+v", i, want[i], pieces[i])
		}
	}
	if !strings.Contains(logs.String(), "kind=cite") {
		t.Fatalf("expected a warning for the unmapped kind, got %q", logs.String())
	}
}

func TestExecConcatenatorArgs(t *testing.T) {
	c, err := NewExecConcatenator("ffmpeg -hide_banner -y", 44100)
	if err != nil {
		t.Fatalf("new concatenator: %v", err)
	}
	args := c.Args([]Piece{{Path: "a.mp3"}, {Silence: 1500 * time.Millisecond}, {Path: "b.mp3"}}, "out.mp3")
	got := strings.Join(args, " ")
	want := "-hide_banner -y -i a.mp3 -f lavfi -t 1.5 -i anullsrc=r=44100:cl=mono -i b.mp3 " +
		"-filter_complex [0:a][1:a][2:a]concat=n=3:v=0:a=1[out] -map [out] out.mp3"
	if got != want {
		t.Fatalf("unexpected args:\n got %s\nwant %s", got, want)
	}
	if _, err := NewExecConcatenator("", 0); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestExecConcatenatorRunsCommand(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-ffmpeg.sh")
	// The output path is the last argument.
	body := "#!/bin/sh\nfor last; do :; done\necho joined > \"$last\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	c, err := NewExecConcatenator(script, 44100)
	if err != nil {
		t.Fatalf("new concatenator: %v", err)
	}
	out := filepath.Join(dir, "db", "Dawn", "audio", "Dawn.mp3")
	if err := c.Concat(context.Background(), []Piece{{Path: "a.mp3"}}, out); err != nil {
		t.Fatalf("concat: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil || strings.TrimSpace(string(data)) != "joined" {
		t.Fatalf("unexpected output %q err=%v", data, err)
	}
	if err := c.Concat(context.Background(), nil, out); err == nil {
		t.Fatalf("expected error without pieces")
	}
}
