package speech

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const voicesJSON = `[
  {"id": "v-ella", "name": "Ella", "use": true, "model": "eleven_turbo_v2",
   "voice_settings": {"stability": 0.5, "similarity_boost": 0.8},
   "generation_config": {"chunk_length_schedule": [50, 120]},
   "replace": [{"from": "Anvil", "to": "Anvill"}]},
  {"id": "v-tom", "name": "Tom", "use": true, "max_words": 5},
  {"id": "v-old", "name": "Retired", "use": false}
]`

func writeVoices(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voices.json")
	if err := os.WriteFile(path, []byte(voicesJSON), 0o644); err != nil {
		t.Fatalf("write voices: %v", err)
	}
	return path
}

func TestLoadVoicesJSON(t *testing.T) {
	voices, err := LoadVoices(writeVoices(t))
	if err != nil {
		t.Fatalf("load voices: %v", err)
	}
	if len(voices) != 3 {
		t.Fatalf("expected 3 voices, got %d", len(voices))
	}
	ella := voices[0]
	if ella.VoiceSettings.SimilarityBoost != 0.8 || ella.Model != "eleven_turbo_v2" {
		t.Fatalf("unexpected voice: %+v", ella)
	}
	if !reflect.DeepEqual(ella.GenerationConfig.ChunkLengthSchedule, []int{50, 120}) {
		t.Fatalf("unexpected schedule: %v", ella.GenerationConfig.ChunkLengthSchedule)
	}
	if len(ella.Replace) != 1 || ella.Replace[0].To != "Anvill" {
		t.Fatalf("unexpected replacements: %+v", ella.Replace)
	}
	if voices[1].MaxWords != 5 {
		t.Fatalf("expected max words 5, got %d", voices[1].MaxWords)
	}
	if len(voices.Enabled()) != 2 {
		t.Fatalf("expected 2 enabled voices")
	}
}

func TestChooseVoice(t *testing.T) {
	voices, err := LoadVoices(writeVoices(t))
	if err != nil {
		t.Fatalf("load voices: %v", err)
	}
	rng := rand.New(rand.NewPCG(1, 2))

	v, forced, err := voices.Choose(rng, "Retired")
	if err != nil || !forced || v.ID != "v-old" {
		t.Fatalf("expected forced retired voice, got %+v forced=%v err=%v", v, forced, err)
	}

	seen := map[string]bool{}
	for range 50 {
		v, forced, err := voices.Choose(rng, "Nobody")
		if err != nil || forced {
			t.Fatalf("unexpected choice result forced=%v err=%v", forced, err)
		}
		if !v.Use {
			t.Fatalf("random choice picked disabled voice %s", v.Name)
		}
		seen[v.Name] = true
	}
	if !seen["Ella"] || !seen["Tom"] {
		t.Fatalf("expected both enabled voices to be chosen, got %v", seen)
	}

	if _, _, err := (Voices{}).Choose(rng, ""); !errors.Is(err, ErrNoVoices) {
		t.Fatalf("expected ErrNoVoices, got %v", err)
	}
}

func TestSplitForVoice(t *testing.T) {
	text := "The Empire stands. Will it fall? Never! The end"
	if got := SplitForVoice(text, 0); len(got) != 1 || got[0] != text {
		t.Fatalf("expected no split without limit, got %q", got)
	}
	if got := SplitForVoice(text, 20); len(got) != 1 {
		t.Fatalf("expected no split under limit, got %q", got)
	}
	want := []string{"The Empire stands.", "Will it fall?", "Never!", "The end"}
	if got := SplitForVoice(text, 3); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := SplitForVoice("   ", 3); got != nil {
		t.Fatalf("expected nil for blank text, got %q", got)
	}
}
