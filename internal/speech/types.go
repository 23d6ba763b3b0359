// Package speech synthesizes narration through an external provider. The
// Client owns the retry policy: transient failures retry after a fixed delay,
// quota exhaustion backs off exponentially, and rejected credentials are
// disabled and rotated.
package speech

import (
	"context"

	"github.com/loqalabs/loqa-narrator/internal/alignment"
)

type VoiceSettings struct {
	Stability       float64 `yaml:"stability" json:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost" json:"similarity_boost"`
}

type GenerationConfig struct {
	ChunkLengthSchedule []int `yaml:"chunk_length_schedule" json:"chunk_length_schedule,omitempty"`
}

// Replacement is a voice-specific pronunciation rewrite.
type Replacement struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type Voice struct {
	ID               string           `yaml:"id"`
	Name             string           `yaml:"name"`
	Use              bool             `yaml:"use"`
	Model            string           `yaml:"model"`
	VoiceSettings    VoiceSettings    `yaml:"voice_settings"`
	GenerationConfig GenerationConfig `yaml:"generation_config"`
	MaxWords         int              `yaml:"max_words"`
	Replace          []Replacement    `yaml:"replace"`
}

// Request is a single provider call.
type Request struct {
	Text       string
	Voice      Voice
	Credential Credential
}

// Result is encoded audio plus the character timings of each provider
// message. Every timing chunk starts at zero.
type Result struct {
	Audio   []byte
	Timings [][]alignment.CharTiming
}

// Append concatenates another result after r.
func (r *Result) Append(other Result) {
	r.Audio = append(r.Audio, other.Audio...)
	r.Timings = append(r.Timings, other.Timings...)
}

// Provider performs one synthesis attempt. Failures wrap one of the error
// sentinels so the Client can pick a recovery.
type Provider interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
}
