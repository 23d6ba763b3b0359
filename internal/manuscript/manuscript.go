// Package manuscript defines the narrated article model and the rules that
// govern its lifecycle: canned system manuscripts, the disallow policy,
// regeneration decisions and change detection.
package manuscript

import (
	"strings"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/alignment"
)

type State string

const (
	StateGenerating State = "generating"
	StateDone       State = "done"
	StateError      State = "error"
	StateDisallowed State = "disallowed"
)

// Kind is the block kind of a section.
type Kind string

const (
	KindH1    Kind = "h1"
	KindH2    Kind = "h2"
	KindH3    Kind = "h3"
	KindP     Kind = "p"
	KindOL    Kind = "ol"
	KindUL    Kind = "ul"
	KindCite  Kind = "cite"
	KindImage Kind = "img"
)

func (k Kind) IsList() bool { return k == KindOL || k == KindUL }

// Span is a unit of display text. List sections carry one span per item,
// everything else one span per word.
type Span struct {
	Text string `json:"text"`
}

type Section struct {
	Kind          Kind             `json:"section_type"`
	Spans         []Span           `json:"spans"`
	Alignment     []alignment.Span `json:"alignment,omitempty"`
	AudioPath     string           `json:"audio_path,omitempty"`
	AudioURL      string           `json:"audio_url,omitempty"`
	AlignmentPath string           `json:"alignment_path,omitempty"`
	AlignmentURL  string           `json:"alignment_url,omitempty"`
	Src           string           `json:"src,omitempty"`
	Alt           string           `json:"alt,omitempty"`
}

// Text joins the section's spans for synthesis.
func (s Section) Text() string {
	parts := make([]string, 0, len(s.Spans))
	for _, span := range s.Spans {
		parts = append(parts, span.Text)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Items returns the span texts, which for list sections are the list items.
func (s Section) Items() []string {
	items := make([]string, 0, len(s.Spans))
	for _, span := range s.Spans {
		items = append(items, span.Text)
	}
	return items
}

// Narrated reports whether the section produces audio.
func (s Section) Narrated() bool {
	return s.Kind != KindImage && s.Text() != ""
}

type Outro struct {
	AudioPath string `json:"audio_path,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
}

type Manuscript struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	URL               string    `json:"url,omitempty"`
	State             State     `json:"state"`
	Sections          []Section `json:"sections"`
	Outro             Outro     `json:"outro"`
	LastModified      time.Time `json:"lastmod,omitzero"`
	ForcedVoice       string    `json:"forced_voice,omitempty"`
	Progress          *float64  `json:"progress,omitempty"`
	Image             string    `json:"img,omitempty"`
	CompleteAudioPath string    `json:"complete_audio_path,omitempty"`
	CompleteAudioURL  string    `json:"complete_audio_url,omitempty"`
}

// ExpectedAudioFiles is the number of audio files a fully generated
// manuscript has on disk: one per narrated section plus the outro.
func (m Manuscript) ExpectedAudioFiles() int {
	n := 1
	for _, s := range m.Sections {
		if s.Narrated() {
			n++
		}
	}
	return n
}

// Failed reports whether m stands in for an article that could not be read.
func (m Manuscript) Failed() bool {
	return m.State == StateError || m.State == StateDisallowed
}

// TextSpans splits text into word spans, treating non-breaking spaces as
// spaces and mapping en dashes to hyphens.
func TextSpans(text string) []Span {
	words := strings.Fields(text)
	spans := make([]Span, 0, len(words))
	for _, w := range words {
		if w = cleanText(w); w != "" {
			spans = append(spans, Span{Text: w})
		}
	}
	return spans
}

// ItemSpans builds one span per non-empty item.
func ItemSpans(items []string) []Span {
	spans := make([]Span, 0, len(items))
	for _, item := range items {
		if item = cleanText(item); item != "" {
			spans = append(spans, Span{Text: item})
		}
	}
	return spans
}

var textCleaner = strings.NewReplacer("\u00a0", " ", "\u2013", "-")

func cleanText(s string) string {
	return strings.TrimSpace(textCleaner.Replace(s))
}
