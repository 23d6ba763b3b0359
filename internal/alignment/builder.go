// Package alignment turns per-character synthesis timings into word spans and
// repairs spans the provider rendered differently from the display text.
package alignment

import "strings"

// MinSpanMS is the shortest duration a span may carry. Shorter words are
// clamped so highlighting stays visible.
const MinSpanMS int64 = 1000

// CharTiming is one character of a provider timing stream. Start times are
// relative to the beginning of the provider call that produced them.
type CharTiming struct {
	Char       string
	StartMS    int64
	DurationMS int64
}

// Span is a timed unit of display text.
type Span struct {
	Text   string `json:"text"`
	Start  int64  `json:"start"`
	Length int64  `json:"length"`
}

// End returns the span's end time in milliseconds.
func (s Span) End() int64 { return s.Start + s.Length }

// Builder folds timing chunks into word spans. Each chunk is zero based; the
// builder shifts it by the audio already consumed so spans from consecutive
// provider calls stay globally ordered.
type Builder struct {
	spans  []Span
	offset int64
}

// Add folds one chunk. A word still pending at the end of the chunk is
// flushed.
func (b *Builder) Add(chunk []CharTiming) {
	var (
		word   strings.Builder
		start  int64
		length int64
	)
	for _, c := range chunk {
		length += c.DurationMS
		if strings.TrimSpace(c.Char) == "" {
			if word.Len() > 0 {
				b.emit(word.String(), start, length)
				word.Reset()
				length = 0
			}
			continue
		}
		if word.Len() == 0 {
			start = c.StartMS + b.offset
		}
		word.WriteString(c.Char)
	}
	if word.Len() > 0 {
		b.emit(word.String(), start, length)
	}
	if n := len(chunk); n > 0 {
		last := chunk[n-1]
		b.offset += last.StartMS + last.DurationMS
	}
}

func (b *Builder) emit(text string, start, length int64) {
	b.spans = append(b.spans, Span{Text: text, Start: start, Length: max(length, MinSpanMS)})
}

// Spans returns the spans built so far.
func (b *Builder) Spans() []Span {
	out := make([]Span, len(b.spans))
	copy(out, b.spans)
	return out
}

// Duration is the total audio time covered by the chunks added so far.
func (b *Builder) Duration() int64 { return b.offset }

// Build folds the given chunks in order.
func Build(chunks ...[]CharTiming) []Span {
	var b Builder
	for _, chunk := range chunks {
		b.Add(chunk)
	}
	return b.Spans()
}
