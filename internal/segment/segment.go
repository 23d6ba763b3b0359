// Package segment splits a parsed article into narratable sections.
package segment

import (
	"errors"
	"slices"
	"strings"

	"github.com/loqalabs/loqa-narrator/internal/manuscript"
)

// ErrMalformedDocument reports a document without a main content region or a
// title heading.
var ErrMalformedDocument = errors.New("malformed document")

const (
	tocID         = "toc"
	citationClass = "ic"
)

// Block is a top-level child of the document's content region.
type Block struct {
	Tag     string
	ID      string
	Classes []string
	// Text is the block's text with footnote markers and tables removed.
	// Line breaks are preserved.
	Text string
	// Items holds the text of each direct child, used for lists.
	Items []string
}

func (b Block) HasClass(class string) bool { return slices.Contains(b.Classes, class) }

// Document is the parsed article as seen by the segmenter.
type Document interface {
	Title() (string, bool)
	Content() ([]Block, bool)
	Image() string
}

type Result struct {
	Title    string
	Image    string
	Sections []manuscript.Section
}

// Segment produces the article's sections. The first section is always the
// title heading.
func Segment(doc Document) (Result, error) {
	blocks, ok := doc.Content()
	if !ok {
		return Result{}, errors.Join(ErrMalformedDocument, errors.New("missing content region"))
	}
	title, ok := doc.Title()
	title = strings.TrimSpace(title)
	if !ok || title == "" {
		return Result{}, errors.Join(ErrMalformedDocument, errors.New("missing title heading"))
	}

	sections := []manuscript.Section{{Kind: manuscript.KindH1, Spans: manuscript.TextSpans(title)}}
	for _, b := range blocks {
		sections = append(sections, blockSections(b)...)
	}
	return Result{Title: title, Image: doc.Image(), Sections: sections}, nil
}

func blockSections(b Block) []manuscript.Section {
	if b.ID == tocID {
		return nil
	}
	tag := strings.ToLower(b.Tag)
	switch tag {
	case "ul", "ol":
		spans := manuscript.ItemSpans(b.Items)
		if len(spans) == 0 {
			return nil
		}
		return []manuscript.Section{{Kind: manuscript.Kind(tag), Spans: spans}}
	case "div":
		if !b.HasClass(citationClass) {
			return nil
		}
		var out []manuscript.Section
		for _, line := range strings.Split(b.Text, "\n") {
			if spans := manuscript.TextSpans(line); len(spans) > 0 {
				out = append(out, manuscript.Section{Kind: manuscript.KindCite, Spans: spans})
			}
		}
		return out
	}

	kind, ok := blockKinds[tag]
	if !ok {
		return nil
	}
	spans := manuscript.TextSpans(b.Text)
	if len(spans) == 0 {
		return nil
	}
	return []manuscript.Section{{Kind: kind, Spans: spans}}
}

var blockKinds = map[string]manuscript.Kind{
	"h1":         manuscript.KindH1,
	"h2":         manuscript.KindH2,
	"h3":         manuscript.KindH3,
	"h4":         manuscript.KindH3,
	"h5":         manuscript.KindH3,
	"h6":         manuscript.KindH3,
	"p":          manuscript.KindP,
	"blockquote": manuscript.KindP,
	"pre":        manuscript.KindP,
	"dl":         manuscript.KindP,
}
