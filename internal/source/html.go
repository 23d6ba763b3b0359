package source

import (
	"io"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/loqalabs/loqa-narrator/internal/segment"
)

const defaultContentID = "mw-content-text"

type ParseOptions struct {
	ContentID string
	// SiteURL resolves relative image sources.
	SiteURL *url.URL
}

// Document is an article parsed from HTML.
type Document struct {
	title      string
	hasTitle   bool
	blocks     []segment.Block
	hasContent bool
	image      string
}

func (d *Document) Title() (string, bool)            { return d.title, d.hasTitle }
func (d *Document) Content() ([]segment.Block, bool) { return d.blocks, d.hasContent }
func (d *Document) Image() string                    { return d.image }

// Parse reads an article page. A page without the content region or an h1
// still parses; the segmenter reports it as malformed.
func Parse(r io.Reader, opts ParseOptions) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	contentID := opts.ContentID
	if contentID == "" {
		contentID = defaultContentID
	}

	doc := &Document{}
	if h1 := find(root, func(n *html.Node) bool { return n.DataAtom == atom.H1 }); h1 != nil {
		doc.title = strings.TrimSpace(textOf(h1))
		doc.hasTitle = true
	}

	content := find(root, func(n *html.Node) bool { return attr(n, "id") == contentID })
	if content == nil {
		return doc, nil
	}
	doc.hasContent = true

	if img := find(content, func(n *html.Node) bool { return n.DataAtom == atom.Img }); img != nil {
		doc.image = resolve(opts.SiteURL, attr(img, "src"))
	}

	for {
		only := soleChild(content)
		if only == nil {
			break
		}
		content = only
	}

	for c := content.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		b := segment.Block{
			Tag:     c.Data,
			ID:      attr(c, "id"),
			Classes: strings.Fields(attr(c, "class")),
			Text:    textOf(c),
		}
		for item := c.FirstChild; item != nil; item = item.NextSibling {
			if item.Type == html.ElementNode {
				b.Items = append(b.Items, strings.TrimSpace(textOf(item)))
			}
		}
		doc.blocks = append(doc.blocks, b)
	}
	return doc, nil
}

// soleChild returns n's only child when that child is a div wrapper and n
// holds nothing else but whitespace and comments.
func soleChild(n *html.Node) *html.Node {
	var only *html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			if only != nil {
				return nil
			}
			only = c
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return nil
			}
		}
	}
	if only == nil || only.DataAtom != atom.Div || slices.Contains(strings.Fields(attr(only, "class")), "ic") {
		return nil
	}
	return only
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

var skipped = map[atom.Atom]bool{
	atom.Sup:    true,
	atom.Table:  true,
	atom.Style:  true,
	atom.Script: true,
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if skipped[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Br {
				sb.WriteByte('\n')
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func resolve(site *url.URL, src string) string {
	if src == "" {
		return ""
	}
	ref, err := url.Parse(src)
	if err != nil || site == nil || ref.IsAbs() {
		return src
	}
	return site.ResolveReference(ref).String()
}
