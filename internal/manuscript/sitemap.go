package manuscript

import (
	"encoding/xml"
	"net/url"
	"sort"
	"strings"
)

type SitemapOptions struct {
	BaseURL     string
	ArticlePath string
	ChangeFreq  string
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
}

type urlset struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

// Sitemap renders the done manuscripts, sorted by identifier.
func Sitemap(ms []Manuscript, opts SitemapOptions) ([]byte, error) {
	sorted := make([]Manuscript, 0, len(ms))
	for _, m := range ms {
		if m.State == StateDone {
			sorted = append(sorted, m)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	set := urlset{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	base := strings.TrimRight(opts.BaseURL, "/") + "/"
	for _, m := range sorted {
		loc := base
		if m.ID != HomeID {
			loc += strings.Trim(opts.ArticlePath, "/") + "/" + url.QueryEscape(m.ID)
		}
		entry := sitemapURL{Loc: loc, ChangeFreq: opts.ChangeFreq}
		if !m.LastModified.IsZero() {
			entry.LastMod = m.LastModified.Format("2006-01-02")
		}
		set.URLs = append(set.URLs, entry)
	}

	out, err := xml.MarshalIndent(set, "", "\t")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}
