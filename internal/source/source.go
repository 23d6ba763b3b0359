// Package source fetches wiki articles over HTTP and adapts their HTML to the
// segmenter's document model.
package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/segment"
)

// FetchError reports an article that could not be downloaded.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Options struct {
	BaseURL     string
	SiteURL     string
	ContentID   string
	UserAgent   string
	Timeout     time.Duration
	TLSInsecure bool
}

// HTTPSource downloads articles from {BaseURL}/{id}.
type HTTPSource struct {
	baseURL   string
	userAgent string
	parse     ParseOptions
	client    *http.Client
}

func NewHTTPSource(opts Options) (*HTTPSource, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("source base url must not be empty")
	}
	site, err := url.Parse(opts.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("parse site url: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.TLSInsecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &HTTPSource{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		parse:     ParseOptions{ContentID: opts.ContentID, SiteURL: site},
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

// ArticleURL is the public address of the article with the given id.
func (s *HTTPSource) ArticleURL(id string) string {
	return s.baseURL + "/" + id
}

func (s *HTTPSource) Fetch(ctx context.Context, id string) (segment.Document, error) {
	target := s.ArticleURL(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{URL: target, Status: resp.StatusCode}
	}
	doc, err := Parse(resp.Body, s.parse)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	return doc, nil
}
