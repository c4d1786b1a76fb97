package tables

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const userAgent = "PandasTableScraper/1.0 (+https://github.com/dgnsrekt/PandasTableScraper)"

// HTTPLoader fetches pages and frame documents over http(s) or from file:// URLs.
type HTTPLoader struct {
	client *resty.Client
}

func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml")
	return &HTTPLoader{client: client}
}

// LoadFrame implements FrameLoader.
func (l *HTTPLoader) LoadFrame(ctx context.Context, u *url.URL) (*goquery.Document, error) {
	doc, _, err := l.Fetch(ctx, u.String())
	return doc, err
}

// Fetch loads rawURL and returns the parsed document with its final URL
// (after redirects).
func (l *HTTPLoader) Fetch(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error) {
	u, err := ParseLocation(rawURL)
	if err != nil {
		return nil, nil, err
	}

	if u.Scheme == "file" {
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", u.Path, err)
		}
		defer f.Close()
		doc, err := goquery.NewDocumentFromReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("parse html: %w", err)
		}
		return doc, u, nil
	}

	resp, err := l.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u.String())
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, nil, fmt.Errorf("fetch %s: HTTP %d", u.Redacted(), resp.StatusCode())
	}

	final := u
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		final = resp.RawResponse.Request.URL
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, final, nil
}

// ParseLocation accepts absolute http(s)/file URLs and bare filesystem paths.
func ParseLocation(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty location")
	}
	if !strings.Contains(raw, "://") {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return nil, fmt.Errorf("resolve path %q: %w", raw, err)
		}
		return &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse location %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "file":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u, nil
}
