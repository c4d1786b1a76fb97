package content

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/dgnsrekt/PandasTableScraper/internal/cdpcontrol"
	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

const highlightStyle = "outline: 3px solid #2196F3"

// Fetcher loads a page and the frames it embeds.
type Fetcher interface {
	tables.FrameLoader
	Fetch(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error)
}

type staticTab struct {
	mu     sync.Mutex
	info   cdpcontrol.TabInfo
	doc    *goquery.Document
	base   *url.URL
	timers map[string]*time.Timer
	saved  map[string]savedStyle
}

type savedStyle struct {
	value string
	had   bool
}

// Static serves tabs backed by fetched documents. Tab ids are assigned in
// open order ("tab-1", "tab-2", ...).
type Static struct {
	fetcher  Fetcher
	detector *tables.Detector

	// OnNavigate runs before a tab loads a new page.
	OnNavigate func(tabID string)

	mu     sync.Mutex
	tabs   map[string]*staticTab
	order  []string
	active string
	next   int
}

func NewStatic(fetcher Fetcher) *Static {
	return &Static{
		fetcher:  fetcher,
		detector: tables.NewDetector(fetcher),
		tabs:     make(map[string]*staticTab),
	}
}

// SetMaxFrameDepth bounds frame recursion during detection.
func (s *Static) SetMaxFrameDepth(n int) {
	s.detector.MaxFrameDepth = n
}

func (s *Static) ListTabs(context.Context) ([]cdpcontrol.TabInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cdpcontrol.TabInfo, 0, len(s.order))
	for _, id := range s.order {
		t := s.tabs[id]
		t.mu.Lock()
		info := t.info
		t.mu.Unlock()
		info.Active = id == s.active
		out = append(out, info)
	}
	return out, nil
}

func (s *Static) ActiveTab(context.Context) (cdpcontrol.TabInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[s.active]
	if !ok {
		return cdpcontrol.TabInfo{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "no active tab"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.info
	info.Active = true
	return info, nil
}

// Activate makes tabID the active tab.
func (s *Static) Activate(_ context.Context, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabs[tabID]; !ok {
		return tabNotFound(tabID)
	}
	s.active = tabID
	return nil
}

// Open fetches rawURL into a new tab, which becomes the active one.
func (s *Static) Open(ctx context.Context, rawURL string) (cdpcontrol.TabInfo, error) {
	doc, base, err := s.load(ctx, rawURL)
	if err != nil {
		return cdpcontrol.TabInfo{}, err
	}

	s.mu.Lock()
	s.next++
	id := fmt.Sprintf("tab-%d", s.next)
	t := &staticTab{
		info: cdpcontrol.TabInfo{TabID: id, URL: base.String(), Title: pageTitle(doc)},
		doc:  doc,
		base: base,
	}
	s.tabs[id] = t
	s.order = append(s.order, id)
	s.active = id
	s.mu.Unlock()

	slog.Info("static tab opened", "tab_id", id, "url", t.info.URL)
	info := t.info
	info.Active = true
	return info, nil
}

// Navigate replaces the document of an existing tab.
func (s *Static) Navigate(ctx context.Context, tabID, rawURL string) error {
	t, err := s.tab(tabID)
	if err != nil {
		return err
	}
	if s.OnNavigate != nil {
		s.OnNavigate(tabID)
	}

	doc, base, err := s.load(ctx, rawURL)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.stopTimersLocked()
	t.doc = doc
	t.base = base
	t.info.URL = base.String()
	t.info.Title = pageTitle(doc)
	t.mu.Unlock()
	slog.Info("static tab navigated", "tab_id", tabID, "url", base.String())
	return nil
}

func (s *Static) DetectTables(ctx context.Context, tabID string) ([]tables.Summary, error) {
	t, err := s.tab(tabID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return tables.Summaries(s.detector.Detect(ctx, t.doc, t.base)), nil
}

// ExtractTable runs a fresh detection pass and extracts tableID from it.
// An unknown id yields no rows.
func (s *Static) ExtractTable(ctx context.Context, tabID, tableID string) ([]tables.Record, error) {
	t, err := s.tab(tabID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	found, ok := tables.FindByID(s.detector.Detect(ctx, t.doc, t.base), tableID)
	if !ok {
		return []tables.Record{}, nil
	}
	return tables.Extract(found.Selection), nil
}

// HighlightTable outlines the table and restores its style after d.
func (s *Static) HighlightTable(ctx context.Context, tabID, tableID string, d time.Duration) error {
	t, err := s.tab(tabID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	found, ok := tables.FindByID(s.detector.Detect(ctx, t.doc, t.base), tableID)
	if !ok {
		return nil
	}
	if t.timers == nil {
		t.timers = make(map[string]*time.Timer)
		t.saved = make(map[string]savedStyle)
	}
	sel := found.Selection
	if timer, ok := t.timers[tableID]; ok {
		timer.Stop()
	} else {
		style, had := sel.Attr("style")
		t.saved[tableID] = savedStyle{value: style, had: had}
	}
	prev := t.saved[tableID]
	style := highlightStyle
	if strings.TrimSpace(prev.value) != "" {
		style = strings.TrimRight(strings.TrimSpace(prev.value), ";") + "; " + highlightStyle
	}
	sel.SetAttr("style", style)

	doc := t.doc
	t.timers[tableID] = time.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.doc != doc {
			return
		}
		restoreStyle(sel, t.saved[tableID])
		delete(t.timers, tableID)
		delete(t.saved, tableID)
	})
	return nil
}

// Highlighted lists the table ids of tabID that are currently outlined.
func (s *Static) Highlighted(tabID string) []string {
	t, err := s.tab(tabID)
	if err != nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.timers))
	for id := range t.timers {
		out = append(out, id)
	}
	return out
}

func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tabs {
		t.mu.Lock()
		t.stopTimersLocked()
		t.mu.Unlock()
	}
	return nil
}

func (s *Static) tab(tabID string) (*staticTab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[strings.TrimSpace(tabID)]
	if !ok {
		return nil, tabNotFound(tabID)
	}
	return t, nil
}

func (s *Static) load(ctx context.Context, rawURL string) (*goquery.Document, *url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "url is required"}
	}
	doc, base, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "load page failed", Cause: err}
	}
	return doc, base, nil
}

func (t *staticTab) stopTimersLocked() {
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.saved = nil
	t.timers = nil
}

func restoreStyle(sel *goquery.Selection, prev savedStyle) {
	if prev.had {
		sel.SetAttr("style", prev.value)
		return
	}
	sel.RemoveAttr("style")
}

func pageTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("head > title").First().Text())
}

func tabNotFound(tabID string) error {
	return &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not found: " + tabID}
}
