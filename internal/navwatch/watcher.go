// Package navwatch follows top-level navigations of browser tabs so stored
// table state can be dropped when a tab leaves its page.
package navwatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// NavigateFunc is told about every committed frame navigation of a tab.
type NavigateFunc func(tabID string, mainFrame bool)

type watchedTab struct {
	url    string
	cancel context.CancelFunc
}

// Watcher attaches to page targets through a remote chromedp allocator.
type Watcher struct {
	cdpURL     string
	tabFilter  string
	onNavigate NavigateFunc
	interval   time.Duration

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc

	mu   sync.Mutex
	tabs map[target.ID]*watchedTab
	done chan struct{}
	wg   sync.WaitGroup
}

func New(cdpURL, tabFilter string, onNavigate NavigateFunc) *Watcher {
	return &Watcher{
		cdpURL:     cdpURL,
		tabFilter:  strings.ToLower(strings.TrimSpace(tabFilter)),
		onNavigate: onNavigate,
		interval:   2 * time.Second,
		tabs:       make(map[target.ID]*watchedTab),
		done:       make(chan struct{}),
	}
}

// Start connects to the browser, attaches to the current tabs and keeps
// attaching new ones until Close.
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("navwatch connecting", "url", w.cdpURL)
	w.allocCtx, w.allocCancel = chromedp.NewRemoteAllocator(context.Background(), w.cdpURL)
	w.browserCtx, w.browserStop = chromedp.NewContext(w.allocCtx)

	if err := chromedp.Run(w.browserCtx); err != nil {
		w.allocCancel()
		return fmt.Errorf("navwatch: connect to browser: %w", err)
	}
	if err := w.Sync(ctx); err != nil {
		w.allocCancel()
		return err
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := w.Sync(ctx); err != nil {
				slog.Debug("navwatch sync failed", "error", err)
			}
			cancel()
		}
	}
}

// Sync attaches to new page targets and forgets closed ones.
func (w *Watcher) Sync(ctx context.Context) error {
	targets, err := chromedp.Targets(w.browserCtx)
	if err != nil {
		return fmt.Errorf("navwatch: enumerate targets: %w", err)
	}

	seen := make(map[target.ID]bool, len(targets))
	for _, t := range targets {
		if t.Type != "page" || !w.matches(t.URL) {
			continue
		}
		seen[t.TargetID] = true
		if w.watching(t.TargetID) {
			continue
		}
		if err := w.attach(ctx, t.TargetID, t.URL); err != nil {
			slog.Warn("navwatch attach failed", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
		}
	}

	w.mu.Lock()
	for id, tab := range w.tabs {
		if !seen[id] {
			tab.cancel()
			delete(w.tabs, id)
		}
	}
	w.mu.Unlock()
	return nil
}

// attachTimeout bounds the first round trip to a new tab.
const attachTimeout = 10 * time.Second

// attach connects to a page target. chromedp ties the browser connection and
// the target event loop to the context of the first Run, so page.Enable runs
// on tabCtx and ctx only bounds how long attach waits.
func (w *Watcher) attach(ctx context.Context, id target.ID, url string) error {
	tabCtx, cancel := chromedp.NewContext(w.allocCtx, chromedp.WithTargetID(id))

	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(tabCtx, page.Enable()) }()

	timer := time.NewTimer(attachTimeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		if err != nil {
			cancel()
			return fmt.Errorf("enable page domain: %w", err)
		}
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("enable page domain: %w", ctx.Err())
	case <-timer.C:
		cancel()
		return fmt.Errorf("enable page domain: timed out after %s", attachTimeout)
	}
	chromedp.ListenTarget(tabCtx, func(ev any) { w.handleEvent(string(id), ev) })

	w.mu.Lock()
	w.tabs[id] = &watchedTab{url: url, cancel: cancel}
	w.mu.Unlock()
	slog.Info("navwatch attached", "target_id", id, "url", truncateURL(url))
	return nil
}

func (w *Watcher) handleEvent(tabID string, ev any) {
	e, ok := ev.(*page.EventFrameNavigated)
	if !ok || e.Frame == nil {
		return
	}
	main := e.Frame.ParentID == ""
	if main {
		w.mu.Lock()
		if tab, ok := w.tabs[target.ID(tabID)]; ok {
			tab.url = e.Frame.URL
		}
		w.mu.Unlock()
		slog.Info("tab navigated", "tab_id", tabID, "url", truncateURL(e.Frame.URL))
	}
	if w.onNavigate != nil {
		w.onNavigate(tabID, main)
	}
}

func (w *Watcher) watching(id target.ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.tabs[id]
	return ok
}

// Count returns the number of attached tabs.
func (w *Watcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tabs)
}

func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	w.wg.Wait()

	w.mu.Lock()
	for id, tab := range w.tabs {
		tab.cancel()
		delete(w.tabs, id)
	}
	w.mu.Unlock()
	if w.browserStop != nil {
		w.browserStop()
	}
	if w.allocCancel != nil {
		w.allocCancel()
	}
	slog.Info("navwatch closed")
	return nil
}

func (w *Watcher) matches(url string) bool {
	return w.tabFilter == "" || strings.Contains(strings.ToLower(url), w.tabFilter)
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
