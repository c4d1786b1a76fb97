// Package cdpcontrol drives live Chromium tabs over the DevTools protocol
// and runs table detection, extraction and highlighting inside the page.
package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

// transientHints mark error causes worth one retry after reconnecting.
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

type tabSession struct {
	info      TabInfo
	mu        sync.Mutex
	sessionID string
}

// Client is the live table backend.
type Client struct {
	cdpURL        string
	tabFilter     string
	evalTimeout   time.Duration
	maxFrameDepth int

	mu    sync.Mutex
	cdp   *rawCDP
	tabs  map[target.ID]*tabSession
	order []target.ID

	tabLocksMu sync.Mutex
	tabLocks   map[string]*sync.Mutex
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	if evalTimeout <= 0 {
		evalTimeout = 5 * time.Second
	}
	return &Client{
		cdpURL:        cdpURL,
		tabFilter:     strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout:   evalTimeout,
		maxFrameDepth: tables.DefaultMaxFrameDepth,
		tabs:          make(map[target.ID]*tabSession),
		tabLocks:      make(map[string]*sync.Mutex),
	}
}

// SetMaxFrameDepth bounds frame recursion in the page scripts. Values below
// one are ignored.
func (c *Client) SetMaxFrameDepth(n int) {
	if n > 0 {
		c.maxFrameDepth = n
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	if err := c.syncTabsLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return err
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.tabs))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

// cleanupLocked detaches every session without closing the tabs.
func (c *Client) cleanupLocked() {
	if c.cdp != nil {
		for id, session := range c.tabs {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("detach cleanup failed", "target_id", id, "session_id", session.sessionID, "error", err)
				}
				cancel()
				session.sessionID = ""
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
	c.order = nil
}

// ListTabs returns page targets in browser order.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdpcontrol list tabs failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	out := make([]TabInfo, 0, len(c.order))
	for _, id := range c.order {
		if s := c.tabs[id]; s != nil {
			out = append(out, s.info)
		}
	}
	c.mu.Unlock()

	slog.Debug("cdpcontrol list tabs", "count", len(out))
	return out, nil
}

var jsTabFocusState = wrapJSEval(`return JSON.stringify({ok:true,data:{visible:document.visibilityState === "visible",focused:document.hasFocus()}});`)

// ActiveTab picks the focused tab, then the first visible one, then the
// first tab the browser lists.
func (c *Client) ActiveTab(ctx context.Context) (TabInfo, error) {
	tabs, err := c.ListTabs(ctx)
	if err != nil {
		return TabInfo{}, err
	}
	if len(tabs) == 0 {
		return TabInfo{}, newError(CodeTabNotFound, "no tabs found", nil)
	}

	visible := -1
	for i, tab := range tabs {
		var focus struct {
			Visible bool `json:"visible"`
			Focused bool `json:"focused"`
		}
		if evalErr := c.evalOnTab(ctx, tab.TabID, jsTabFocusState, &focus); evalErr != nil {
			continue
		}
		if focus.Visible && focus.Focused {
			tab.Active = true
			return tab, nil
		}
		if focus.Visible && visible < 0 {
			visible = i
		}
	}
	pick := tabs[0]
	if visible >= 0 {
		pick = tabs[visible]
	}
	pick.Active = true
	return pick, nil
}

// Open creates a new tab at url.
func (c *Client) Open(ctx context.Context, url string) (TabInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return TabInfo{}, err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return TabInfo{}, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targetID, err := cdp.createTarget(ctx, url)
	if err != nil {
		return TabInfo{}, newError(CodeCDPUnavailable, "create target failed", err)
	}
	if err := c.refreshTabs(ctx); err != nil {
		return TabInfo{}, err
	}
	_, info, ok := c.lookupTab(targetID)
	if !ok {
		// Filtered out by the tab filter, or not yet listed.
		return TabInfo{TabID: targetID, URL: url}, nil
	}
	return info, nil
}

// Activate brings tabID to the front so ActiveTab reports it.
func (c *Client) Activate(ctx context.Context, tabID string) error {
	_, info, err := c.resolveTab(ctx, tabID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	if err := cdp.activateTarget(ctx, info.TabID); err != nil {
		return newError(CodeCDPUnavailable, "activate target failed", err)
	}
	slog.Debug("cdpcontrol tab activated", "tab_id", info.TabID)
	return nil
}

// Navigate loads url in an existing tab. Table state for the tab is cleared
// by the navigation watcher when the top frame commits.
func (c *Client) Navigate(ctx context.Context, tabID, url string) error {
	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	session, info, err := c.resolveTab(ctx, tabID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	sid, err := c.ensureSession(ctx, cdp, session, info.TabID)
	if err != nil {
		return err
	}
	if err := cdp.navigate(ctx, sid, url); err != nil {
		return newError(CodeEvalFailure, "navigate failed", err)
	}
	return nil
}

func (c *Client) DetectTables(ctx context.Context, tabID string) ([]tables.Summary, error) {
	var out struct {
		Tables []tables.Summary `json:"tables"`
	}
	if err := c.evalOnTab(ctx, tabID, jsDetectTables(c.maxFrameDepth), &out); err != nil {
		return nil, err
	}
	if out.Tables == nil {
		out.Tables = []tables.Summary{}
	}
	return out.Tables, nil
}

// ExtractTable returns the rows of tableID, or an empty slice when the table
// is not on the page.
func (c *Client) ExtractTable(ctx context.Context, tabID, tableID string) ([]tables.Record, error) {
	var out struct {
		Found bool          `json:"found"`
		Rows  [][][2]string `json:"rows"`
	}
	if err := c.evalOnTab(ctx, tabID, jsExtractTable(c.maxFrameDepth, tableID), &out); err != nil {
		return nil, err
	}
	if !out.Found {
		slog.Debug("cdpcontrol extract: table not found", "tab_id", tabID, "table_id", tableID)
	}
	return pairsToRecords(out.Rows), nil
}

func (c *Client) HighlightTable(ctx context.Context, tabID, tableID string, d time.Duration) error {
	var out struct {
		Found bool `json:"found"`
	}
	if err := c.evalOnTab(ctx, tabID, jsHighlightTable(c.maxFrameDepth, tableID, d), &out); err != nil {
		return err
	}
	if !out.Found {
		slog.Debug("cdpcontrol highlight: table not found", "tab_id", tabID, "table_id", tableID)
	}
	return nil
}

func (c *Client) evalOnTab(ctx context.Context, tabID, js string, out any) error {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return newError(CodeValidation, "tab id is required", nil)
	}

	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	session, info, err := c.resolveTab(ctx, tabID)
	if err == nil {
		err = c.evalOnSession(ctx, session, info.TabID, js, out)
	}
	if err == nil || !c.shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol eval retry after transient failure", "tab_id", tabID, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "tab_id", tabID, "error", recErr)
			return recErr
		}
	} else if syncErr := c.refreshTabs(ctx); syncErr != nil {
		slog.Warn("cdpcontrol tab refresh failed during retry", "tab_id", tabID, "error", syncErr)
	}

	session, info, err = c.resolveTab(ctx, tabID)
	if err != nil {
		return err
	}
	return c.evalOnSession(ctx, session, info.TabID, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, session *tabSession, targetID, js string, out any) error {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	sessionID, err := c.ensureSession(ctx, cdp, session, targetID)
	if err != nil {
		return err
	}

	evalCtx, cancel := context.WithTimeout(ctx, c.evalTimeout)
	defer cancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "target_id", targetID, "error", err)
		session.mu.Lock()
		session.sessionID = ""
		session.mu.Unlock()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}
	return decodeEnvelope(raw, out)
}

func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, targetID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.sessionID != "" {
		return session.sessionID, nil
	}
	sid, err := cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	session.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", targetID, "session_id", sid)
	return sid, nil
}

func (c *Client) resolveTab(ctx context.Context, tabID string) (*tabSession, TabInfo, error) {
	if session, info, ok := c.lookupTab(tabID); ok {
		return session, info, nil
	}
	if err := c.refreshTabs(ctx); err != nil {
		return nil, TabInfo{}, err
	}
	if session, info, ok := c.lookupTab(tabID); ok {
		return session, info, nil
	}
	return nil, TabInfo{}, newError(CodeTabNotFound, "tab not found: "+tabID, nil)
}

func (c *Client) lookupTab(tabID string) (*tabSession, TabInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.tabs[target.ID(tabID)]
	if session == nil {
		return nil, TabInfo{}, false
	}
	return session, session.info, true
}

func (c *Client) refreshTabs(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncTabsLocked(ctx)
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) syncTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	order := make([]target.ID, 0, len(targets))
	expected := make(map[target.ID]TabInfo, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if c.tabFilter != "" && !strings.Contains(strings.ToLower(t.URL), c.tabFilter) {
			continue
		}
		order = append(order, t.TargetID)
		expected[t.TargetID] = TabInfo{TabID: string(t.TargetID), URL: t.URL, Title: t.Title}
	}

	for id := range c.tabs {
		if _, ok := expected[id]; !ok {
			delete(c.tabs, id)
		}
	}
	for id, info := range expected {
		if session := c.tabs[id]; session != nil {
			session.info = info
			continue
		}
		c.tabs[id] = &tabSession{info: info}
	}
	c.order = order

	c.tabLocksMu.Lock()
	for id := range c.tabLocks {
		if _, ok := c.tabs[target.ID(id)]; !ok {
			delete(c.tabLocks, id)
		}
	}
	c.tabLocksMu.Unlock()

	slog.Debug("cdpcontrol tab sync", "targets", len(targets), "tabs", len(order))
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil && c.cdp.connected()
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) tabLock(tabID string) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	m, ok := c.tabLocks[tabID]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[tabID] = m
	}
	return m
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	return errors.As(err, &coded) && coded.Code == code
}
