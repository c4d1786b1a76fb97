package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/PandasTableScraper/internal/cdpcontrol"
	"github.com/dgnsrekt/PandasTableScraper/internal/relay"
)

type pageFetcher map[string]string

func (p pageFetcher) Fetch(_ context.Context, raw string) (*goquery.Document, *url.URL, error) {
	body, ok := p[raw]
	if !ok {
		return nil, nil, fmt.Errorf("no page %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	return doc, u, err
}

func (p pageFetcher) LoadFrame(ctx context.Context, u *url.URL) (*goquery.Document, error) {
	doc, _, err := p.Fetch(ctx, u.String())
	return doc, err
}

const pricesPage = `<html><head><title> Prices </title></head><body>
<table id="prices" style="width:100%"><caption>Daily</caption>
  <tr><th>Item</th><th>Price</th></tr>
  <tr><td>Apple</td><td>$1.20</td></tr>
  <tr><td>Pear</td><td>$0.90</td></tr>
</table>
<table><tr><td>a</td><td>b</td></tr></table>
<iframe src="/frame"></iframe>
</body></html>`

func newStaticFixture(t *testing.T) (*Static, cdpcontrol.TabInfo) {
	t.Helper()
	s := NewStatic(pageFetcher{
		"https://shop.test/":      pricesPage,
		"https://shop.test/frame": `<table id="framed"><tr><td>f</td></tr></table>`,
		"https://shop.test/next":  `<p>no tables</p>`,
	})
	t.Cleanup(func() { _ = s.Close() })
	info, err := s.Open(context.Background(), "https://shop.test/")
	require.NoError(t, err)
	return s, info
}

func TestStaticOpenAndActiveTab(t *testing.T) {
	s, first := newStaticFixture(t)
	assert.Equal(t, "tab-1", first.TabID)
	assert.Equal(t, "Prices", first.Title)
	assert.True(t, first.Active)

	second, err := s.Open(context.Background(), "https://shop.test/next")
	require.NoError(t, err)
	assert.Equal(t, "tab-2", second.TabID)

	active, err := s.ActiveTab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tab-2", active.TabID)

	require.NoError(t, s.Activate(context.Background(), "tab-1"))
	tabs, err := s.ListTabs(context.Background())
	require.NoError(t, err)
	require.Len(t, tabs, 2)
	assert.True(t, tabs[0].Active)
	assert.False(t, tabs[1].Active)

	var coded *cdpcontrol.CodedError
	require.True(t, errors.As(s.Activate(context.Background(), "tab-9"), &coded))
	assert.Equal(t, cdpcontrol.CodeTabNotFound, coded.Code)
}

func TestStaticActiveTabWithoutTabs(t *testing.T) {
	s := NewStatic(pageFetcher{})
	_, err := s.ActiveTab(context.Background())
	var coded *cdpcontrol.CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, cdpcontrol.CodeTabNotFound, coded.Code)
}

func TestStaticOpenRejectsUnloadablePage(t *testing.T) {
	s := NewStatic(pageFetcher{})
	_, err := s.Open(context.Background(), "https://missing.test/")
	var coded *cdpcontrol.CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, cdpcontrol.CodeValidation, coded.Code)

	_, err = s.Open(context.Background(), "  ")
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, "url is required", coded.Message)
}

func TestStaticDetectIncludesSameOriginFrame(t *testing.T) {
	s, tab := newStaticFixture(t)
	found, err := s.DetectTables(context.Background(), tab.TabID)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "prices", found[0].ID)
	assert.Equal(t, "Daily", found[0].Name)
	assert.True(t, found[0].HasHeader)
	assert.Equal(t, "table-1", found[1].ID)
	assert.Equal(t, "framed", found[2].ID)
}

func TestStaticNavigateClearsAndReplaces(t *testing.T) {
	s, tab := newStaticFixture(t)
	var navigated []string
	s.OnNavigate = func(id string) { navigated = append(navigated, id) }

	require.NoError(t, s.Navigate(context.Background(), tab.TabID, "https://shop.test/next"))
	assert.Equal(t, []string{tab.TabID}, navigated)

	found, err := s.DetectTables(context.Background(), tab.TabID)
	require.NoError(t, err)
	assert.Empty(t, found)

	tabs, err := s.ListTabs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/next", tabs[0].URL)
}

func TestStaticHighlightRestoresStyle(t *testing.T) {
	s, tab := newStaticFixture(t)
	ctx := context.Background()

	require.NoError(t, s.HighlightTable(ctx, tab.TabID, "prices", 30*time.Millisecond))
	assert.Equal(t, []string{"prices"}, s.Highlighted(tab.TabID))

	st := s.tabs[tab.TabID]
	st.mu.Lock()
	style, _ := st.doc.Find("#prices").Attr("style")
	st.mu.Unlock()
	assert.Contains(t, style, "outline: 3px solid")
	assert.Contains(t, style, "width:100%")

	assert.Eventually(t, func() bool { return len(s.Highlighted(tab.TabID)) == 0 }, time.Second, 5*time.Millisecond)
	st.mu.Lock()
	style, _ = st.doc.Find("#prices").Attr("style")
	st.mu.Unlock()
	assert.Equal(t, "width:100%", style)

	require.NoError(t, s.HighlightTable(ctx, tab.TabID, "nope", time.Millisecond))
	assert.Empty(t, s.Highlighted(tab.TabID))
}

func TestHandlerRepliesPerType(t *testing.T) {
	s, tab := newStaticFixture(t)
	h := NewHandler(s)
	ctx := context.Background()

	detect := h.Handle(ctx, relay.Message{Type: relay.TypeDetectTables, TabID: tab.TabID})
	b, err := json.Marshal(detect)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tables":[
		{"id":"prices","hasHeader":true,"name":"Daily"},
		{"id":"table-1","hasHeader":false,"name":"table-1"},
		{"id":"framed","hasHeader":false,"name":"framed"}]}`, string(b))

	extract := h.Handle(ctx, relay.Message{Type: relay.TypeExtractTable, TabID: tab.TabID, TableID: "prices"})
	b, err = json.Marshal(extract)
	require.NoError(t, err)
	assert.Equal(t, `{"data":[{"Item":"Apple","Price":"$1.20"},{"Item":"Pear","Price":"$0.90"}]}`, string(b))

	missing := h.Handle(ctx, relay.Message{Type: relay.TypeExtractTable, TabID: tab.TabID, TableID: "nope"})
	b, err = json.Marshal(missing)
	require.NoError(t, err)
	assert.Equal(t, `{"data":[]}`, string(b))

	h.HighlightDuration = time.Millisecond
	hl := h.Handle(ctx, relay.Message{Type: relay.TypeHighlightTable, TabID: tab.TabID, TableID: "prices"})
	b, err = json.Marshal(hl)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(b))
}

func TestHandlerErrors(t *testing.T) {
	h := NewHandler(NewStatic(pageFetcher{}))

	unknown := h.Handle(context.Background(), relay.Message{Type: relay.TypeRunPython})
	assert.True(t, unknown.IsError())
	assert.Equal(t, cdpcontrol.CodeValidation, unknown.ErrorCode)

	noTab := h.Handle(context.Background(), relay.Message{Type: relay.TypeDetectTables, TabID: "tab-1"})
	assert.True(t, noTab.IsError())
	assert.Equal(t, cdpcontrol.CodeTabNotFound, noTab.ErrorCode)
	assert.Equal(t, "tab not found: tab-1", noTab.Message)
	assert.Equal(t, relay.TypeDetectTables, noTab.For)
}

func TestStaticSetMaxFrameDepth(t *testing.T) {
	s := NewStatic(pageFetcher{})
	s.SetMaxFrameDepth(2)
	assert.Equal(t, 2, s.detector.MaxFrameDepth)
}
