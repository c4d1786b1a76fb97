package navwatch

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type navCall struct {
	tabID string
	main  bool
}

func TestHandleEventReportsFrameNavigations(t *testing.T) {
	var calls []navCall
	w := New("http://127.0.0.1:9222", "", func(tabID string, main bool) {
		calls = append(calls, navCall{tabID, main})
	})
	_, cancel := context.WithCancel(context.Background())
	w.tabs["T1"] = &watchedTab{url: "https://a.test/", cancel: cancel}

	w.handleEvent("T1", &page.EventFrameNavigated{Frame: &cdp.Frame{ID: "F1", URL: "https://b.test/"}})
	w.handleEvent("T1", &page.EventFrameNavigated{Frame: &cdp.Frame{ID: "F2", ParentID: "F1", URL: "https://ads.test/"}})
	w.handleEvent("T1", &page.EventNavigatedWithinDocument{URL: "https://b.test/#x"})
	w.handleEvent("T1", &page.EventFrameNavigated{})

	assert.Equal(t, []navCall{{"T1", true}, {"T1", false}}, calls)
	assert.Equal(t, "https://b.test/", w.tabs[target.ID("T1")].url)
}

func TestMatchesFilter(t *testing.T) {
	w := New("", " Example.COM ", nil)
	assert.True(t, w.matches("https://www.example.com/page"))
	assert.False(t, w.matches("https://other.test/"))
	assert.True(t, New("", "", nil).matches("anything"))
}

func TestCloseIsIdempotent(t *testing.T) {
	w := New("", "", nil)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.Equal(t, 0, w.Count())
}

func TestTruncateURL(t *testing.T) {
	long := "https://example.com/" + string(make([]byte, 200))
	assert.Len(t, truncateURL(long), 123)
	assert.Equal(t, "short", truncateURL("short"))
}

// fakeBrowser is a DevTools websocket endpoint that accepts any command and
// attaches every target as session S1.
type fakeBrowser struct {
	mu   sync.Mutex
	conn net.Conn
}

var fakeResults = map[string]string{
	"Target.attachToTarget": `{"sessionId":"S1"}`,
	"Runtime.evaluate":      `{"result":{"type":"object","className":"Window"}}`,
	"Page.getFrameTree":     `{"frameTree":{"frame":{"id":"F1","loaderId":"L1","url":"about:blank","securityOrigin":"","mimeType":"text/html"}}}`,
	"DOM.getDocument":       `{"root":{"nodeId":1,"backendNodeId":1,"nodeType":9,"nodeName":"#document","localName":"","nodeValue":""}}`,
}

func newFakeBrowser(t *testing.T) (*fakeBrowser, string) {
	t.Helper()
	fb := &fakeBrowser{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		fb.mu.Lock()
		fb.conn = conn
		fb.mu.Unlock()
		for {
			data, err := wsutil.ReadClientText(conn)
			if err != nil {
				return
			}
			var req struct {
				ID        int64  `json:"id"`
				SessionID string `json:"sessionId"`
				Method    string `json:"method"`
			}
			if json.Unmarshal(data, &req) != nil {
				continue
			}
			result, ok := fakeResults[req.Method]
			if !ok {
				result = "{}"
			}
			reply := map[string]any{"id": req.ID, "result": json.RawMessage(result)}
			if req.SessionID != "" {
				reply["sessionId"] = req.SessionID
			}
			raw, _ := json.Marshal(reply)
			if fb.send(string(raw)) != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return fb, "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/fake"
}

func (fb *fakeBrowser) send(msg string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.conn == nil {
		return net.ErrClosed
	}
	return wsutil.WriteServerText(fb.conn, []byte(msg))
}

func TestAttachedTabOutlivesCallerContext(t *testing.T) {
	fb, wsURL := newFakeBrowser(t)
	calls := make(chan navCall, 4)
	w := New(wsURL, "", func(tabID string, main bool) { calls <- navCall{tabID, main} })
	w.allocCtx, w.allocCancel = chromedp.NewRemoteAllocator(context.Background(), wsURL)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, w.attach(ctx, "T1", "about:blank"))
	cancel()
	assert.Equal(t, 1, w.Count())

	require.NoError(t, fb.send(`{"method":"Page.frameNavigated","sessionId":"S1","params":{"frame":{"id":"F1","loaderId":"L2","url":"https://b.test/","securityOrigin":"https://b.test","mimeType":"text/html"}}}`))

	select {
	case got := <-calls:
		assert.Equal(t, navCall{"T1", true}, got)
	case <-time.After(3 * time.Second):
		t.Fatal("no navigation reported after attach returned")
	}
}

func TestAttachHonorsCallerContext(t *testing.T) {
	w := New("", "", nil)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, rw)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, err := wsutil.ReadClientText(conn); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/mute"
	w.allocCtx, w.allocCancel = chromedp.NewRemoteAllocator(context.Background(), wsURL)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := w.attach(ctx, "T1", "about:blank")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, w.Count())
}
