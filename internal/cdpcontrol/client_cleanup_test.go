package cdpcontrol

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/target"
)

func TestCleanupLockedLogsDetachFailure(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	c := &Client{
		cdp: &rawCDP{},
		tabs: map[target.ID]*tabSession{
			"tab-1": {sessionID: "session-1"},
		},
		order: []target.ID{"tab-1"},
	}
	c.cleanupLocked()

	if !strings.Contains(buf.String(), "detach cleanup failed") {
		t.Fatalf("expected detach cleanup debug log, got %q", buf.String())
	}
	if c.cdp != nil || len(c.tabs) != 0 || c.order != nil {
		t.Fatalf("cleanup left state behind: cdp=%v tabs=%d order=%v", c.cdp, len(c.tabs), c.order)
	}
}
