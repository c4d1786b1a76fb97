// Package content answers table requests for a tab: detection, extraction
// and highlighting. A Backend does the page work; Handler speaks the relay
// protocol on top of it.
package content

import (
	"context"
	"time"

	"github.com/dgnsrekt/PandasTableScraper/internal/cdpcontrol"
	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

// Backend is a source of tabs whose tables can be read.
type Backend interface {
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	ActiveTab(ctx context.Context) (cdpcontrol.TabInfo, error)
	Open(ctx context.Context, url string) (cdpcontrol.TabInfo, error)
	Navigate(ctx context.Context, tabID, url string) error
	DetectTables(ctx context.Context, tabID string) ([]tables.Summary, error)
	ExtractTable(ctx context.Context, tabID, tableID string) ([]tables.Record, error)
	HighlightTable(ctx context.Context, tabID, tableID string, d time.Duration) error
	Close() error
}

var (
	_ Backend = (*Static)(nil)
	_ Backend = (*cdpcontrol.Client)(nil)
)
