package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/PandasTableScraper/internal/cdpcontrol"
	"github.com/dgnsrekt/PandasTableScraper/internal/relay"
	"github.com/dgnsrekt/PandasTableScraper/internal/session"
	"github.com/dgnsrekt/PandasTableScraper/internal/storage"
	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

type fakeTabs struct {
	active    string
	navigated []string
}

func (f *fakeTabs) Activate(_ context.Context, tabID string) error {
	if tabID == "tab-9" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not found: " + tabID}
	}
	f.active = tabID
	return nil
}

func (f *fakeTabs) ListTabs(context.Context) ([]cdpcontrol.TabInfo, error) {
	return []cdpcontrol.TabInfo{{TabID: f.active, Active: true}}, nil
}

func (f *fakeTabs) ActiveTab(context.Context) (cdpcontrol.TabInfo, error) {
	if f.active == "" {
		return cdpcontrol.TabInfo{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "no active tab"}
	}
	return cdpcontrol.TabInfo{TabID: f.active, Active: true}, nil
}

func (f *fakeTabs) Open(_ context.Context, url string) (cdpcontrol.TabInfo, error) {
	return cdpcontrol.TabInfo{TabID: "tab-new", URL: url}, nil
}

func (f *fakeTabs) Navigate(_ context.Context, tabID, url string) error {
	f.navigated = append(f.navigated, tabID+" "+url)
	return nil
}

type fakeJournal struct {
	mu   sync.Mutex
	recs []storage.RunRecord
}

func (j *fakeJournal) Record(rec storage.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return nil
}

type harness struct {
	svc        *Service
	tabs       *fakeTabs
	journal    *fakeJournal
	mu         sync.Mutex
	contentLog []relay.Message
	runLog     []relay.Message
}

func newHarness(t *testing.T, runReply func(relay.Message) relay.Reply) *harness {
	t.Helper()
	h := &harness{tabs: &fakeTabs{active: "tab-1"}, journal: &fakeJournal{}}

	content := relay.NewPort[relay.Message, relay.Reply]("content")
	background := relay.NewPort[relay.Message, relay.Reply]("background")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = content.Serve(ctx, func(_ context.Context, msg relay.Message) relay.Reply {
			h.mu.Lock()
			h.contentLog = append(h.contentLog, msg)
			h.mu.Unlock()
			switch msg.Type {
			case relay.TypeDetectTables:
				return relay.Reply{For: msg.Type, Tables: []tables.Summary{
					{ID: "prices", HasHeader: true, Name: "Prices"},
					{ID: "table-1", Name: "table-1"},
				}}
			case relay.TypeExtractTable:
				if msg.TableID != "prices" {
					return relay.Reply{For: msg.Type}
				}
				return relay.Reply{For: msg.Type, Data: []tables.Record{
					{{Name: "Item", Value: "Apple"}, {Name: "Price", Value: "$1.20"}},
				}}
			case relay.TypeHighlightTable:
				return relay.Reply{For: msg.Type}
			}
			return relay.ErrorReply(cdpcontrol.CodeValidation, "unsupported")
		})
	}()
	go func() {
		_ = background.Serve(ctx, func(_ context.Context, msg relay.Message) relay.Reply {
			h.mu.Lock()
			h.runLog = append(h.runLog, msg)
			h.mu.Unlock()
			return runReply(msg)
		})
	}()

	h.svc = NewService(Deps{
		Tabs:       h.tabs,
		Content:    content,
		Background: background,
		Sessions:   session.NewStore(),
		Journal:    h.journal,
	})
	return h
}

func completeWithCSV(msg relay.Message) relay.Reply {
	return relay.Reply{Type: relay.TypeRunComplete, Stdout: msg.Code, CSV: "Item,Price\nApple,1.2\n"}
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	require.NoError(t, s.requireNonEmpty("prices", "table_id"))

	err := s.requireNonEmpty("   ", "table_id")
	var got *cdpcontrol.CodedError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, cdpcontrol.CodeValidation, got.Code)
	assert.Equal(t, "table_id is required", got.Message)
}

func TestRunPythonRequiresCode(t *testing.T) {
	s := &Service{}
	_, err := s.RunPython(context.Background(), "", "  ", nil)
	var got *cdpcontrol.CodedError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, "code is required", got.Message)
}

func TestResolveTab(t *testing.T) {
	h := newHarness(t, completeWithCSV)
	for _, in := range []string{"", "active", " ACTIVE "} {
		id, err := h.svc.ResolveTab(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, "tab-1", id)
	}
	id, err := h.svc.ResolveTab(context.Background(), "tab-7")
	require.NoError(t, err)
	assert.Equal(t, "tab-7", id)

	h.tabs.active = ""
	_, err = h.svc.ResolveTab(context.Background(), "active")
	var got *cdpcontrol.CodedError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, cdpcontrol.CodeTabNotFound, got.Code)
}

func TestDetectTablesSelectsAndHighlightsFirst(t *testing.T) {
	h := newHarness(t, completeWithCSV)
	id, found, err := h.svc.DetectTables(context.Background(), "active")
	require.NoError(t, err)
	assert.Equal(t, "tab-1", id)
	require.Len(t, found, 2)

	st := h.svc.GetSession("tab-1")
	assert.Equal(t, "prices", st.SelectedTableID)
	assert.Equal(t, DefaultCode, st.Code)
	assert.Len(t, st.Tables, 2)

	h.mu.Lock()
	require.Len(t, h.contentLog, 2)
	assert.Equal(t, relay.TypeHighlightTable, h.contentLog[1].Type)
	assert.Equal(t, "prices", h.contentLog[1].TableID)
	h.mu.Unlock()

	require.NoError(t, h.svc.HighlightTable(context.Background(), "tab-1", "table-1"))
	_, _, err = h.svc.DetectTables(context.Background(), "tab-1")
	require.NoError(t, err)
	assert.Equal(t, "table-1", h.svc.GetSession("tab-1").SelectedTableID)
}

func TestRunOnTableUsesSessionAndStoresCSV(t *testing.T) {
	h := newHarness(t, completeWithCSV)
	ctx := context.Background()

	_, _, err := h.svc.DetectTables(ctx, "tab-1")
	require.NoError(t, err)

	res, err := h.svc.RunOnTable(ctx, "tab-1", "", "print(df)")
	require.NoError(t, err)
	assert.Equal(t, relay.TypeRunComplete, res.Reply.Type)
	assert.Equal(t, "prices", res.TableID)
	assert.Equal(t, 1, res.Rows)
	assert.NotEmpty(t, res.RunID)

	h.mu.Lock()
	require.Len(t, h.runLog, 1)
	assert.Equal(t, relay.TypeRunPython, h.runLog[0].Type)
	assert.Equal(t, res.RunID, h.runLog[0].RequestID)
	require.Len(t, h.runLog[0].Data, 1)
	h.mu.Unlock()

	st := h.svc.GetSession("tab-1")
	assert.Equal(t, "print(df)", st.Code)
	assert.True(t, st.HasCSV)

	name, csv, err := h.svc.ExportCSV(ctx, "active")
	require.NoError(t, err)
	assert.Regexp(t, `^table_export_\d+\.csv$`, name)
	assert.Equal(t, "Item,Price\nApple,1.2\n", csv)

	h.journal.mu.Lock()
	require.Len(t, h.journal.recs, 1)
	assert.Equal(t, "RUN_COMPLETE", h.journal.recs[0].Status)
	assert.Equal(t, "tab-1", h.journal.recs[0].TabID)
	h.journal.mu.Unlock()
}

func TestRunOnTableNeedsSelection(t *testing.T) {
	h := newHarness(t, completeWithCSV)
	_, err := h.svc.RunOnTable(context.Background(), "tab-1", "", "df")
	var got *cdpcontrol.CodedError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, "table_id is required", got.Message)
}

func TestRunErrorKeepsPreviousCSV(t *testing.T) {
	fail := false
	var mu sync.Mutex
	h := newHarness(t, func(msg relay.Message) relay.Reply {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return relay.ErrorReply(cdpcontrol.CodeExecution, "NameError: name 'x' is not defined")
		}
		return completeWithCSV(msg)
	})
	ctx := context.Background()

	_, err := h.svc.RunOnTable(ctx, "tab-1", "prices", "df")
	require.NoError(t, err)

	mu.Lock()
	fail = true
	mu.Unlock()
	res, err := h.svc.RunOnTable(ctx, "tab-1", "prices", "x")
	require.NoError(t, err)
	assert.True(t, res.Reply.IsError())
	assert.Contains(t, res.Reply.Error, "NameError")
	assert.True(t, h.svc.GetSession("tab-1").HasCSV)

	mu.Lock()
	fail = false
	mu.Unlock()
	res, err = h.svc.RunOnTable(ctx, "tab-1", "prices", "df")
	require.NoError(t, err)
	assert.False(t, res.Reply.IsError())
}

func TestExportWithoutCSV(t *testing.T) {
	h := newHarness(t, completeWithCSV)
	_, _, err := h.svc.ExportCSV(context.Background(), "tab-1")
	var got *cdpcontrol.CodedError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, cdpcontrol.CodeExportNotFound, got.Code)
}

func TestRunTimeoutBecomesErrorReply(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	h := newHarness(t, func(relay.Message) relay.Reply {
		<-block
		return relay.Reply{Type: relay.TypeRunComplete}
	})
	h.svc.runTimeout = 20 * time.Millisecond

	res, err := h.svc.RunPython(context.Background(), "", "while True: pass", nil)
	require.NoError(t, err)
	assert.True(t, res.Reply.IsError())
	assert.Equal(t, cdpcontrol.CodeExecution, res.Reply.ErrorCode)
}

func TestPutSessionAndNavigate(t *testing.T) {
	h := newHarness(t, completeWithCSV)
	ctx := context.Background()

	code := "df.describe()"
	st, err := h.svc.PutSession(ctx, "active", &code, nil)
	require.NoError(t, err)
	assert.Equal(t, "df.describe()", st.Code)
	assert.Empty(t, st.SelectedTableID)

	id, err := h.svc.NavigateTab(ctx, "", "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "tab-1", id)
	assert.Equal(t, []string{"tab-1 https://example.com/"}, h.tabs.navigated)

	_, err = h.svc.NavigateTab(ctx, "", " ")
	assert.Error(t, err)
}

func TestDispatch(t *testing.T) {
	h := newHarness(t, completeWithCSV)
	ctx := context.Background()

	detect := h.svc.Dispatch(ctx, relay.Message{Type: relay.TypeDetectTables})
	assert.False(t, detect.IsError())
	assert.Len(t, detect.Tables, 2)

	extract := h.svc.Dispatch(ctx, relay.Message{Type: relay.TypeExtractTable, TableID: "missing"})
	assert.Equal(t, relay.TypeExtractTable, extract.For)
	assert.Empty(t, extract.Data)

	run := h.svc.Dispatch(ctx, relay.Message{Type: relay.TypeRunPython, TabID: "active", Code: "df"})
	assert.Equal(t, relay.TypeRunComplete, run.Type)
	assert.True(t, h.svc.GetSession("tab-1").HasCSV)

	bad := h.svc.Dispatch(ctx, relay.Message{Type: relay.TypeRunCode})
	assert.True(t, bad.IsError())
	assert.Equal(t, cdpcontrol.CodeValidation, bad.ErrorCode)

	noTable := h.svc.Dispatch(ctx, relay.Message{Type: relay.TypeHighlightTable})
	assert.True(t, noTable.IsError())
	assert.Equal(t, "table_id is required", noTable.Message)
}

func TestActivateTab(t *testing.T) {
	h := newHarness(t, completeWithCSV)
	ctx := context.Background()

	id, err := h.svc.ActivateTab(ctx, "tab-2")
	require.NoError(t, err)
	assert.Equal(t, "tab-2", id)

	resolved, err := h.svc.ResolveTab(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, "tab-2", resolved)

	_, err = h.svc.ActivateTab(ctx, "tab-9")
	var coded *cdpcontrol.CodedError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, cdpcontrol.CodeTabNotFound, coded.Code)

	_, err = h.svc.ActivateTab(ctx, " ")
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, cdpcontrol.CodeValidation, coded.Code)
}

func TestListAndDeleteSessions(t *testing.T) {
	h := newHarness(t, completeWithCSV)
	ctx := context.Background()

	code := "df.tail()"
	_, err := h.svc.PutSession(ctx, "tab-1", &code, nil)
	require.NoError(t, err)
	_, err = h.svc.PutSession(ctx, "tab-0", &code, nil)
	require.NoError(t, err)

	list := h.svc.ListSessions()
	require.Len(t, list, 2)
	assert.Equal(t, "tab-0", list[0].TabID)

	id, err := h.svc.DeleteSession(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, "tab-1", id)
	require.Len(t, h.svc.ListSessions(), 1)
	assert.Equal(t, DefaultCode, h.svc.GetSession("tab-1").Code)
}
