// Package controller is the control surface: it resolves tabs, forwards
// table requests to the content context and run requests to the background,
// and keeps each tab's session state.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/PandasTableScraper/internal/cdpcontrol"
	"github.com/dgnsrekt/PandasTableScraper/internal/export"
	"github.com/dgnsrekt/PandasTableScraper/internal/relay"
	"github.com/dgnsrekt/PandasTableScraper/internal/session"
	"github.com/dgnsrekt/PandasTableScraper/internal/storage"
	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

// ActiveTab is the tab id alias for whichever tab is currently active.
const ActiveTab = "active"

// DefaultCode is the editor content of a tab that has no saved code.
const DefaultCode = `# 'df' contains the selected table
import matplotlib.pyplot as plt

print("Shape:", df.shape)
print("Columns:", df.columns.tolist())

# Try creating a plot (example)
# df.plot(kind='bar')
# plt.show()

df.head()`

// Tabs lists and loads tabs. It is the part of the content backend that is
// not carried over the relay.
type Tabs interface {
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	ActiveTab(ctx context.Context) (cdpcontrol.TabInfo, error)
	Open(ctx context.Context, url string) (cdpcontrol.TabInfo, error)
	Navigate(ctx context.Context, tabID, url string) error
	Activate(ctx context.Context, tabID string) error
}

// Journal records run outcomes.
type Journal interface {
	Record(rec storage.RunRecord) error
}

// Artifacts persists run outputs.
type Artifacts interface {
	WritePlot(tabID, runID, b64 string) (string, error)
	WriteCSV(tabID, name, csv string) (string, error)
}

type MessagePort = relay.Port[relay.Message, relay.Reply]

// Deps wires a Service. Journal and Artifacts are optional.
type Deps struct {
	Tabs       Tabs
	Content    *MessagePort
	Background *MessagePort
	Sessions   *session.Store
	Journal    Journal
	Artifacts  Artifacts
	RunTimeout time.Duration
}

// Service implements the control surface operations.
type Service struct {
	tabs       Tabs
	content    *MessagePort
	background *MessagePort
	sessions   *session.Store
	journal    Journal
	artifacts  Artifacts
	runTimeout time.Duration
	now        func() time.Time
}

func NewService(d Deps) *Service {
	sessions := d.Sessions
	if sessions == nil {
		sessions = session.NewStore()
	}
	return &Service{
		tabs:       d.Tabs,
		content:    d.Content,
		background: d.Background,
		sessions:   sessions,
		journal:    d.Journal,
		artifacts:  d.Artifacts,
		runTimeout: d.RunTimeout,
		now:        time.Now,
	}
}

// RunResult is a RUN_PYTHON reply together with its run id.
type RunResult struct {
	RunID   string
	TabID   string
	TableID string
	Rows    int
	Reply   relay.Reply
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func (s *Service) ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error) {
	return s.tabs.ListTabs(ctx)
}

func (s *Service) OpenTab(ctx context.Context, url string) (cdpcontrol.TabInfo, error) {
	if err := s.requireNonEmpty(url, "url"); err != nil {
		return cdpcontrol.TabInfo{}, err
	}
	return s.tabs.Open(ctx, strings.TrimSpace(url))
}

func (s *Service) NavigateTab(ctx context.Context, tabID, url string) (string, error) {
	if err := s.requireNonEmpty(url, "url"); err != nil {
		return "", err
	}
	id, err := s.ResolveTab(ctx, tabID)
	if err != nil {
		return "", err
	}
	return id, s.tabs.Navigate(ctx, id, strings.TrimSpace(url))
}

// ActivateTab makes tabID the tab "active" resolves to.
func (s *Service) ActivateTab(ctx context.Context, tabID string) (string, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return "", err
	}
	id, err := s.ResolveTab(ctx, tabID)
	if err != nil {
		return "", err
	}
	return id, s.tabs.Activate(ctx, id)
}

// ResolveTab maps "" and "active" to the active tab id.
func (s *Service) ResolveTab(ctx context.Context, tabID string) (string, error) {
	tabID = strings.TrimSpace(tabID)
	if tabID != "" && !strings.EqualFold(tabID, ActiveTab) {
		return tabID, nil
	}
	info, err := s.tabs.ActiveTab(ctx)
	if err != nil {
		return "", err
	}
	return info.TabID, nil
}

// DetectTables detects the tables of a tab and stores them in its session.
// The stored selection survives when the table is still present; otherwise
// the first table is selected and highlighted.
func (s *Service) DetectTables(ctx context.Context, tabID string) (string, []tables.Summary, error) {
	id, err := s.ResolveTab(ctx, tabID)
	if err != nil {
		return "", nil, err
	}
	reply, err := s.ask(ctx, s.content, relay.Message{Type: relay.TypeDetectTables, TabID: id})
	if err != nil {
		return id, nil, err
	}
	found := reply.Tables
	if found == nil {
		found = []tables.Summary{}
	}

	var highlight string
	s.sessions.Update(id, func(st *session.State) {
		st.Tables = found
		if !containsTable(found, st.SelectedTableID) {
			st.SelectedTableID = ""
			if len(found) > 0 {
				st.SelectedTableID = found[0].ID
				highlight = found[0].ID
			}
		}
	})
	if highlight != "" {
		if err := s.highlight(ctx, id, highlight); err != nil {
			slog.Debug("auto highlight failed", "tab_id", id, "table_id", highlight, "error", err)
		}
	}
	return id, found, nil
}

func (s *Service) ExtractTable(ctx context.Context, tabID, tableID string) ([]tables.Record, error) {
	if err := s.requireNonEmpty(tableID, "table_id"); err != nil {
		return nil, err
	}
	id, err := s.ResolveTab(ctx, tabID)
	if err != nil {
		return nil, err
	}
	return s.extract(ctx, id, strings.TrimSpace(tableID))
}

// HighlightTable outlines a table and makes it the tab's selection.
func (s *Service) HighlightTable(ctx context.Context, tabID, tableID string) error {
	if err := s.requireNonEmpty(tableID, "table_id"); err != nil {
		return err
	}
	id, err := s.ResolveTab(ctx, tabID)
	if err != nil {
		return err
	}
	tableID = strings.TrimSpace(tableID)
	if err := s.highlight(ctx, id, tableID); err != nil {
		return err
	}
	s.sessions.Update(id, func(st *session.State) { st.SelectedTableID = tableID })
	return nil
}

// RunPython runs code against data through the background context. tabID
// is optional; when set the result updates that tab's session.
func (s *Service) RunPython(ctx context.Context, tabID, code string, data []tables.Record) (RunResult, error) {
	if err := s.requireNonEmpty(code, "code"); err != nil {
		return RunResult{}, err
	}
	return s.run(ctx, strings.TrimSpace(tabID), "", code, data), nil
}

// RunOnTable extracts a table and runs code on it. Empty code falls back to
// the tab's saved code; an empty table id to the tab's selection.
func (s *Service) RunOnTable(ctx context.Context, tabID, tableID, code string) (RunResult, error) {
	id, err := s.ResolveTab(ctx, tabID)
	if err != nil {
		return RunResult{}, err
	}
	st := s.GetSession(id)
	if strings.TrimSpace(tableID) == "" {
		tableID = st.SelectedTableID
	}
	if strings.TrimSpace(code) == "" {
		code = st.Code
	}
	if err := s.requireNonEmpty(tableID, "table_id"); err != nil {
		return RunResult{}, err
	}
	tableID = strings.TrimSpace(tableID)

	rows, err := s.extract(ctx, id, tableID)
	if err != nil {
		return RunResult{}, err
	}
	s.sessions.Update(id, func(st *session.State) {
		st.Code = code
		st.SelectedTableID = tableID
	})
	return s.run(ctx, id, tableID, code, rows), nil
}

func (s *Service) run(ctx context.Context, tabID, tableID, code string, data []tables.Record) RunResult {
	res := RunResult{RunID: uuid.NewString(), TabID: tabID, TableID: tableID, Rows: len(data)}
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	started := s.now()
	reply, err := s.background.Send(ctx, relay.Message{
		Type:      relay.TypeRunPython,
		RequestID: res.RunID,
		TabID:     tabID,
		Code:      code,
		Data:      data,
	})
	if err != nil {
		reply = relay.ErrorReply(cdpcontrol.CodeExecution, err.Error())
	}
	reply.For = relay.TypeRunPython
	res.Reply = reply
	finished := s.now()

	if reply.IsError() {
		slog.Info("run failed", "run_id", res.RunID, "tab_id", tabID, "error", reply.Error)
	} else {
		slog.Info("run complete", "run_id", res.RunID, "tab_id", tabID, "rows", res.Rows, "duration", finished.Sub(started))
		if tabID != "" {
			s.sessions.Update(tabID, func(st *session.State) {
				st.LastCSV = reply.CSV
				st.HasCSV = reply.CSV != ""
			})
		}
	}
	s.record(res, started, finished)
	return res
}

func (s *Service) record(res RunResult, started, finished time.Time) {
	reply := res.Reply
	rec := storage.RunRecord{
		ID:         res.RunID,
		TabID:      res.TabID,
		TableID:    res.TableID,
		Rows:       res.Rows,
		Status:     string(reply.Type),
		Error:      reply.Error,
		HasPlot:    reply.Plot != "",
		HasCSV:     reply.CSV != "",
		Duration:   finished.Sub(started),
		StartedAt:  started,
		FinishedAt: finished,
	}
	if s.artifacts != nil && !reply.IsError() {
		if reply.Plot != "" {
			if path, err := s.artifacts.WritePlot(res.TabID, res.RunID, reply.Plot); err != nil {
				slog.Warn("plot artifact write failed", "run_id", res.RunID, "error", err)
			} else {
				rec.Artifacts = append(rec.Artifacts, path)
			}
		}
		if reply.CSV != "" {
			if path, err := s.artifacts.WriteCSV(res.TabID, res.RunID+".csv", reply.CSV); err != nil {
				slog.Warn("csv artifact write failed", "run_id", res.RunID, "error", err)
			} else {
				rec.Artifacts = append(rec.Artifacts, path)
			}
		}
	}
	if s.journal != nil {
		if err := s.journal.Record(rec); err != nil {
			slog.Debug("run journal record failed", "run_id", res.RunID, "error", err)
		}
	}
}

// GetSession returns the stored state of a tab, or a fresh one holding the
// default code.
func (s *Service) GetSession(tabID string) session.State {
	if st, ok := s.sessions.Get(tabID); ok {
		if st.Code == "" {
			st.Code = DefaultCode
		}
		if st.Tables == nil {
			st.Tables = []tables.Summary{}
		}
		return st
	}
	return session.State{TabID: tabID, Code: DefaultCode, Tables: []tables.Summary{}}
}

// SessionFor resolves tabID and returns its state.
func (s *Service) SessionFor(ctx context.Context, tabID string) (session.State, error) {
	id, err := s.ResolveTab(ctx, tabID)
	if err != nil {
		return session.State{}, err
	}
	return s.GetSession(id), nil
}

// PutSession stores the editable parts of a tab's state. Nil fields are left
// unchanged.
func (s *Service) PutSession(ctx context.Context, tabID string, code, selectedTableID *string) (session.State, error) {
	id, err := s.ResolveTab(ctx, tabID)
	if err != nil {
		return session.State{}, err
	}
	s.sessions.Update(id, func(st *session.State) {
		if code != nil {
			st.Code = *code
		}
		if selectedTableID != nil {
			st.SelectedTableID = strings.TrimSpace(*selectedTableID)
		}
	})
	return s.GetSession(id), nil
}

// ListSessions returns every stored tab state ordered by tab id.
func (s *Service) ListSessions() []session.State {
	return s.sessions.List()
}

// DeleteSession forgets the stored state of a tab; its next session read
// starts from the default code.
func (s *Service) DeleteSession(ctx context.Context, tabID string) (string, error) {
	id, err := s.ResolveTab(ctx, tabID)
	if err != nil {
		return "", err
	}
	s.sessions.Delete(id)
	slog.Debug("tab session deleted", "tab_id", id)
	return id, nil
}

// ExportCSV returns a download name and the last CSV produced for a tab.
func (s *Service) ExportCSV(ctx context.Context, tabID string) (string, string, error) {
	id, err := s.ResolveTab(ctx, tabID)
	if err != nil {
		return "", "", err
	}
	st, ok := s.sessions.Get(id)
	if !ok || st.LastCSV == "" {
		return "", "", &cdpcontrol.CodedError{Code: cdpcontrol.CodeExportNotFound, Message: "no CSV for tab " + id}
	}
	return export.Filename(s.now()), st.LastCSV, nil
}

// Dispatch answers a relay envelope from an external control surface. It
// never fails; errors come back as ERROR replies.
func (s *Service) Dispatch(ctx context.Context, msg relay.Message) relay.Reply {
	fail := func(err error) relay.Reply {
		reply := replyFromError(err)
		reply.For = msg.Type
		return reply
	}
	switch msg.Type {
	case relay.TypeDetectTables:
		_, found, err := s.DetectTables(ctx, msg.TabID)
		if err != nil {
			return fail(err)
		}
		return relay.Reply{For: msg.Type, Tables: found}
	case relay.TypeExtractTable:
		rows, err := s.ExtractTable(ctx, msg.TabID, msg.TableID)
		if err != nil {
			return fail(err)
		}
		return relay.Reply{For: msg.Type, Data: rows}
	case relay.TypeHighlightTable:
		if err := s.HighlightTable(ctx, msg.TabID, msg.TableID); err != nil {
			return fail(err)
		}
		return relay.Reply{For: msg.Type}
	case relay.TypeRunPython:
		tabID := strings.TrimSpace(msg.TabID)
		if strings.EqualFold(tabID, ActiveTab) {
			id, err := s.ResolveTab(ctx, tabID)
			if err != nil {
				return fail(err)
			}
			tabID = id
		}
		res, err := s.RunPython(ctx, tabID, msg.Code, msg.Data)
		if err != nil {
			return fail(err)
		}
		return res.Reply
	}
	return fail(&cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "unsupported message type " + string(msg.Type)})
}

func (s *Service) extract(ctx context.Context, tabID, tableID string) ([]tables.Record, error) {
	reply, err := s.ask(ctx, s.content, relay.Message{Type: relay.TypeExtractTable, TabID: tabID, TableID: tableID})
	if err != nil {
		return nil, err
	}
	if reply.Data == nil {
		return []tables.Record{}, nil
	}
	return reply.Data, nil
}

func (s *Service) highlight(ctx context.Context, tabID, tableID string) error {
	_, err := s.ask(ctx, s.content, relay.Message{Type: relay.TypeHighlightTable, TabID: tabID, TableID: tableID})
	return err
}

// ask sends msg and turns ERROR replies into coded errors.
func (s *Service) ask(ctx context.Context, port *MessagePort, msg relay.Message) (relay.Reply, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	reply, err := port.Send(ctx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return relay.Reply{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeEvalTimeout, Message: string(msg.Type) + " timed out", Cause: err}
		}
		return relay.Reply{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: port.Name() + " unavailable", Cause: err}
	}
	if reply.IsError() {
		return reply, errorFromReply(reply)
	}
	return reply, nil
}

func errorFromReply(r relay.Reply) error {
	code := r.ErrorCode
	if code == "" {
		code = cdpcontrol.CodeEvalFailure
	}
	msg := r.Message
	if msg == "" {
		msg = r.Error
	}
	return &cdpcontrol.CodedError{Code: code, Message: msg}
}

func replyFromError(err error) relay.Reply {
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		reply := relay.ErrorReply(coded.Code, err.Error())
		reply.Message = coded.Message
		return reply
	}
	return relay.ErrorReply(cdpcontrol.CodeEvalFailure, err.Error())
}

func containsTable(list []tables.Summary, id string) bool {
	if id == "" {
		return false
	}
	for _, t := range list {
		if t.ID == id {
			return true
		}
	}
	return false
}
