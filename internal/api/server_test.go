package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/PandasTableScraper/internal/cdpcontrol"
	"github.com/dgnsrekt/PandasTableScraper/internal/controller"
	"github.com/dgnsrekt/PandasTableScraper/internal/relay"
	"github.com/dgnsrekt/PandasTableScraper/internal/session"
	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

type stubService struct {
	detectErr error
	rows      []tables.Record
	run       controller.RunResult
	lastCode  string
	csv       string
	deleted   []string
}

func (s *stubService) ListTabs(context.Context) ([]cdpcontrol.TabInfo, error) {
	return []cdpcontrol.TabInfo{{TabID: "tab-1", URL: "file:///tmp/prices.html", Active: true}}, nil
}

func (s *stubService) OpenTab(_ context.Context, url string) (cdpcontrol.TabInfo, error) {
	if url == "" {
		return cdpcontrol.TabInfo{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "url is required"}
	}
	return cdpcontrol.TabInfo{TabID: "tab-2", URL: url, Active: true}, nil
}

func (s *stubService) NavigateTab(_ context.Context, tabID, _ string) (string, error) {
	return tabID, nil
}

func (s *stubService) ActivateTab(_ context.Context, tabID string) (string, error) {
	if tabID != "tab-1" {
		return "", &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not found: " + tabID}
	}
	return tabID, nil
}

func (s *stubService) ListSessions() []session.State {
	return []session.State{{TabID: "tab-1", Code: "df", Tables: []tables.Summary{}}}
}

func (s *stubService) DeleteSession(_ context.Context, tabID string) (string, error) {
	s.deleted = append(s.deleted, tabID)
	return tabID, nil
}

func (s *stubService) DetectTables(_ context.Context, tabID string) (string, []tables.Summary, error) {
	if s.detectErr != nil {
		return "", nil, s.detectErr
	}
	return "tab-1", []tables.Summary{{ID: "prices", HasHeader: true, Name: "Prices"}}, nil
}

func (s *stubService) ExtractTable(context.Context, string, string) ([]tables.Record, error) {
	return s.rows, nil
}

func (s *stubService) HighlightTable(context.Context, string, string) error { return nil }

func (s *stubService) RunPython(_ context.Context, _ string, code string, _ []tables.Record) (controller.RunResult, error) {
	s.lastCode = code
	return s.run, nil
}

func (s *stubService) RunOnTable(_ context.Context, _, _, code string) (controller.RunResult, error) {
	s.lastCode = code
	return s.run, nil
}

func (s *stubService) SessionFor(_ context.Context, tabID string) (session.State, error) {
	return session.State{TabID: tabID, Code: controller.DefaultCode, Tables: []tables.Summary{}}, nil
}

func (s *stubService) PutSession(_ context.Context, tabID string, code, _ *string) (session.State, error) {
	st := session.State{TabID: tabID, Tables: []tables.Summary{}}
	if code != nil {
		st.Code = *code
	}
	return st, nil
}

func (s *stubService) ExportCSV(context.Context, string) (string, string, error) {
	if s.csv == "" {
		return "", "", &cdpcontrol.CodedError{Code: cdpcontrol.CodeExportNotFound, Message: "no CSV for tab tab-1"}
	}
	return "table_export_1700000000000.csv", s.csv, nil
}

func (s *stubService) Dispatch(context.Context, relay.Message) relay.Reply {
	return relay.Reply{For: relay.TypeHighlightTable}
}

func newTestServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(svc, relay.NewBroker()))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestDocsUsesDarkMode(t *testing.T) {
	assert.Contains(t, docsHTML, `data-theme="dark"`)
	assert.Contains(t, docsHTML, "darkMode")
	assert.Contains(t, docsHTML, `href="/docs/relay"`)
	assert.Contains(t, relayDocsHTML, `data-theme="dark"`)
}

func TestDocsRoutesServeHTML(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	for _, path := range []string{"/docs", "/docs/relay"} {
		resp, body := doJSON(t, http.MethodGet, srv.URL+path, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "text/html", resp.Header.Get("Content-Type"), path)
		assert.Contains(t, string(body), "Pandas Table Scraper", path)
	}
}

func TestMapErr(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{cdpcontrol.CodeValidation, http.StatusBadRequest},
		{cdpcontrol.CodeTabNotFound, http.StatusNotFound},
		{cdpcontrol.CodeExportNotFound, http.StatusNotFound},
		{cdpcontrol.CodeEvalTimeout, http.StatusGatewayTimeout},
		{cdpcontrol.CodeCDPUnavailable, http.StatusBadGateway},
		{cdpcontrol.CodeExecution, http.StatusInternalServerError},
		{cdpcontrol.CodeEvalFailure, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := mapErr(&cdpcontrol.CodedError{Code: tc.code, Message: "boom"})
		var se huma.StatusError
		require.True(t, errors.As(err, &se), tc.code)
		assert.Equal(t, tc.status, se.GetStatus(), tc.code)
	}

	var se huma.StatusError
	require.True(t, errors.As(mapErr(errors.New("plain")), &se))
	assert.Equal(t, http.StatusInternalServerError, se.GetStatus())
	assert.NoError(t, mapErr(nil))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, stripSchema(t, body))
}

func TestDetectAndExtract(t *testing.T) {
	rec := tables.Record{}
	rec.Set("Item", "Apple")
	rec.Set("Price", "1.20")
	srv := newTestServer(t, &stubService{rows: []tables.Record{rec}})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tabs/active/tables", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"tab_id":"tab-1","tables":[{"id":"prices","hasHeader":true,"name":"Prices"}]}`, stripSchema(t, body))

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tabs/tab-1/tables/prices/data", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"data":[{"Item":"Apple","Price":"1.20"}]`)
}

func TestDetectErrorStatus(t *testing.T) {
	svc := &stubService{detectErr: &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: "tab not found: nope"}}
	srv := newTestServer(t, svc)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tabs/nope/tables", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "tab not found: nope")
}

func TestOpenTabValidation(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tabs", `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tabs", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"tab_id":"tab-2"`)
}

func TestRunReturnsErrorReplyWithOK(t *testing.T) {
	svc := &stubService{run: controller.RunResult{
		RunID: "run-1",
		Reply: relay.ErrorReply(cdpcontrol.CodeExecution, "NameError: name 'x' is not defined"),
	}}
	srv := newTestServer(t, svc)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/run", `{"code":"x","data":[{"a":"1"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "x", svc.lastCode)

	var got runBody
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ERROR", got.Type)
	assert.Equal(t, "NameError: name 'x' is not defined", got.Error)
	assert.Equal(t, got.Error, got.Console)
}

func TestRunOnTableDecodesResult(t *testing.T) {
	svc := &stubService{run: controller.RunResult{
		RunID:   "run-2",
		TabID:   "tab-1",
		TableID: "prices",
		Rows:    3,
		Reply: relay.Reply{
			Type:   relay.TypeRunComplete,
			Result: json.RawMessage(`{"rows":3}`),
			Stdout: "Shape: (3, 2)",
			CSV:    "Item,Price\n",
		},
	}}
	srv := newTestServer(t, svc)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tabs/tab-1/run", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got runBody
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "RUN_COMPLETE", got.Type)
	assert.Equal(t, 3, got.Rows)
	assert.Equal(t, map[string]any{"rows": float64(3)}, got.Result)
	assert.Equal(t, "Shape: (3, 2)\n{\n  \"rows\": 3\n}", got.Console)
}

func TestExportCSV(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tabs/tab-1/export", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv = newTestServer(t, &stubService{csv: "Item,Price\nApple,1.20\n"})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tabs/tab-1/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="table_export_1700000000000.csv"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "Item,Price\nApple,1.20\n", string(body))
}

func TestSessionRoundTrip(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tabs/tab-1/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"tables":[]`)
	assert.Contains(t, string(body), "df.head()")

	resp, body = doJSON(t, http.MethodPut, srv.URL+"/api/v1/tabs/tab-1/session", `{"code":"df.tail()"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"code":"df.tail()"`)
}

// stripSchema drops the $schema link huma adds to JSON bodies.
func stripSchema(t *testing.T, body []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	delete(m, "$schema")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}

func TestActivateTab(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tabs/tab-1/activate", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"tab_id":"tab-1","status":"activated"}`, string(body))

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tabs/tab-9/activate", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAndDeleteSessions(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var listed struct {
		Sessions []session.State `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Sessions, 1)
	assert.Equal(t, "tab-1", listed.Sessions[0].TabID)

	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/tabs/tab-1/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, []string{"tab-1"}, svc.deleted)
}
