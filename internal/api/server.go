package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/PandasTableScraper/internal/cdpcontrol"
	"github.com/dgnsrekt/PandasTableScraper/internal/controller"
	"github.com/dgnsrekt/PandasTableScraper/internal/relay"
	"github.com/dgnsrekt/PandasTableScraper/internal/session"
	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

type Service interface {
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	OpenTab(ctx context.Context, url string) (cdpcontrol.TabInfo, error)
	NavigateTab(ctx context.Context, tabID, url string) (string, error)
	ActivateTab(ctx context.Context, tabID string) (string, error)
	DetectTables(ctx context.Context, tabID string) (string, []tables.Summary, error)
	ExtractTable(ctx context.Context, tabID, tableID string) ([]tables.Record, error)
	HighlightTable(ctx context.Context, tabID, tableID string) error
	RunPython(ctx context.Context, tabID, code string, data []tables.Record) (controller.RunResult, error)
	RunOnTable(ctx context.Context, tabID, tableID, code string) (controller.RunResult, error)
	SessionFor(ctx context.Context, tabID string) (session.State, error)
	PutSession(ctx context.Context, tabID string, code, selectedTableID *string) (session.State, error)
	ListSessions() []session.State
	DeleteSession(ctx context.Context, tabID string) (string, error)
	ExportCSV(ctx context.Context, tabID string) (string, string, error)
	Dispatch(ctx context.Context, msg relay.Message) relay.Reply
}

var _ Service = (*controller.Service)(nil)

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"Tab id, or \"active\" for the active tab."`
}

type tableInput struct {
	TabID   string `path:"tab_id" doc:"Tab id, or \"active\" for the active tab."`
	TableID string `path:"table_id"`
}

type statusOutput struct {
	Body struct {
		TabID   string `json:"tab_id"`
		TableID string `json:"table_id,omitempty"`
		Status  string `json:"status"`
	}
}

// NewServer builds the HTTP surface. broker feeds the worker event stream.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Pandas Table Scraper API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/relay", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(relayDocsHTML)); err != nil {
			slog.Debug("relay docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(broker))
	}
	router.Get("/ws", relay.WSHandler(svc.Dispatch))

	registerHealthHandlers(api)
	registerTabHandlers(api, svc)
	registerTableHandlers(api, svc)
	registerRunHandlers(api, svc)
	registerSessionHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound, cdpcontrol.CodeExportNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}
