package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/PandasTableScraper/internal/controller"
	"github.com/dgnsrekt/PandasTableScraper/internal/export"
	"github.com/dgnsrekt/PandasTableScraper/internal/session"
	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

type runBody struct {
	RunID   string `json:"run_id"`
	TabID   string `json:"tab_id,omitempty"`
	TableID string `json:"table_id,omitempty"`
	Rows    int    `json:"rows"`
	Type    string `json:"type" enum:"RUN_COMPLETE,ERROR"`
	Result  any    `json:"result,omitempty"`
	Stdout  string `json:"stdout,omitempty"`
	HTML    string `json:"html,omitempty"`
	Plot    string `json:"plot,omitempty" doc:"Base64 PNG."`
	CSV     string `json:"csv,omitempty"`
	Error   string `json:"error,omitempty"`
	Console string `json:"console" doc:"Console pane text: stdout then the result."`
}

type runOutput struct {
	Body runBody
}

func toRunOutput(res controller.RunResult) *runOutput {
	r := res.Reply
	out := &runOutput{}
	out.Body = runBody{
		RunID:   res.RunID,
		TabID:   res.TabID,
		TableID: res.TableID,
		Rows:    res.Rows,
		Type:    string(r.Type),
		Stdout:  r.Stdout,
		HTML:    r.HTML,
		Plot:    r.Plot,
		CSV:     r.CSV,
		Error:   r.Error,
		Console: r.Console(),
	}
	if len(r.Result) > 0 {
		var v any
		if err := json.Unmarshal(r.Result, &v); err == nil {
			out.Body.Result = v
		}
	}
	return out
}

func registerRunHandlers(api huma.API, svc Service) {
	type runPythonInput struct {
		Body struct {
			Code  string     `json:"code"`
			Data  recordRows `json:"data,omitempty"`
			TabID string     `json:"tab_id,omitempty" doc:"Tab whose session receives the CSV result."`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "run-python", Method: http.MethodPost, Path: "/api/v1/run", Summary: "Run Python code on rows", Description: "Execution errors are returned with type ERROR and status 200.", Tags: []string{"Run"}},
		func(ctx context.Context, input *runPythonInput) (*runOutput, error) {
			res, err := svc.RunPython(ctx, input.Body.TabID, input.Body.Code, []tables.Record(input.Body.Data))
			if err != nil {
				return nil, mapErr(err)
			}
			return toRunOutput(res), nil
		})

	type runOnTableInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			TableID string `json:"table_id,omitempty" doc:"Defaults to the selected table."`
			Code    string `json:"code,omitempty" doc:"Defaults to the tab's saved code."`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "run-on-table", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/run", Summary: "Extract a table and run code on it", Tags: []string{"Run"}},
		func(ctx context.Context, input *runOnTableInput) (*runOutput, error) {
			res, err := svc.RunOnTable(ctx, input.TabID, input.Body.TableID, input.Body.Code)
			if err != nil {
				return nil, mapErr(err)
			}
			return toRunOutput(res), nil
		})

	type exportOutput struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}
	huma.Register(api, huma.Operation{OperationID: "export-csv", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/export", Summary: "Download the last CSV result", Tags: []string{"Run"}},
		func(ctx context.Context, input *tabIDInput) (*exportOutput, error) {
			name, csv, err := svc.ExportCSV(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &exportOutput{
				ContentType:        export.ContentType,
				ContentDisposition: export.Disposition(name),
				Body:               []byte(csv),
			}, nil
		})
}

func registerSessionHandlers(api huma.API, svc Service) {
	type sessionOutput struct {
		Body session.State
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/session", Summary: "Get tab session state", Tags: []string{"Session"}},
		func(ctx context.Context, input *tabIDInput) (*sessionOutput, error) {
			st, err := svc.SessionFor(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sessionOutput{}
			out.Body = st
			return out, nil
		})

	type putSessionInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			Code            *string `json:"code,omitempty"`
			SelectedTableID *string `json:"selected_table_id,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "put-session", Method: http.MethodPut, Path: "/api/v1/tabs/{tab_id}/session", Summary: "Save code or selection", Tags: []string{"Session"}},
		func(ctx context.Context, input *putSessionInput) (*sessionOutput, error) {
			st, err := svc.PutSession(ctx, input.TabID, input.Body.Code, input.Body.SelectedTableID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &sessionOutput{}
			out.Body = st
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "delete-session", Method: http.MethodDelete, Path: "/api/v1/tabs/{tab_id}/session", Summary: "Forget tab session state", Tags: []string{"Session"}},
		func(ctx context.Context, input *tabIDInput) (*statusOutput, error) {
			id, err := svc.DeleteSession(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.TabID = id
			out.Body.Status = "deleted"
			return out, nil
		})

	type listSessionsOutput struct {
		Body struct {
			Sessions []session.State `json:"sessions"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List stored tab sessions", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*listSessionsOutput, error) {
			out := &listSessionsOutput{}
			out.Body.Sessions = svc.ListSessions()
			return out, nil
		})
}
