package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/PandasTableScraper/internal/cdpcontrol"
	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

func registerTabHandlers(api huma.API, svc Service) {
	type listTabsOutput struct {
		Body struct {
			Tabs []cdpcontrol.TabInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*listTabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listTabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	type openTabInput struct {
		Body struct {
			URL string `json:"url" doc:"http(s) or file URL, or a local path."`
		}
	}
	type tabOutput struct {
		Body cdpcontrol.TabInfo
	}
	huma.Register(api, huma.Operation{OperationID: "open-tab", Method: http.MethodPost, Path: "/api/v1/tabs", Summary: "Open a page in a new tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *openTabInput) (*tabOutput, error) {
			info, err := svc.OpenTab(ctx, input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabOutput{}
			out.Body = info
			return out, nil
		})

	type navigateInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			URL string `json:"url"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "navigate-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/navigate", Summary: "Load another page in a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *navigateInput) (*statusOutput, error) {
			id, err := svc.NavigateTab(ctx, input.TabID, input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.TabID = id
			out.Body.Status = "navigated"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "activate-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/activate", Summary: "Make a tab the active one", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*statusOutput, error) {
			id, err := svc.ActivateTab(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.TabID = id
			out.Body.Status = "activated"
			return out, nil
		})
}

func registerTableHandlers(api huma.API, svc Service) {
	type detectOutput struct {
		Body struct {
			TabID  string           `json:"tab_id"`
			Tables []tables.Summary `json:"tables"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "detect-tables", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/tables", Summary: "Detect visible tables", Tags: []string{"Tables"}},
		func(ctx context.Context, input *tabIDInput) (*detectOutput, error) {
			id, found, err := svc.DetectTables(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &detectOutput{}
			out.Body.TabID = id
			out.Body.Tables = found
			return out, nil
		})

	type extractOutput struct {
		Body struct {
			TableID string     `json:"table_id"`
			Data    recordRows `json:"data"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "extract-table", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/tables/{table_id}/data", Summary: "Extract table rows", Description: "Unknown table ids yield an empty data list.", Tags: []string{"Tables"}},
		func(ctx context.Context, input *tableInput) (*extractOutput, error) {
			rows, err := svc.ExtractTable(ctx, input.TabID, input.TableID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &extractOutput{}
			out.Body.TableID = input.TableID
			out.Body.Data = recordRows(rows)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "highlight-table", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/tables/{table_id}/highlight", Summary: "Outline a table and select it", Tags: []string{"Tables"}},
		func(ctx context.Context, input *tableInput) (*statusOutput, error) {
			if err := svc.HighlightTable(ctx, input.TabID, input.TableID); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.TabID = input.TabID
			out.Body.TableID = input.TableID
			out.Body.Status = "highlighted"
			return out, nil
		})
}
