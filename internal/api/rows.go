package api

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

// recordRows documents extracted rows as JSON objects of column name to
// cell text. Column order on the wire follows the table.
type recordRows []tables.Record

func (recordRows) Schema(huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        huma.TypeArray,
		Description: "Rows as objects keyed by column name, in column order.",
		Items: &huma.Schema{
			Type:                 huma.TypeObject,
			AdditionalProperties: true,
		},
	}
}
