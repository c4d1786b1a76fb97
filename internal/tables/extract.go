package tables

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extract maps the rows of table into records.
//
// Headers come from the first row when it holds any <th>, otherwise from
// the first <thead> row, otherwise every column is keyed by its index.
// Empty header cells fall back to the column index. Values are trimmed
// cell text; no type conversion happens here.
func Extract(table *goquery.Selection) []Record {
	rows := ownRows(table)
	if len(rows) == 0 {
		return []Record{}
	}

	firstCells := ownCells(rows[0])
	var headers []string
	start := 0

	switch {
	case firstCells.Filter("th").Length() > 0:
		headers = headerTexts(firstCells)
		start = 1
	case theadFirstRow(table) != nil:
		headers = headerTexts(ownCells(theadFirstRow(table)))
		start = 1
	default:
		headers = make([]string, firstCells.Length())
		for i := range headers {
			headers[i] = strconv.Itoa(i)
		}
	}

	records := make([]Record, 0, len(rows)-start)
	for _, row := range rows[start:] {
		rec := Record{}
		ownCells(row).Each(func(i int, cell *goquery.Selection) {
			key := strconv.Itoa(i)
			if i < len(headers) && headers[i] != "" {
				key = headers[i]
			}
			rec.Set(key, strings.TrimSpace(cell.Text()))
		})
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records
}

func headerTexts(cells *goquery.Selection) []string {
	headers := make([]string, 0, cells.Length())
	cells.Each(func(i int, cell *goquery.Selection) {
		text := strings.TrimSpace(cell.Text())
		if text == "" {
			text = strconv.Itoa(i)
		}
		headers = append(headers, text)
	})
	return headers
}

// ownRows lists the rows that belong to table itself, in HTMLTableElement.rows
// order: thead rows, then tbody and bare tr in tree order, then tfoot rows.
func ownRows(table *goquery.Selection) []*goquery.Selection {
	var head, body, foot []*goquery.Selection
	table.Children().Each(func(_ int, child *goquery.Selection) {
		switch goquery.NodeName(child) {
		case "tr":
			body = append(body, child)
		case "thead":
			child.ChildrenFiltered("tr").Each(func(_ int, tr *goquery.Selection) { head = append(head, tr) })
		case "tbody":
			child.ChildrenFiltered("tr").Each(func(_ int, tr *goquery.Selection) { body = append(body, tr) })
		case "tfoot":
			child.ChildrenFiltered("tr").Each(func(_ int, tr *goquery.Selection) { foot = append(foot, tr) })
		}
	})
	rows := make([]*goquery.Selection, 0, len(head)+len(body)+len(foot))
	rows = append(rows, head...)
	rows = append(rows, body...)
	return append(rows, foot...)
}

func ownCells(row *goquery.Selection) *goquery.Selection {
	return row.ChildrenFiltered("th, td")
}

func theadFirstRow(table *goquery.Selection) *goquery.Selection {
	head := table.ChildrenFiltered("thead").First()
	if head.Length() == 0 {
		return nil
	}
	tr := head.ChildrenFiltered("tr").First()
	if tr.Length() == 0 {
		return nil
	}
	return tr
}

// ownHeaderCells counts <th> cells of table, ignoring nested tables.
func ownHeaderCells(table *goquery.Selection) int {
	n := 0
	for _, row := range ownRows(table) {
		n += ownCells(row).Filter("th").Length()
	}
	return n
}
