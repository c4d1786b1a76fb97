package cdpcontrol

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/PandasTableScraper/internal/tables"
)

const highlightOutline = "3px solid #2196F3"

func tablesPreamble(maxDepth int) string {
	if maxDepth <= 0 {
		maxDepth = tables.DefaultMaxFrameDepth
	}
	return fmt.Sprintf("var _maxFrameDepth = %d;\n", maxDepth) + jsTablesHelper
}

func jsDetectTables(maxDepth int) string {
	return wrapJSEval(tablesPreamble(maxDepth) + `
var found = _detect();
var list = [];
for (var i = 0; i < found.length; i++) list.push({id: found[i].id, hasHeader: found[i].hasHeader, name: found[i].name});
return JSON.stringify({ok:true,data:{tables:list}});
`)
}

// jsExtractTable returns rows as [name, value] pairs so integer-like header
// names keep their column position.
func jsExtractTable(maxDepth int, tableID string) string {
	return wrapJSEval(fmt.Sprintf(tablesPreamble(maxDepth)+`
var hit = _find(%s);
if (!hit) return JSON.stringify({ok:true,data:{found:false,rows:[]}});
var rows = _ownRows(hit.el);
if (rows.length === 0) return JSON.stringify({ok:true,data:{found:true,rows:[]}});
function _texts(cells) {
  var out = [];
  for (var i = 0; i < cells.length; i++) {
    var t = String(cells[i].textContent || "").trim();
    out.push(t === "" ? String(i) : t);
  }
  return out;
}
var first = _ownCells(rows[0]);
var headers = null;
var start = 0;
var firstHasTH = false;
for (var i = 0; i < first.length; i++) if (first[i].tagName === "TH") firstHasTH = true;
if (firstHasTH) {
  headers = _texts(first); start = 1;
} else if (hit.el.tHead && hit.el.tHead.rows.length > 0) {
  headers = _texts(_ownCells(hit.el.tHead.rows[0])); start = 1;
} else {
  headers = []; for (var h = 0; h < first.length; h++) headers.push(String(h));
}
var out = [];
for (var r = start; r < rows.length; r++) {
  var cells = _ownCells(rows[r]);
  var rec = [];
  var pos = {};
  for (var c = 0; c < cells.length; c++) {
    var key = c < headers.length && headers[c] !== "" ? headers[c] : String(c);
    var val = String(cells[c].textContent || "").trim();
    if (Object.prototype.hasOwnProperty.call(pos, key)) { rec[pos[key]][1] = val; continue; }
    pos[key] = rec.length;
    rec.push([key, val]);
  }
  if (rec.length > 0) out.push(rec);
}
return JSON.stringify({ok:true,data:{found:true,rows:out}});
`, jsString(tableID)))
}

func jsHighlightTable(maxDepth int, tableID string, d time.Duration) string {
	return wrapJSEval(fmt.Sprintf(tablesPreamble(maxDepth)+`
var hit = _find(%s);
if (!hit) return JSON.stringify({ok:true,data:{found:false}});
var el = hit.el;
if (el.__pandasScraperTimer) { clearTimeout(el.__pandasScraperTimer); }
else { el.__pandasScraperOutline = el.style.outline; }
el.style.outline = %s;
try { el.scrollIntoView({behavior:"smooth", block:"center"}); } catch (_) {}
el.__pandasScraperTimer = setTimeout(function() {
  el.style.outline = el.__pandasScraperOutline || "";
  el.__pandasScraperTimer = null;
}, %d);
return JSON.stringify({ok:true,data:{found:true}});
`, jsString(tableID), jsString(highlightOutline), d.Milliseconds()))
}

// pairsToRecords converts extracted [name, value] rows into records.
func pairsToRecords(rows [][][2]string) []tables.Record {
	out := make([]tables.Record, 0, len(rows))
	for _, row := range rows {
		rec := make(tables.Record, 0, len(row))
		for _, kv := range row {
			rec.Set(kv[0], kv[1])
		}
		out = append(out, rec)
	}
	return out
}
