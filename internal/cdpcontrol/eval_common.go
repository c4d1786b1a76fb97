package cdpcontrol

import "encoding/json"

// jsTablesHelper mirrors the static detector in the page: visible tables of
// the document, then of every reachable same-origin frame, with unique ids.
const jsTablesHelper = `
function _visible(el) {
  var view = el.ownerDocument && el.ownerDocument.defaultView ? el.ownerDocument.defaultView : window;
  var st = view.getComputedStyle(el);
  return st.display !== "none" && st.visibility !== "hidden" && st.visibility !== "collapse" &&
    el.offsetWidth > 0 && el.offsetHeight > 0 && !el.hidden;
}
function _findTables(doc, depth) {
  var out = [];
  var list = doc.querySelectorAll("table");
  for (var i = 0; i < list.length; i++) { if (_visible(list[i])) out.push(list[i]); }
  if (depth >= _maxFrameDepth) return out;
  var frames = doc.querySelectorAll("iframe, frame");
  for (var j = 0; j < frames.length; j++) {
    try {
      var fd = frames[j].contentDocument;
      if (fd && _visible(frames[j])) out = out.concat(_findTables(fd, depth + 1));
    } catch (_) {}
  }
  return out;
}
function _ownRows(t) {
  var rows = [];
  for (var i = 0; i < t.rows.length; i++) rows.push(t.rows[i]);
  return rows;
}
function _ownCells(row) {
  var cells = [];
  for (var i = 0; i < row.children.length; i++) {
    var tag = row.children[i].tagName;
    if (tag === "TH" || tag === "TD") cells.push(row.children[i]);
  }
  return cells;
}
function _headerCount(t) {
  var n = 0;
  var rows = _ownRows(t);
  for (var i = 0; i < rows.length; i++) {
    var cells = _ownCells(rows[i]);
    for (var j = 0; j < cells.length; j++) if (cells[j].tagName === "TH") n++;
  }
  return n;
}
function _detect() {
  var found = _findTables(document, 0);
  var owners = {};
  for (var i = 0; i < found.length; i++) {
    var own = found[i].id;
    if (own && !Object.prototype.hasOwnProperty.call(owners, own)) owners[own] = i;
  }
  var used = {};
  var out = [];
  for (var k = 0; k < found.length; k++) {
    var id = found[k].id;
    if (!id || owners[id] !== k) {
      id = "table-" + k;
      for (var n = 2; used[id] || (Object.prototype.hasOwnProperty.call(owners, id) && owners[id] !== k); n++) {
        id = "table-" + k + "-" + n;
      }
    }
    used[id] = true;
    var cap = found[k].caption ? String(found[k].caption.textContent || "").trim() : "";
    out.push({id: id, hasHeader: _headerCount(found[k]) > 0, name: cap || id, el: found[k]});
  }
  return out;
}
function _find(tableId) {
  var all = _detect();
  for (var i = 0; i < all.length; i++) if (all[i].id === tableId) return all[i];
  return null;
}
`

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// wrapJSEval runs body in a function whose failures come back as an
// EVAL_FAILURE envelope.
func wrapJSEval(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}
