// Package tables finds visible HTML tables in parsed documents and maps
// them into ordered row records.
package tables

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMaxFrameDepth bounds recursion through nested same-origin frames.
const DefaultMaxFrameDepth = 5

// DetectedTable is a table found during one detection pass. Selection is
// the element itself and never crosses a message boundary. HasHeader counts
// only the table's own th cells; a th inside a nested table does not make
// its outer table headed.
type DetectedTable struct {
	ID        string             `json:"id"`
	HasHeader bool               `json:"hasHeader"`
	Name      string             `json:"name"`
	Selection *goquery.Selection `json:"-"`
}

// Summary is the serializable view of a DetectedTable.
type Summary struct {
	ID        string `json:"id"`
	HasHeader bool   `json:"hasHeader"`
	Name      string `json:"name"`
}

func (t DetectedTable) Summary() Summary {
	return Summary{ID: t.ID, HasHeader: t.HasHeader, Name: t.Name}
}

// Summaries strips element references from a detection result.
func Summaries(found []DetectedTable) []Summary {
	out := make([]Summary, 0, len(found))
	for _, t := range found {
		out = append(out, t.Summary())
	}
	return out
}

// FindByID returns the detected table with the given id.
func FindByID(found []DetectedTable, id string) (DetectedTable, bool) {
	for _, t := range found {
		if t.ID == id {
			return t, true
		}
	}
	return DetectedTable{}, false
}

// FrameLoader loads the document of a same-origin child frame.
type FrameLoader interface {
	LoadFrame(ctx context.Context, u *url.URL) (*goquery.Document, error)
}

// Detector walks a document and its same-origin frames.
type Detector struct {
	// Frames loads src frames. When nil only srcdoc frames are searched.
	Frames        FrameLoader
	MaxFrameDepth int
}

func NewDetector(frames FrameLoader) *Detector {
	return &Detector{Frames: frames, MaxFrameDepth: DefaultMaxFrameDepth}
}

// Detect returns every visible table in doc and in its same-origin frames.
// base is the document URL used to resolve frame sources; it may be nil.
func (d *Detector) Detect(ctx context.Context, doc *goquery.Document, base *url.URL) []DetectedTable {
	if doc == nil {
		return []DetectedTable{}
	}
	found := d.findTables(ctx, doc.Selection, base, 0)
	return assignIDs(found)
}

func (d *Detector) findTables(ctx context.Context, root *goquery.Selection, base *url.URL, depth int) []*goquery.Selection {
	var out []*goquery.Selection
	root.Find("table").Each(func(_ int, s *goquery.Selection) {
		if Visible(s) {
			out = append(out, s)
		}
	})

	maxDepth := d.MaxFrameDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxFrameDepth
	}
	if depth >= maxDepth {
		return out
	}

	root.Find("iframe, frame").Each(func(_ int, frame *goquery.Selection) {
		if ctx.Err() != nil || !Visible(frame) {
			return
		}
		child, childBase, ok := d.frameDocument(ctx, frame, base)
		if !ok {
			return
		}
		out = append(out, d.findTables(ctx, child.Selection, childBase, depth+1)...)
	})
	return out
}

// frameDocument returns the document of a frame when it is reachable from
// the parent. Cross-origin, file and failed frames are skipped without
// error; srcdoc frames are always searched.
func (d *Detector) frameDocument(ctx context.Context, frame *goquery.Selection, base *url.URL) (*goquery.Document, *url.URL, bool) {
	if srcdoc, ok := frame.Attr("srcdoc"); ok {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(srcdoc))
		if err != nil {
			slog.Debug("srcdoc frame parse failed", "error", err)
			return nil, nil, false
		}
		return doc, base, true
	}

	src := strings.TrimSpace(frame.AttrOr("src", ""))
	if src == "" || strings.HasPrefix(src, "about:") || strings.HasPrefix(strings.ToLower(src), "javascript:") {
		return nil, nil, false
	}
	ref, err := url.Parse(src)
	if err != nil {
		slog.Debug("frame src parse failed", "src", src, "error", err)
		return nil, nil, false
	}
	target := ref
	if base != nil {
		target = base.ResolveReference(ref)
	}
	if base == nil || !SameOrigin(base, target) {
		slog.Debug("skipping cross-origin frame", "src", target.String())
		return nil, nil, false
	}
	if d.Frames == nil {
		return nil, nil, false
	}
	doc, err := d.Frames.LoadFrame(ctx, target)
	if err != nil {
		slog.Debug("frame load failed", "src", target.String(), "error", err)
		return nil, nil, false
	}
	return doc, target, true
}

// SameOrigin compares scheme, host and effective port. File URLs have
// opaque origins and never match, so a local page cannot pull other local
// files in through frames.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	if strings.EqualFold(a.Scheme, "file") || strings.EqualFold(b.Scheme, "file") {
		return false
	}
	if !strings.EqualFold(a.Scheme, b.Scheme) {
		return false
	}
	if !strings.EqualFold(a.Hostname(), b.Hostname()) {
		return false
	}
	return effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}

// assignIDs gives every table a unique id. Element ids win for their first
// owner; the rest get table-<index>, suffixed when that is already taken.
func assignIDs(found []*goquery.Selection) []DetectedTable {
	owners := make(map[string]int, len(found))
	for i, s := range found {
		if id := s.AttrOr("id", ""); id != "" {
			if _, ok := owners[id]; !ok {
				owners[id] = i
			}
		}
	}

	used := make(map[string]bool, len(found))
	out := make([]DetectedTable, 0, len(found))
	for i, s := range found {
		id := s.AttrOr("id", "")
		if id == "" || owners[id] != i {
			id = fmt.Sprintf("table-%d", i)
			for n := 2; used[id] || isOwnedByOther(owners, id, i); n++ {
				id = fmt.Sprintf("table-%d-%d", i, n)
			}
		}
		used[id] = true

		t := DetectedTable{
			ID:        id,
			HasHeader: ownHeaderCells(s) > 0,
			Selection: s,
		}
		t.Name = strings.TrimSpace(s.ChildrenFiltered("caption").First().Text())
		if t.Name == "" {
			t.Name = t.ID
		}
		out = append(out, t)
	}
	return out
}

func isOwnedByOther(owners map[string]int, id string, idx int) bool {
	owner, ok := owners[id]
	return ok && owner != idx
}
