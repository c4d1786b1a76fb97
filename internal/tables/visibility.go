package tables

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Visible reports whether the first node of sel would be rendered. Without
// a layout engine the decision is made from markup alone: the hidden
// attribute and display:none on the node or any ancestor, the nearest
// explicit visibility value, and a zero inline width or height on the node.
func Visible(sel *goquery.Selection) bool {
	if sel == nil || sel.Length() == 0 {
		return false
	}
	n := sel.Get(0)

	visibilityResolved := false
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if cur.Data == "template" {
			return false
		}
		if _, ok := nodeAttr(cur, "hidden"); ok {
			return false
		}
		style := parseStyle(attrOrEmpty(cur, "style"))
		if style["display"] == "none" {
			return false
		}
		if !visibilityResolved {
			if v, ok := style["visibility"]; ok {
				switch v {
				case "hidden", "collapse":
					return false
				case "inherit":
				default:
					visibilityResolved = true
				}
			}
		}
	}

	return !zeroBox(n)
}

func zeroBox(n *html.Node) bool {
	style := parseStyle(attrOrEmpty(n, "style"))
	for _, dim := range []string{"width", "height"} {
		if v, ok := style[dim]; ok && isZeroLength(v) {
			return true
		}
		if v, ok := nodeAttr(n, dim); ok && isZeroLength(v) {
			return true
		}
	}
	return false
}

// isZeroLength matches "0", "0px", "0.0em", "0%" and similar.
func isZeroLength(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	digits := 0
	i := 0
	for ; i < len(v); i++ {
		c := v[i]
		if c == '0' || c == '.' {
			if c == '0' {
				digits++
			}
			continue
		}
		break
	}
	if digits == 0 {
		return false
	}
	unit := v[i:]
	if unit == "" || unit == "%" {
		return true
	}
	for _, r := range unit {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// parseStyle splits an inline style attribute into lower-cased declarations.
func parseStyle(style string) map[string]string {
	out := make(map[string]string)
	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.ToLower(strings.TrimSpace(value))
		value = strings.TrimSpace(strings.TrimSuffix(value, "!important"))
		if name == "" {
			continue
		}
		out[name] = value
	}
	return out
}

func nodeAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func attrOrEmpty(n *html.Node, key string) string {
	v, _ := nodeAttr(n, key)
	return v
}
