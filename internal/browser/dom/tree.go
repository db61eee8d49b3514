// internal/browser/dom/tree.go
package dom

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Parse builds a document tree from UTF-8 encoded HTML.
func Parse(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

// Walk visits root and its descendants in depth-first pre-order.
// Returning false from fn stops the walk early.
func Walk(root *html.Node, fn func(*html.Node) bool) {
	walk(root, fn)
}

func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// FindElementByID returns the first element, in document order, whose id
// attribute equals id. It returns nil when no element matches.
func FindElementByID(root *html.Node, id string) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if v, ok := Attr(n, "id"); ok && v == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindElementsByTag collects every element with the given tag name in
// document order. Tag names are stored lowercased by the parser, so the
// comparison is case-insensitive.
func FindElementsByTag(root *html.Node, tag string) []*html.Node {
	tag = strings.ToLower(tag)
	var out []*html.Node
	Walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Attr returns the value of the named attribute of n.
func Attr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr overwrites the named attribute. When the attribute is missing it is
// appended only if create is set. The result reports whether anything was written.
func SetAttr(n *html.Node, name, value string, create bool) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == name {
			n.Attr[i].Val = value
			return true
		}
	}
	if !create {
		return false
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	return true
}

// SetText replaces the data of every direct text child of n and returns how
// many were rewritten. Elements without text children are left unchanged.
func SetText(n *html.Node, text string) int {
	if n == nil {
		return 0
	}
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			c.Data = text
			count++
		}
	}
	return count
}

// TextContent concatenates all descendant text of n.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}
