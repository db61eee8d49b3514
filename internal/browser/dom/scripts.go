// internal/browser/dom/scripts.go
package dom

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// executableTypes lists the script type values that are run. An absent or
// empty type attribute also means JavaScript. Module scripts are not listed:
// bodies are evaluated as classic scripts, where import and export do not parse.
var executableTypes = map[string]bool{
	"text/javascript":        true,
	"application/javascript": true,
	"application/ecmascript": true,
	"text/ecmascript":        true,
}

// ExtractScripts returns every <script> element under root in document order.
func ExtractScripts(root *html.Node) []*html.Node {
	if root == nil {
		return nil
	}
	return htmlquery.Find(root, "//script")
}

// ScriptSource returns the inline source of a script element: the
// concatenation of its direct text children. A script with no text yields "".
func ScriptSource(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

// IsExternal reports whether the script loads its source from a src attribute.
func IsExternal(n *html.Node) bool {
	return htmlquery.SelectAttr(n, "src") != ""
}

// IsJavaScript reports whether the script's type attribute names JavaScript,
// whatever the source of its text.
func IsJavaScript(n *html.Node) bool {
	if n == nil {
		return false
	}
	typ := strings.ToLower(strings.TrimSpace(htmlquery.SelectAttr(n, "type")))
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = strings.TrimSpace(typ[:i])
	}
	return typ == "" || executableTypes[typ]
}

// IsExecutable reports whether the script is inline JavaScript.
func IsExecutable(n *html.Node) bool {
	return n != nil && !IsExternal(n) && IsJavaScript(n)
}
