// internal/browser/dom/xpath.go
package dom

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// GenerateXPath builds a stable XPath expression for an element. It is used as
// a human readable label for nodes in logs and script results. An ancestor
// carrying an id anchors the path so labels stay short.
func GenerateXPath(node *html.Node) string {
	if node == nil {
		return ""
	}

	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode || n.Data == "" {
			continue
		}

		if id := htmlquery.SelectAttr(n, "id"); id != "" {
			path = append(path, fmt.Sprintf(`//*[@id='%s']`, id))
			break
		}

		// XPath indices are 1-based and count same-tag siblings only.
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && prev.Data == n.Data {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", n.Data, index))
	}

	if len(path) == 0 {
		return "/"
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//") {
		xpath = "/" + xpath
	}
	return xpath
}
