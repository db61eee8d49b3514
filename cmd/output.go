// File: cmd/output.go
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/xkilldash9x/retumi/internal/browser"
)

const defaultWidth = 80

// WritePage prints a page: its title and URL, then the rendered text. With
// dumpConsole the page's console output follows.
func WritePage(w io.Writer, page *browser.Page, dumpConsole bool) error {
	var sb strings.Builder
	if page.Title != "" {
		sb.WriteString(page.Title)
		sb.WriteByte('\n')
	}
	if page.URL != "" {
		sb.WriteString(page.URL)
		sb.WriteByte('\n')
	}
	if sb.Len() > 0 {
		sb.WriteByte('\n')
	}
	sb.WriteString(page.Text)

	if dumpConsole && len(page.Console) > 0 {
		sb.WriteString("\n-- console --\n")
		for _, line := range page.Console {
			fmt.Fprintf(&sb, "%s: %s\n", line.Level, line.Text)
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// TerminalWidth returns the column count of w when it is a terminal, and 80
// otherwise.
func TerminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return defaultWidth
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}
