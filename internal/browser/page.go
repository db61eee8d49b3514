// internal/browser/page.go
package browser

import "time"

// Page is the outcome of opening one resource.
type Page struct {
	URL   string
	Title string
	// SessionID names the script session that ran the page. It is empty when
	// no scripts ran.
	SessionID string
	// Text is the rendered document after its scripts ran.
	Text    string
	Console []ConsoleLine
	Scripts []ScriptResult
	// Err is the error that stopped script execution early, if any.
	Err error
}

// ConsoleLine is one console call made by a page script.
type ConsoleLine struct {
	Level string
	Text  string
}

// ScriptResult records how one <script> element fared.
type ScriptResult struct {
	// Index is the script's position in document order.
	Index   int
	XPath   string
	Skipped bool
	Err     error
	// Duration covers the body run, including servicing its requests.
	Duration time.Duration
}

// Failed returns the scripts that ended with an error.
func (p *Page) Failed() []ScriptResult {
	var failed []ScriptResult
	for _, s := range p.Scripts {
		if s.Err != nil {
			failed = append(failed, s)
		}
	}
	return failed
}
