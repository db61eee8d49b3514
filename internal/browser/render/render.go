// internal/browser/render/render.go
package render

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/retumi/internal/browser/dom"
	"github.com/xkilldash9x/retumi/internal/config"
)

// Options configures a Renderer.
type Options struct {
	// Width is the wrap column. Zero or less disables wrapping.
	Width int
	// Profile selects how styles are emitted. termenv.Ascii drops them.
	Profile       termenv.Profile
	LinkFootnotes bool
	Logger        *zap.Logger
}

// ProfileFor maps a render.color setting to a termenv profile.
func ProfileFor(mode string) termenv.Profile {
	switch mode {
	case config.ColorNever:
		return termenv.Ascii
	case config.ColorAlways:
		return termenv.ANSI
	default:
		return termenv.EnvColorProfile()
	}
}

// Renderer turns a document tree into wrapped terminal text.
type Renderer struct {
	opts   Options
	logger *zap.Logger
}

// New creates a renderer.
func New(opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{opts: opts, logger: logger.Named("render")}
}

var skipped = map[string]bool{
	"head": true, "script": true, "style": true, "template": true, "noscript": true,
}

var blocks = map[string]bool{
	"address": true, "article": true, "aside": true, "body": true, "dd": true,
	"div": true, "dl": true, "dt": true, "fieldset": true, "figure": true,
	"footer": true, "form": true, "header": true, "main": true, "nav": true,
	"section": true, "tr": true, "html": true,
}

// spaced blocks are followed by an empty line.
var spaced = map[string]bool{
	"p": true, "ul": true, "ol": true, "table": true, "figure": true,
}

type textStyle struct {
	bold, italic, underline bool
}

type state struct {
	r    *Renderer
	base *url.URL

	out     strings.Builder
	line    strings.Builder
	space   bool
	quote   int
	lists   int
	links   []string
	written bool
}

// Render produces the text of doc. Relative links resolve against base,
// which may be nil.
func (r *Renderer) Render(doc *html.Node, base *url.URL) string {
	s := &state{r: r, base: base}
	s.walk(doc, textStyle{})
	s.flush()

	if r.opts.LinkFootnotes && len(s.links) > 0 {
		s.blank()
		for i, link := range s.links {
			fmt.Fprintf(&s.out, "[%d]: %s\n", i+1, link)
		}
	}
	r.logger.Debug("Rendered document", zap.Int("links", len(s.links)))
	return strings.TrimRight(s.out.String(), "\n") + "\n"
}

func (s *state) walk(n *html.Node, st textStyle) {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		s.text(n.Data, st)
		return
	case html.DocumentNode:
		s.children(n, st)
		return
	case html.ElementNode:
	default:
		return
	}

	tag := n.Data
	if skipped[tag] {
		return
	}

	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		s.flush()
		s.blank()
		level := int(tag[1] - '0')
		s.inline(strings.Repeat("#", level), textStyle{bold: true})
		s.space = true
		hs := st
		hs.bold = true
		s.children(n, hs)
		s.flush()
		s.blank()

	case "br":
		s.flush()

	case "hr":
		s.flush()
		width := 40
		if w := s.r.opts.Width; w > 0 && w < width {
			width = w
		}
		s.emit(strings.Repeat("-", width), 0)

	case "li":
		s.flush()
		s.inline("*", textStyle{})
		s.space = true
		s.children(n, st)
		s.flush()

	case "ul", "ol":
		s.flush()
		s.lists++
		s.children(n, st)
		s.lists--
		s.flush()
		if s.lists == 0 {
			s.blank()
		}

	case "blockquote":
		s.flush()
		s.quote++
		s.children(n, st)
		s.flush()
		s.quote--
		s.blank()

	case "pre":
		s.flush()
		s.pre(n)
		s.blank()

	case "a":
		href, ok := dom.Attr(n, "href")
		if !ok {
			s.children(n, st)
			return
		}
		as := st
		as.underline = true
		s.children(n, as)
		if s.r.opts.LinkFootnotes {
			s.links = append(s.links, s.resolve(href))
			s.inline(fmt.Sprintf("[%d]", len(s.links)), st)
		}

	case "strong", "b":
		bs := st
		bs.bold = true
		s.children(n, bs)

	case "em", "i":
		is := st
		is.italic = true
		s.children(n, is)

	case "img":
		if alt, ok := dom.Attr(n, "alt"); ok && strings.TrimSpace(alt) != "" {
			s.text("["+strings.TrimSpace(alt)+"]", st)
		}

	case "td", "th":
		s.children(n, st)
		s.space = true

	default:
		if blocks[tag] || spaced[tag] {
			s.flush()
			s.children(n, st)
			s.flush()
			if spaced[tag] {
				s.blank()
			}
			return
		}
		s.children(n, st)
	}
}

func (s *state) children(n *html.Node, st textStyle) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.walk(c, st)
	}
}

// text appends collapsed inline text.
func (s *state) text(data string, st textStyle) {
	if data == "" {
		return
	}
	words := strings.Fields(data)
	if len(words) == 0 {
		s.space = true
		return
	}
	if isSpace(data[0]) {
		s.space = true
	}
	s.inline(strings.Join(words, " "), st)
	if isSpace(data[len(data)-1]) {
		s.space = true
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

func (s *state) inline(text string, st textStyle) {
	if s.space && s.line.Len() > 0 {
		s.line.WriteByte(' ')
	}
	s.space = false
	s.line.WriteString(s.styled(text, st))
}

func (s *state) styled(text string, st textStyle) string {
	if st == (textStyle{}) {
		return text
	}
	out := s.r.opts.Profile.String(text)
	if st.bold {
		out = out.Bold()
	}
	if st.italic {
		out = out.Italic()
	}
	if st.underline {
		out = out.Underline()
	}
	return out.String()
}

// flush wraps the pending paragraph and appends it to the output.
func (s *state) flush() {
	para := s.line.String()
	s.line.Reset()
	s.space = false
	if strings.TrimSpace(para) == "" {
		return
	}
	margin := s.margin()
	if width := s.r.opts.Width; width > 0 {
		avail := width - margin - 2*s.quote
		if avail < 10 {
			avail = 10
		}
		para = wordwrap.String(para, avail)
	}
	s.emit(para, margin)
}

func (s *state) margin() int {
	if s.lists > 1 {
		return 2 * (s.lists - 1)
	}
	return 0
}

func (s *state) emit(text string, margin int) {
	if margin > 0 {
		text = indent.String(text, uint(margin))
	}
	if s.quote > 0 {
		prefix := strings.Repeat("> ", s.quote)
		lines := strings.Split(text, "\n")
		for i, l := range lines {
			lines[i] = prefix + l
		}
		text = strings.Join(lines, "\n")
	}
	s.out.WriteString(text)
	s.out.WriteByte('\n')
	s.written = true
}

// pre copies preformatted text verbatim.
func (s *state) pre(n *html.Node) {
	text := strings.TrimRight(dom.TextContent(n), "\n")
	if text == "" {
		return
	}
	s.emit(text, s.margin())
}

// blank ensures the output ends with an empty line.
func (s *state) blank() {
	if !s.written {
		return
	}
	out := s.out.String()
	if !strings.HasSuffix(out, "\n\n") {
		s.out.WriteByte('\n')
	}
}

func (s *state) resolve(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || s.base == nil {
		return href
	}
	return s.base.ResolveReference(ref).String()
}
