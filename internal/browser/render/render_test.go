// internal/browser/render/render_test.go
package render_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/retumi/internal/browser/dom"
	"github.com/xkilldash9x/retumi/internal/browser/render"
	"github.com/xkilldash9x/retumi/internal/config"
)

func parse(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := dom.Parse(strings.NewReader(markup))
	require.NoError(t, err)
	return doc
}

func plain(t *testing.T, width int, footnotes bool) *render.Renderer {
	return render.New(render.Options{
		Width:         width,
		Profile:       termenv.Ascii,
		LinkFootnotes: footnotes,
		Logger:        zaptest.NewLogger(t),
	})
}

func TestRenderer_Document(t *testing.T) {
	doc := parse(t, `<html><head><title>T</title><script>x()</script></head><body>
		<h1>Title</h1>
		<p>Hello <b>world</b>!</p>
		<ul><li>one</li><li>two</li></ul>
		<p>See <a href="/docs">the docs</a>.</p>
	</body></html>`)
	base, err := url.Parse("https://example.com/a/")
	require.NoError(t, err)

	got := plain(t, 80, true).Render(doc, base)

	want := `# Title

Hello world!

* one
* two

See the docs[1].

[1]: https://example.com/docs
`
	assert.Equal(t, want, got)
}

func TestRenderer_Elements(t *testing.T) {
	tests := []struct {
		name    string
		markup  string
		want    []string
		notWant []string
	}{
		{
			name:    "should skip non-visible elements",
			markup:  `<style>p{}</style><script>var hidden = 1;</script><noscript>enable js</noscript><template><p>t</p></template><!-- note --><p>shown</p>`,
			want:    []string{"shown"},
			notWant: []string{"hidden", "enable js", "note", "p{}"},
		},
		{
			name:   "should prefix block quotes",
			markup: `<blockquote><p>quoted text</p></blockquote>`,
			want:   []string{"> quoted text"},
		},
		{
			name:   "should keep preformatted text verbatim",
			markup: "<pre>  a  b\n    c</pre>",
			want:   []string{"  a  b\n    c"},
		},
		{
			name:   "should indent nested lists",
			markup: `<ul><li>a<ul><li>b</li></ul></li></ul>`,
			want:   []string{"* a\n  * b"},
		},
		{
			name:   "should number heading levels",
			markup: `<h3>Deep</h3>`,
			want:   []string{"### Deep"},
		},
		{
			name:   "should break lines on br",
			markup: `<p>one<br>two</p>`,
			want:   []string{"one\ntwo"},
		},
		{
			name:   "should show image alt text",
			markup: `<p><img src="x.png" alt="logo"> text</p>`,
			want:   []string{"[logo] text"},
		},
		{
			name:   "should separate table cells",
			markup: `<table><tr><td>a</td><td>b</td></tr><tr><td>c</td><td>d</td></tr></table>`,
			want:   []string{"a b\nc d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := plain(t, 80, true).Render(parse(t, tt.markup), nil)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, got, nw)
			}
		})
	}
}

func TestRenderer_Wrapping(t *testing.T) {
	const sentence = "the quick brown fox jumps over the lazy dog"
	got := plain(t, 20, false).Render(parse(t, "<p>"+sentence+"</p>"), nil)

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Greater(t, len(lines), 1)
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), 20, "line %q is wider than the wrap column", l)
	}
	assert.Equal(t, sentence, strings.Join(strings.Fields(got), " "))
}

func TestRenderer_Links(t *testing.T) {
	doc := parse(t, `<p><a href="https://a.test/">A</a> and <a href="b.html">B</a> and <a>plain</a></p>`)
	base, _ := url.Parse("file:///srv/site/index.html")

	t.Run("should list footnotes", func(t *testing.T) {
		got := plain(t, 0, true).Render(doc, base)
		assert.Contains(t, got, "A[1] and B[2] and plain")
		assert.Contains(t, got, "[1]: https://a.test/\n[2]: file:///srv/site/b.html")
	})

	t.Run("should omit footnotes when disabled", func(t *testing.T) {
		got := plain(t, 0, false).Render(doc, base)
		assert.Equal(t, "A and B and plain\n", got)
	})
}

func TestRenderer_Styles(t *testing.T) {
	r := render.New(render.Options{Profile: termenv.ANSI})
	got := r.Render(parse(t, `<p><b>bold</b> <em>soft</em></p>`), nil)

	assert.Contains(t, got, "\x1b[1mbold\x1b[0m")
	assert.Contains(t, got, "\x1b[3msoft\x1b[0m")

	t.Run("should emit plain text for the ascii profile", func(t *testing.T) {
		got := plain(t, 0, false).Render(parse(t, `<p><b>bold</b></p>`), nil)
		assert.Equal(t, "bold\n", got)
	})
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, termenv.Ascii, render.ProfileFor(config.ColorNever))
	assert.Equal(t, termenv.ANSI, render.ProfileFor(config.ColorAlways))
}
