package dom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/retumi/internal/browser/dom"
)

func TestExtractScripts(t *testing.T) {
	doc := parse(t, `<html><head><script>var a = 1;</script></head>
		<body><p>text</p><script>var b = 2;</script><div><script></script></div></body></html>`)

	scripts := dom.ExtractScripts(doc)
	require.Len(t, scripts, 3)
	assert.Equal(t, "var a = 1;", dom.ScriptSource(scripts[0]))
	assert.Equal(t, "var b = 2;", dom.ScriptSource(scripts[1]))
	assert.Equal(t, "", dom.ScriptSource(scripts[2]))
}

func TestExtractScripts_NilRoot(t *testing.T) {
	assert.Nil(t, dom.ExtractScripts(nil))
}

func TestIsExecutable(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"plain inline script", `<script>1</script>`, true},
		{"explicit javascript type", `<script type="text/javascript">1</script>`, true},
		{"type with parameters", `<script type="text/javascript; charset=utf-8">1</script>`, true},
		{"module script", `<script type="module">import x from "y";</script>`, false},
		{"external script", `<script src="/app.js"></script>`, false},
		{"json data block", `<script type="application/ld+json">{}</script>`, false},
		{"template block", `<script type="text/template"><p></p></script>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scripts := dom.ExtractScripts(parse(t, tt.html))
			require.Len(t, scripts, 1)
			assert.Equal(t, tt.want, dom.IsExecutable(scripts[0]))
		})
	}
}

func TestIsJavaScript(t *testing.T) {
	scripts := dom.ExtractScripts(parse(t, `<script src="/a.js"></script><script src="/b.json" type="application/json"></script>`))
	require.Len(t, scripts, 2)
	assert.True(t, dom.IsJavaScript(scripts[0]))
	assert.False(t, dom.IsJavaScript(scripts[1]))
	assert.False(t, dom.IsJavaScript(nil))
}
