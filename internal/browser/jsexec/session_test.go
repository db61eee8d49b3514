// internal/browser/jsexec/session_test.go
package jsexec_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/retumi/internal/browser/dom"
	"github.com/xkilldash9x/retumi/internal/browser/jsbind"
	"github.com/xkilldash9x/retumi/internal/browser/jsexec"
	"github.com/xkilldash9x/retumi/internal/observability"
)

type consoleLine struct {
	level, text string
}

// harness bundles a running worker with a recorder for console output.
type harness struct {
	t       *testing.T
	worker  *jsexec.Worker
	console []consoleLine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	w := jsexec.NewWorker(jsexec.WorkerConfig{ReplyTimeout: 5 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, w.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Shutdown(ctx)
	})
	return &harness{t: t, worker: w}
}

func (h *harness) session(markup string, opts ...jsexec.SessionOption) *jsexec.Session {
	h.t.Helper()
	doc, err := dom.Parse(strings.NewReader(markup))
	require.NoError(h.t, err)
	opts = append([]jsexec.SessionOption{
		jsexec.WithLogger(zaptest.NewLogger(h.t)),
		jsexec.WithConsole(func(level, text string) {
			h.console = append(h.console, consoleLine{level, text})
		}),
	}, opts...)
	return jsexec.NewSession(h.worker, doc, opts...)
}

func (h *harness) lines() []string {
	out := make([]string, 0, len(h.console))
	for _, l := range h.console {
		out = append(out, l.text)
	}
	return out
}

func render(t *testing.T, n *html.Node) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, html.Render(&buf, n))
	return buf.String()
}

func TestSession_DOMOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("should set an existing attribute", func(t *testing.T) {
		s := h.session(`<div id="x" class="old"></div>`)
		require.NoError(t, s.Exec(ctx, `document.getElementById("x").setAttribute("class", "y")`))

		el := dom.FindElementByID(s.Document(), "x")
		v, ok := dom.Attr(el, "class")
		require.True(t, ok)
		assert.Equal(t, "y", v)
	})

	t.Run("should return null for a missing id", func(t *testing.T) {
		h.console = nil
		s := h.session(`<div id="x"></div>`)
		require.NoError(t, s.Exec(ctx, `console.log(document.getElementById("missing") === null)`))
		assert.Equal(t, []string{"true"}, h.lines())
		assert.Equal(t, 0, s.Handles().Len(), "a missing element must not allocate a handle")
	})

	t.Run("should return elements in document order", func(t *testing.T) {
		h.console = nil
		s := h.session(`<div></div><p id="one"></p><span><p id="nested"></p></span><p id="two"></p>`)
		require.NoError(t, s.Exec(ctx, `
			var ids = document.querySelectorAll("p").map(function (n) { return n.getAttribute("id"); });
			console.log(ids.join(","));
		`))
		assert.Equal(t, []string{"one,nested,two"}, h.lines())
	})

	t.Run("should match tags case-insensitively", func(t *testing.T) {
		h.console = nil
		s := h.session(`<p></p><P></P>`)
		require.NoError(t, s.Exec(ctx, `console.log(document.getElementsByTagName("P").length)`))
		assert.Equal(t, []string{"2"}, h.lines())
	})

	t.Run("should return an empty array when nothing matches", func(t *testing.T) {
		h.console = nil
		s := h.session(`<p></p>`)
		require.NoError(t, s.Exec(ctx, `var r = document.querySelectorAll("table"); console.log(Array.isArray(r), r.length)`))
		assert.Equal(t, []string{"true 0"}, h.lines())
	})

	t.Run("should read a missing attribute as null", func(t *testing.T) {
		h.console = nil
		s := h.session(`<div id="x"></div>`)
		require.NoError(t, s.Exec(ctx, `console.log(document.getElementById("x").getAttribute("nope") === null)`))
		assert.Equal(t, []string{"true"}, h.lines())
	})

	t.Run("should overwrite every direct text child", func(t *testing.T) {
		s := h.session(`<p id="p">old <b>bold</b> tail</p>`)
		require.NoError(t, s.Exec(ctx, `document.getElementById("p").innerText = "new"`))

		el := dom.FindElementByID(s.Document(), "p")
		assert.Equal(t, `<p id="p">new<b>bold</b>new</p>`, render(t, el))
	})

	t.Run("should expose the id attribute", func(t *testing.T) {
		h.console = nil
		s := h.session(`<div id="x"></div>`)
		require.NoError(t, s.Exec(ctx, `console.log(document.getElementById("x").id)`))
		assert.Equal(t, []string{"x"}, h.lines())
	})
}

func TestSession_HandleIdentity(t *testing.T) {
	h := newHarness(t)
	s := h.session(`<div id="x"></div><div></div>`)

	require.NoError(t, s.Exec(context.Background(), `
		var a = document.getElementById("x");
		var b = document.querySelectorAll("div")[0];
		var c = document.getElementById("x");
		console.log(a.handle === b.handle, a.handle === c.handle);
	`))
	assert.Equal(t, []string{"true true"}, h.lines())
	assert.Equal(t, 2, s.Handles().Len())

	n, ok := s.Handles().Resolve(1)
	require.True(t, ok)
	assert.Same(t, dom.FindElementByID(s.Document(), "x"), n)
}

func TestSession_HandlesPersistAcrossBodies(t *testing.T) {
	h := newHarness(t)
	s := h.session(`<div id="x"></div>`)
	ctx := context.Background()

	require.NoError(t, s.Exec(ctx, `var saved = document.getElementById("x");`))
	require.NoError(t, s.Exec(ctx, `saved.setAttribute("data-n", "2")`))

	v, ok := dom.Attr(dom.FindElementByID(s.Document(), "x"), "data-n")
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestSession_UnknownHandle(t *testing.T) {
	h := newHarness(t)
	s := h.session(`<div id="x" class="secret"></div>`)
	ctx := context.Background()

	t.Run("should fail the body when uncaught", func(t *testing.T) {
		err := s.Exec(ctx, `new Node(999).getAttribute("x")`)
		require.Error(t, err)

		var scriptErr *jsbind.ScriptError
		require.True(t, errors.As(err, &scriptErr))
		assert.Equal(t, jsbind.ScriptException, scriptErr.Kind)
		assert.Contains(t, scriptErr.Message, "unrecognized handle")
		assert.False(t, jsbind.IsFatal(err))
	})

	t.Run("should be catchable by the script", func(t *testing.T) {
		h.console = nil
		require.NoError(t, s.Exec(ctx, `
			try { new Node(0).setAttribute("a", "b"); }
			catch (e) { console.log("caught: " + e); }
		`))
		assert.Equal(t, []string{"caught: unrecognized handle"}, h.lines())
	})

	t.Run("should leave the session usable", func(t *testing.T) {
		require.NoError(t, s.Exec(ctx, `document.getElementById("x").setAttribute("ok", "1")`))
		assert.NoError(t, s.Err())
	})

	t.Run("should reject handles that are not integers", func(t *testing.T) {
		h.console = nil
		require.NoError(t, s.Exec(ctx, `
			var x = document.getElementById("x");
			var got = [1.5, 1.9, "1", NaN, Infinity, -0.5, true, {}].map(function (h) {
				try { return new Node(h).getAttribute("class"); }
				catch (e) { return "fault"; }
			});
			console.log(new Node(x.handle).getAttribute("class"), got.join(","));
		`))
		assert.Equal(t, []string{"secret fault,fault,fault,fault,fault,fault,fault,fault"}, h.lines())
	})
}

func TestSession_HandlesAreScopedToOnePage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.session(`<div id="a"></div>`)
	require.NoError(t, first.Exec(ctx, `var fromFirstPage = document.getElementById("a");`))
	first.Close()

	second := h.session(`<div id="b"></div>`)

	t.Run("should fault before the new page issues handles", func(t *testing.T) {
		err := second.Exec(ctx, `fromFirstPage.getAttribute("id")`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unrecognized handle")
		assert.Equal(t, 0, second.Handles().Len())
	})

	t.Run("should fault after the new page reuses the same number", func(t *testing.T) {
		h.console = nil
		require.NoError(t, second.Exec(ctx, `
			var b = document.getElementById("b");
			try { fromFirstPage.setAttribute("id", "hijacked"); }
			catch (e) { console.log("caught: " + e); }
			console.log(b.handle === fromFirstPage.handle, b.id);
		`))
		assert.Equal(t, []string{"caught: unrecognized handle", "true b"}, h.lines())
		assert.NotNil(t, dom.FindElementByID(second.Document(), "b"))
		assert.Nil(t, dom.FindElementByID(second.Document(), "hijacked"))
	})

	t.Run("should accept nodes built from current handles", func(t *testing.T) {
		h.console = nil
		require.NoError(t, second.Exec(ctx, `console.log(new Node(fromFirstPage.handle).id)`))
		assert.Equal(t, []string{"b"}, h.lines())
	})
}

func TestSession_CreateMissingAttributes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	script := `document.getElementById("x").setAttribute("class", "y")`

	t.Run("should create the attribute by default", func(t *testing.T) {
		s := h.session(`<div id="x"></div>`)
		require.NoError(t, s.Exec(ctx, script))
		v, ok := dom.Attr(dom.FindElementByID(s.Document(), "x"), "class")
		require.True(t, ok)
		assert.Equal(t, "y", v)
	})

	t.Run("should leave the element unchanged when disabled", func(t *testing.T) {
		s := h.session(`<div id="x"></div>`, jsexec.WithCreateMissingAttributes(false))
		before := render(t, s.Document())
		require.NoError(t, s.Exec(ctx, script))
		_, ok := dom.Attr(dom.FindElementByID(s.Document(), "x"), "class")
		assert.False(t, ok)
		assert.Equal(t, before, render(t, s.Document()))
	})
}

func TestSession_ScriptFailuresDoNotStopLaterBodies(t *testing.T) {
	h := newHarness(t)
	s := h.session(`<div id="x">before</div>`)
	ctx := context.Background()

	err := s.Exec(ctx, `this is not javascript`)
	var scriptErr *jsbind.ScriptError
	require.True(t, errors.As(err, &scriptErr))
	assert.Equal(t, jsbind.ScriptException, scriptErr.Kind)

	err = s.Exec(ctx, `throw new Error("boom")`)
	require.True(t, errors.As(err, &scriptErr))
	assert.Contains(t, scriptErr.Message, "boom")

	require.NoError(t, s.Exec(ctx, `document.getElementById("x").innerText = "ran"`))
	assert.Equal(t, "ran", dom.TextContent(dom.FindElementByID(s.Document(), "x")))
}

func TestSession_Timeout(t *testing.T) {
	h := newHarness(t)
	s := h.session(`<div id="x"></div>`, jsexec.WithTimeout(100*time.Millisecond))
	ctx := context.Background()

	err := s.Exec(ctx, `while (true) {}`)
	require.Error(t, err)

	var scriptErr *jsbind.ScriptError
	require.True(t, errors.As(err, &scriptErr))
	assert.True(t, scriptErr.Interrupted())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, s.Err(), "an interrupted body must not break the session")

	t.Run("should run the next body normally", func(t *testing.T) {
		require.NoError(t, s.Exec(ctx, `document.getElementById("x").setAttribute("after", "1")`))
	})
}

func TestSession_ContextCancellation(t *testing.T) {
	h := newHarness(t)
	s := h.session(`<div></div>`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := s.Exec(ctx, `for (;;) { document.querySelectorAll("div"); }`)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_Deterministic(t *testing.T) {
	const markup = `<ul><li id="a">1</li><li id="b">2</li><li>3</li></ul>`
	const script = `
		var items = document.querySelectorAll("li");
		for (var i = 0; i < items.length; i++) {
			items[i].setAttribute("data-i", String(i));
			console.log(items[i].handle, items[i].getAttribute("id"));
		}
		document.getElementById("b").innerText = "two";
	`

	run := func() (string, []consoleLine) {
		h := newHarness(t)
		s := h.session(markup)
		require.NoError(t, s.Exec(context.Background(), script))
		return render(t, s.Document()), h.console
	}

	doc1, console1 := run()
	doc2, console2 := run()
	assert.Equal(t, doc1, doc2)
	assert.Equal(t, console1, console2)
	assert.Equal(t, consoleLine{"log", "1 a"}, console1[0])
	assert.Equal(t, consoleLine{"log", "3 null"}, console1[2])
}

func TestSession_ConsoleLevels(t *testing.T) {
	h := newHarness(t)
	s := h.session(`<div></div>`)

	require.NoError(t, s.Exec(context.Background(), `
		console.log("a", 1, true);
		console.warn("careful");
		console.error("bad");
	`))
	assert.Equal(t, []consoleLine{
		{"log", "a 1 true"},
		{"warn", "careful"},
		{"error", "bad"},
	}, h.console)
}

func TestSession_WorkerStopped(t *testing.T) {
	h := newHarness(t)
	s := h.session(`<div></div>`)

	require.NoError(t, h.worker.Shutdown(context.Background()))

	err := s.Exec(context.Background(), `1`)
	require.Error(t, err)
	assert.True(t, jsbind.IsFatal(err))
	assert.ErrorIs(t, err, jsbind.ErrWorkerStopped)

	t.Run("should keep failing fast", func(t *testing.T) {
		assert.Same(t, err, s.Exec(context.Background(), `1`))
		assert.Same(t, err, s.Err())
	})
}

func TestSession_Metrics(t *testing.T) {
	h := newHarness(t)
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	s := h.session(`<div id="x"></div>`, jsexec.WithMetrics(m))
	ctx := context.Background()

	require.NoError(t, s.Exec(ctx, `document.getElementById("x").setAttribute("a", "b")`))
	require.Error(t, s.Exec(ctx, `throw 1`))
	s.Close()

	count, err := testutil.GatherAndCount(reg, "retumi_bridge_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "expected one series per request kind")

	count, err = testutil.GatherAndCount(reg, "retumi_scripts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "expected ok and error outcomes")

	count, err = testutil.GatherAndCount(reg, "retumi_session_handles")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
