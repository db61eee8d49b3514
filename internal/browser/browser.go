// internal/browser/browser.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/retumi/internal/browser/dom"
	"github.com/xkilldash9x/retumi/internal/browser/jsbind"
	"github.com/xkilldash9x/retumi/internal/browser/jsexec"
	"github.com/xkilldash9x/retumi/internal/browser/network"
	"github.com/xkilldash9x/retumi/internal/browser/render"
	"github.com/xkilldash9x/retumi/internal/config"
	"github.com/xkilldash9x/retumi/internal/observability"
)

// ErrClosed is returned by calls on a browser after Close.
var ErrClosed = errors.New("browser is closed")

// Browser loads pages, runs their scripts and renders them as text. It keeps
// one script worker for its whole life; every page gets its own session on it.
type Browser struct {
	cfg      *config.Config
	logger   *zap.Logger
	loader   *network.Loader
	worker   *jsexec.Worker
	renderer *render.Renderer
	metrics  *observability.Metrics
	console  io.Writer

	// mu serializes page loads and Close.
	mu     sync.Mutex
	closed bool
}

// Option configures a Browser.
type Option func(*Browser)

// WithConsoleWriter forwards script console output to w as it happens.
func WithConsoleWriter(w io.Writer) Option {
	return func(b *Browser) { b.console = w }
}

// WithMetrics records script and bridge activity.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Browser) { b.metrics = m }
}

// WithRenderer replaces the renderer built from the render configuration.
func WithRenderer(r *render.Renderer) Option {
	return func(b *Browser) { b.renderer = r }
}

// New creates a browser and, when scripting is enabled, starts its worker.
// A *jsbind.InitError means the engine could not be prepared.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Browser, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Browser{
		cfg:    cfg,
		logger: logger.Named("browser"),
		loader: network.NewLoader(cfg.Network, logger),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.renderer == nil {
		b.renderer = render.New(render.Options{
			Width:         cfg.Render.Width,
			Profile:       render.ProfileFor(cfg.Render.Color),
			LinkFootnotes: cfg.Render.LinkFootnotes,
			Logger:        logger,
		})
	}

	if cfg.Script.Enabled {
		w := jsexec.NewWorker(jsexec.WorkerConfig{ReplyTimeout: cfg.Script.ReplyTimeout}, logger)
		if err := w.Start(); err != nil {
			return nil, fmt.Errorf("failed to start script worker: %w", err)
		}
		b.worker = w
	}
	b.logger.Debug("Browser ready", zap.Bool("scripts", b.worker != nil))
	return b, nil
}

// Close stops the script worker. It waits for a page in flight to finish.
func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.worker == nil {
		return nil
	}
	if err := b.worker.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop script worker: %w", err)
	}
	b.logger.Debug("Browser closed")
	return nil
}

// Fetch loads a target without running or rendering it. It is safe to call
// concurrently.
func (b *Browser) Fetch(ctx context.Context, target string) (*network.Resource, error) {
	return b.loader.Load(ctx, target)
}

// Browse fetches a target and opens it.
func (b *Browser) Browse(ctx context.Context, target string) (*Page, error) {
	res, err := b.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, res)
}

// Open parses a loaded resource, runs its scripts in document order and
// renders the resulting tree.
//
// Script failures are recorded per script and do not fail the call. A fatal
// bridge error stops the remaining scripts and is reported in Page.Err; the
// page is still rendered from the tree as it stood.
func (b *Browser) Open(ctx context.Context, res *network.Resource) (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	doc, err := parseResource(res)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", res.URL, err)
	}

	query := goquery.NewDocumentFromNode(doc)
	base := baseURL(query, res.URL)
	page := &Page{
		Title: strings.TrimSpace(query.Find("title").First().Text()),
	}
	if res.URL != nil {
		page.URL = res.URL.String()
	}

	if b.worker != nil && res.IsHTML() {
		page.Err = b.runScripts(ctx, doc, base, page)
	}

	page.Text = b.renderer.Render(doc, base)
	b.logger.Info("Page loaded",
		zap.String("url", page.URL),
		zap.Int("scripts", len(page.Scripts)),
		zap.Int("console_lines", len(page.Console)),
	)
	return page, nil
}

func (b *Browser) runScripts(ctx context.Context, doc *html.Node, base *url.URL, page *Page) error {
	scripts := dom.ExtractScripts(doc)
	if len(scripts) == 0 {
		return nil
	}

	sess := jsexec.NewSession(b.worker, doc,
		jsexec.WithConsole(func(level, text string) {
			line := ConsoleLine{Level: level, Text: text}
			page.Console = append(page.Console, line)
			b.forward(line)
		}),
		jsexec.WithTimeout(b.cfg.Script.Timeout),
		jsexec.WithCreateMissingAttributes(b.cfg.Script.CreateMissingAttributes),
		jsexec.WithMetrics(b.metrics),
		jsexec.WithLogger(b.logger),
	)
	defer sess.Close()
	page.SessionID = sess.ID()

	for i, n := range scripts {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := ScriptResult{Index: i, XPath: dom.GenerateXPath(n)}

		source, ok, err := b.scriptSource(ctx, n, base)
		switch {
		case err != nil:
			result.Err = err
			b.metrics.ObserveScript(observability.OutcomeError)
			page.Scripts = append(page.Scripts, result)
			continue
		case !ok:
			result.Skipped = true
			b.metrics.ObserveScript(observability.OutcomeSkipped)
			page.Scripts = append(page.Scripts, result)
			continue
		}

		start := time.Now()
		result.Err = sess.Exec(ctx, source)
		result.Duration = time.Since(start)
		page.Scripts = append(page.Scripts, result)

		if result.Err == nil {
			continue
		}
		if jsbind.IsFatal(result.Err) {
			return result.Err
		}
		b.logger.Warn("Script failed",
			zap.Int("index", i),
			zap.String("xpath", result.XPath),
			zap.Error(result.Err),
		)
	}
	return nil
}

// scriptSource returns the body to run for a script element. ok is false for
// scripts that are not run at all.
func (b *Browser) scriptSource(ctx context.Context, n *html.Node, base *url.URL) (source string, ok bool, err error) {
	if dom.IsExecutable(n) {
		return dom.ScriptSource(n), true, nil
	}
	if !dom.IsExternal(n) || !dom.IsJavaScript(n) || b.cfg.Script.SkipExternal {
		return "", false, nil
	}

	src, _ := dom.Attr(n, "src")
	target := strings.TrimSpace(src)
	if base != nil {
		ref, err := base.Parse(target)
		if err != nil {
			return "", false, fmt.Errorf("invalid script src %q: %w", src, err)
		}
		target = ref.String()
	}
	res, err := b.loader.Load(ctx, target)
	if err != nil {
		return "", false, err
	}
	r, err := res.Reader()
	if err != nil {
		return "", false, fmt.Errorf("failed to decode script %s: %w", target, err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", false, fmt.Errorf("failed to decode script %s: %w", target, err)
	}
	return string(body), true, nil
}

func (b *Browser) forward(line ConsoleLine) {
	if b.console == nil {
		return
	}
	prefix := b.cfg.Script.ConsolePrefix
	if prefix != "" {
		prefix += " "
	}
	if line.Level == "log" {
		fmt.Fprintf(b.console, "%s%s\n", prefix, line.Text)
		return
	}
	fmt.Fprintf(b.console, "%s%s: %s\n", prefix, line.Level, line.Text)
}

// parseResource builds a document tree. Resources that are not markup become
// a single preformatted block.
func parseResource(res *network.Resource) (*html.Node, error) {
	r, err := res.Reader()
	if err != nil {
		return nil, err
	}
	if res.IsHTML() {
		return dom.Parse(r)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc := &html.Node{Type: html.DocumentNode}
	pre := &html.Node{Type: html.ElementNode, Data: "pre", DataAtom: atom.Pre}
	pre.AppendChild(&html.Node{Type: html.TextNode, Data: string(body)})
	doc.AppendChild(pre)
	return doc, nil
}

// baseURL applies a <base href> to the document URL.
func baseURL(query *goquery.Document, u *url.URL) *url.URL {
	href, ok := query.Find("base[href]").First().Attr("href")
	if !ok || u == nil {
		return u
	}
	ref, err := u.Parse(strings.TrimSpace(href))
	if err != nil {
		return u
	}
	return ref
}
