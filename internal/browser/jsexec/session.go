// internal/browser/jsexec/session.go
package jsexec

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/retumi/internal/browser/dom"
	"github.com/xkilldash9x/retumi/internal/browser/jsbind"
	"github.com/xkilldash9x/retumi/internal/observability"
)

// ConsoleFunc receives console output produced by scripts.
type ConsoleFunc func(level, text string)

// Session runs the scripts of one loaded document. It owns the document tree
// and a handle table for as long as the page is loaded, and services every
// request the worker sends while one of its script bodies runs. A session is
// bound to a single document; a new page needs a new session.
type Session struct {
	id      string
	worker  *Worker
	doc     *html.Node
	handles *jsbind.HandleTable
	conn    *jsbind.Conn

	console       ConsoleFunc
	timeout       time.Duration
	createMissing bool
	metrics       *observability.Metrics
	logger        *zap.Logger

	// broken is set by the first fatal error; later bodies fail fast with it.
	broken error
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithConsole sets the sink for console output.
func WithConsole(fn ConsoleFunc) SessionOption {
	return func(s *Session) { s.console = fn }
}

// WithTimeout bounds the run time of each script body. Zero disables the bound.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = d }
}

// WithCreateMissingAttributes controls whether setAttribute adds attributes
// the element does not have yet. It defaults to true; false turns such calls
// into no-ops.
func WithCreateMissingAttributes(create bool) SessionOption {
	return func(s *Session) { s.createMissing = create }
}

// WithMetrics records bridge activity.
func WithMetrics(m *observability.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// NewSession creates a session over doc with a fresh handle table and channel
// pair. Scripts run on w.
func NewSession(w *Worker, doc *html.Node, opts ...SessionOption) *Session {
	s := &Session{
		id:            uuid.NewString(),
		worker:        w,
		doc:           doc,
		handles:       jsbind.NewHandleTable(),
		conn:          jsbind.NewConn(),
		createMissing: true,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("jsexec.session").With(zap.String("session_id", s.id))
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Document returns the tree the session's scripts operate on.
func (s *Session) Document() *html.Node { return s.doc }

// Handles exposes the session's handle table.
func (s *Session) Handles() *jsbind.HandleTable { return s.handles }

// Err returns the fatal error that ended the session, if any.
func (s *Session) Err() error { return s.broken }

// Close records the session's final size. The session must not be used after.
func (s *Session) Close() {
	s.metrics.ObserveSessionHandles(s.handles.Len())
	s.logger.Debug("Session closed", zap.Int("handles", s.handles.Len()))
}

// Exec runs one script body to completion and services its requests.
//
// A script that throws, fails to parse, or is interrupted yields a
// *jsbind.ScriptError and leaves the session usable. Fatal errors
// (*jsbind.ChannelError, *jsbind.ProtocolError) end the session: this and
// every later call return them.
//
// When ctx is done or the session timeout expires, the engine is interrupted
// and Exec keeps answering requests until the body winds down.
func (s *Session) Exec(ctx context.Context, source string) error {
	if s.broken != nil {
		return s.broken
	}
	w := s.worker
	if w == nil {
		return s.fail(&jsbind.ChannelError{Op: "execute", Err: jsbind.ErrWorkerStopped})
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	select {
	case w.inbox <- jsbind.Execute{Source: source, Conn: s.conn}:
	case <-w.done:
		return s.fail(&jsbind.ChannelError{Op: "execute", Err: w.stoppedErr()})
	case <-ctx.Done():
		s.metrics.ObserveScript(observability.OutcomeInterrupted)
		return &jsbind.ScriptError{Kind: jsbind.ScriptInterrupted, Err: ctx.Err()}
	}

	cancelled := ctx.Done()
	for {
		select {
		case req := <-s.conn.Requests:
			if done, ok := req.(jsbind.SessionDone); ok {
				return s.finish(done.Err)
			}
			s.conn.Replies <- s.serve(req)
		case <-cancelled:
			s.logger.Warn("Interrupting script body", zap.Error(ctx.Err()))
			w.interrupt(ctx.Err())
			cancelled = nil
		case <-w.done:
			return s.fail(&jsbind.ChannelError{Op: "await request", Err: w.stoppedErr()})
		}
	}
}

func (s *Session) finish(err error) error {
	if err == nil {
		s.metrics.ObserveScript(observability.OutcomeOK)
		return nil
	}
	if jsbind.IsFatal(err) {
		return s.fail(err)
	}
	var scriptErr *jsbind.ScriptError
	if errors.As(err, &scriptErr) && scriptErr.Interrupted() {
		s.metrics.ObserveScript(observability.OutcomeInterrupted)
	} else {
		s.metrics.ObserveScript(observability.OutcomeError)
	}
	return err
}

func (s *Session) fail(err error) error {
	s.broken = err
	s.metrics.ObserveScript(observability.OutcomeFatal)
	s.logger.Error("Session failed", zap.Error(err))
	return err
}

// serve performs one request against the document and builds the answer.
func (s *Session) serve(req jsbind.Request) jsbind.Command {
	if req == nil {
		return s.fault(&jsbind.ProtocolError{Expected: "a DOM request", Got: "nil"})
	}
	start := time.Now()
	defer func() { s.metrics.ObserveRequest(req.Kind(), time.Since(start)) }()

	switch r := req.(type) {
	case jsbind.Print:
		s.logger.Debug("JS console", zap.String("level", r.Level), zap.String("text", r.Text))
		if s.console != nil {
			s.console(r.Level, r.Text)
		}
		return jsbind.Reply{Payload: jsbind.Null}

	case jsbind.GetElementByID:
		n := dom.FindElementByID(s.doc, r.ID)
		if n == nil {
			return jsbind.Reply{Payload: jsbind.Null}
		}
		return s.encode(s.handleFor(n))

	case jsbind.QuerySelector:
		nodes := dom.FindElementsByTag(s.doc, r.Tag)
		handles := make([]jsbind.Handle, 0, len(nodes))
		for _, n := range nodes {
			handles = append(handles, s.handleFor(n))
		}
		return s.encode(handles)

	case jsbind.GetAttribute:
		n, err := s.resolve(r.Handle)
		if err != nil {
			return s.fault(err)
		}
		if v, ok := dom.Attr(n, r.Name); ok {
			return s.encode(v)
		}
		return jsbind.Reply{Payload: jsbind.Null}

	case jsbind.SetAttribute:
		n, err := s.resolve(r.Handle)
		if err != nil {
			return s.fault(err)
		}
		if !dom.SetAttr(n, r.Name, r.Value, s.createMissing) {
			s.logger.Debug("setAttribute left a missing attribute unset",
				zap.Int("handle", int(r.Handle)), zap.String("name", r.Name))
		}
		return jsbind.Reply{Payload: jsbind.Null}

	case jsbind.SetText:
		n, err := s.resolve(r.Handle)
		if err != nil {
			return s.fault(err)
		}
		dom.SetText(n, r.Text)
		return jsbind.Reply{Payload: jsbind.Null}

	default:
		err := &jsbind.ProtocolError{Expected: "a DOM request", Got: req.Kind()}
		s.logger.Error("Unexpected request from script worker", zap.Error(err))
		return s.fault(err)
	}
}

func (s *Session) handleFor(n *html.Node) jsbind.Handle {
	if h, ok := s.handles.Lookup(n); ok {
		return h
	}
	h := s.handles.GetOrCreate(n)
	if ce := s.logger.Check(zap.DebugLevel, "Issued handle"); ce != nil {
		ce.Write(zap.Int("handle", int(h)), zap.String("xpath", dom.GenerateXPath(n)))
	}
	return h
}

func (s *Session) resolve(h jsbind.Handle) (*html.Node, error) {
	n, ok := s.handles.Resolve(h)
	if !ok {
		s.logger.Debug("Script used an unknown handle", zap.Int("handle", int(h)))
		return nil, &jsbind.HandleError{Handle: h}
	}
	return n, nil
}

func (s *Session) encode(v interface{}) jsbind.Command {
	payload, err := json.Marshal(v)
	if err != nil {
		return s.fault(err)
	}
	return jsbind.Reply{Payload: payload}
}

func (s *Session) fault(err error) jsbind.Command {
	payload, mErr := json.Marshal(err.Error())
	if mErr != nil {
		payload = []byte(`"internal bridge error"`)
	}
	return jsbind.Fault{Payload: payload}
}
