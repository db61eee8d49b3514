// internal/browser/jsexec/worker.go
package jsexec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/retumi/internal/browser/jsbind"
	"github.com/xkilldash9x/retumi/internal/browser/shim"
)

// DefaultReplyTimeout bounds how long a native entry point waits for the
// document owner to answer.
const DefaultReplyTimeout = 30 * time.Second

// maxCallStackSize caps script recursion so runaway recursion ends the body
// instead of growing the heap until the timeout fires.
const maxCallStackSize = 1024

// WorkerConfig configures the script worker.
type WorkerConfig struct {
	// ReplyTimeout bounds each native call's wait for a reply. Zero waits forever.
	ReplyTimeout time.Duration
	// Natives overrides the global names of the native entry points.
	Natives shim.Natives
}

// Worker owns the script engine. A single goroutine creates the goja runtime,
// evaluates the runtime shim and then runs one script body per Execute
// command until it is told to shut down. The runtime is never touched from
// any other goroutine, except through the goroutine-safe Interrupt.
type Worker struct {
	cfg    WorkerConfig
	logger *zap.Logger

	inbox chan jsbind.Command
	done  chan struct{}

	// mu is held for a whole script body and for shutdown, so Shutdown can
	// never land while a body is in flight.
	mu      sync.Mutex
	started atomic.Bool

	// Written by the worker goroutine before Start returns.
	vm      *goja.Runtime
	natives *natives

	// err is written before done is closed.
	err error
}

// NewWorker creates a worker. Call Start to launch it.
func NewWorker(cfg WorkerConfig, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Natives == (shim.Natives{}) {
		cfg.Natives = shim.DefaultNatives()
	}
	return &Worker{
		cfg:    cfg,
		logger: logger.Named("jsexec.worker"),
		inbox:  make(chan jsbind.Command),
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine and waits for engine initialization.
// An *jsbind.InitError means the worker has already exited.
func (w *Worker) Start() error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("script worker already started")
	}
	ready := make(chan error, 1)
	go w.run(ready)
	return <-ready
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the reason the worker stopped, or nil if it is still running or
// stopped cleanly.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Shutdown stops an idle worker and waits for its goroutine to exit. It waits
// for any script body in flight to finish first.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started.Load() {
		return nil
	}

	conn := jsbind.NewConn()
	select {
	case w.inbox <- jsbind.Shutdown{Conn: conn}:
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return fmt.Errorf("failed to deliver shutdown to script worker: %w", ctx.Err())
	}

	// The worker acknowledges once and then exits; wait for both.
	select {
	case <-conn.Requests:
	case <-w.done:
	case <-ctx.Done():
		return fmt.Errorf("script worker did not acknowledge shutdown: %w", ctx.Err())
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		return fmt.Errorf("script worker did not exit: %w", ctx.Err())
	}
	w.logger.Debug("Script worker joined")
	return nil
}

// interrupt asks the engine to abort the running body. The cause surfaces as
// the Err of the resulting ScriptError.
func (w *Worker) interrupt(cause error) {
	if w.vm != nil {
		w.vm.Interrupt(cause)
	}
}

// stoppedErr describes why a dead worker can no longer serve a session.
func (w *Worker) stoppedErr() error {
	if w.err != nil {
		return fmt.Errorf("%w: %v", jsbind.ErrWorkerStopped, w.err)
	}
	return jsbind.ErrWorkerStopped
}

func (w *Worker) run(ready chan<- error) {
	defer close(w.done)

	if err := w.init(); err != nil {
		w.err = err
		w.logger.Error("Script engine failed to initialize", zap.Error(err))
		ready <- err
		return
	}
	ready <- nil
	w.logger.Debug("Script worker started")

	for {
		cmd := <-w.inbox
		switch c := cmd.(type) {
		case jsbind.Execute:
			if c.Conn == nil {
				w.err = &jsbind.ProtocolError{Expected: "execute with a session", Got: "execute without one"}
				w.logger.Error("Script worker stopping", zap.Error(w.err))
				return
			}
			w.execute(c)
		case jsbind.Shutdown:
			if c.Conn != nil {
				c.Conn.Requests <- jsbind.SessionDone{}
			}
			w.logger.Debug("Script worker received shutdown")
			return
		default:
			got := "nil"
			if cmd != nil {
				got = cmd.Kind()
			}
			w.err = &jsbind.ProtocolError{Expected: "execute or shutdown", Got: got}
			w.logger.Error("Script worker stopping", zap.Error(w.err))
			return
		}
	}
}

// init builds the runtime. Any failure leaves no engine behind.
func (w *Worker) init() error {
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)

	n, err := newNatives(vm, w.cfg.ReplyTimeout, w.logger)
	if err != nil {
		return &jsbind.InitError{Stage: "prepare natives", Err: err}
	}
	for _, ep := range n.entryPoints(w.cfg.Natives) {
		if err := vm.Set(ep.name, ep.fn); err != nil {
			return &jsbind.InitError{Stage: fmt.Sprintf("register native %q", ep.name), Err: err}
		}
	}

	src, err := shim.RuntimeShim(w.cfg.Natives)
	if err != nil {
		return &jsbind.InitError{Stage: "build runtime shim", Err: err}
	}
	if _, err := vm.RunString(src); err != nil {
		return &jsbind.InitError{Stage: "evaluate runtime shim", Err: err}
	}

	w.vm = vm
	w.natives = n
	return nil
}

func (w *Worker) execute(cmd jsbind.Execute) {
	// An interrupt aimed at the previous body may have landed after it ended.
	w.vm.ClearInterrupt()

	w.natives.bind(cmd.Conn)
	err := w.evaluate(cmd.Source)
	if failure := w.natives.unbind(); failure != nil {
		err = failure
	}
	if err != nil {
		w.logger.Warn("Script body failed", zap.Error(err))
	}
	cmd.Conn.Requests <- jsbind.SessionDone{Err: err}
}

func (w *Worker) evaluate(source string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &jsbind.ScriptError{Kind: jsbind.ScriptPanic, Message: fmt.Sprint(r)}
		}
	}()

	_, runErr := w.vm.RunString(source)
	if runErr == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(runErr, &interrupted) {
		cause, _ := interrupted.Value().(error)
		return &jsbind.ScriptError{Kind: jsbind.ScriptInterrupted, Message: interrupted.Error(), Err: cause}
	}
	var exception *goja.Exception
	if errors.As(runErr, &exception) {
		msg := exception.Error()
		if v := exception.Value(); v != nil {
			msg = v.String()
		}
		return &jsbind.ScriptError{Kind: jsbind.ScriptException, Message: msg, Err: runErr}
	}
	return &jsbind.ScriptError{Kind: jsbind.ScriptException, Message: runErr.Error(), Err: runErr}
}
