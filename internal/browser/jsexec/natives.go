// internal/browser/jsexec/natives.go
package jsexec

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/xkilldash9x/retumi/internal/browser/jsbind"
	"github.com/xkilldash9x/retumi/internal/browser/shim"
)

// natives implements the entry points the runtime shim calls. Each one sends
// exactly one request and blocks for exactly one reply, which is what keeps
// the bridge strictly alternating.
type natives struct {
	vm           *goja.Runtime
	parseJSON    goja.Callable
	replyTimeout time.Duration
	logger       *zap.Logger

	// conn is the session of the body being evaluated.
	conn *jsbind.Conn
	// session counts distinct session connections. Node wrappers record it
	// so a wrapper outliving its page cannot reach the next page's table.
	session     int64
	sessionConn *jsbind.Conn
	// failure breaks the rest of the body once the channel is out of step.
	failure error
}

type entryPoint struct {
	name string
	fn   func(goja.FunctionCall) goja.Value
}

func newNatives(vm *goja.Runtime, replyTimeout time.Duration, logger *zap.Logger) (*natives, error) {
	jsonObj := vm.Get("JSON")
	if jsonObj == nil || goja.IsUndefined(jsonObj) {
		return nil, errors.New("runtime has no JSON object")
	}
	parse, ok := goja.AssertFunction(jsonObj.ToObject(vm).Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is not callable")
	}
	return &natives{vm: vm, parseJSON: parse, replyTimeout: replyTimeout, logger: logger}, nil
}

func (n *natives) entryPoints(names shim.Natives) []entryPoint {
	return []entryPoint{
		{names.Print, n.print},
		{names.GetElementByID, n.getElementByID},
		{names.QuerySelector, n.querySelector},
		{names.GetAttribute, n.getAttribute},
		{names.SetAttribute, n.setAttribute},
		{names.SetText, n.setText},
		{names.Session, n.currentSession},
	}
}

func (n *natives) bind(conn *jsbind.Conn) {
	if conn != n.sessionConn {
		n.session++
		n.sessionConn = conn
	}
	n.conn = conn
	n.failure = nil
}

func (n *natives) unbind() error {
	failure := n.failure
	n.conn = nil
	n.failure = nil
	return failure
}

func (n *natives) currentSession(goja.FunctionCall) goja.Value {
	return n.vm.ToValue(n.session)
}

func (n *natives) print(call goja.FunctionCall) goja.Value {
	return n.roundTrip(jsbind.Print{Level: call.Argument(0).String(), Text: call.Argument(1).String()})
}

func (n *natives) getElementByID(call goja.FunctionCall) goja.Value {
	return n.roundTrip(jsbind.GetElementByID{ID: call.Argument(0).String()})
}

func (n *natives) querySelector(call goja.FunctionCall) goja.Value {
	return n.roundTrip(jsbind.QuerySelector{Tag: call.Argument(0).String()})
}

func (n *natives) getAttribute(call goja.FunctionCall) goja.Value {
	return n.roundTrip(jsbind.GetAttribute{
		Handle: handleArg(call.Argument(0)),
		Name:   call.Argument(1).String(),
	})
}

func (n *natives) setAttribute(call goja.FunctionCall) goja.Value {
	return n.roundTrip(jsbind.SetAttribute{
		Handle: handleArg(call.Argument(0)),
		Name:   call.Argument(1).String(),
		Value:  call.Argument(2).String(),
	})
}

func (n *natives) setText(call goja.FunctionCall) goja.Value {
	return n.roundTrip(jsbind.SetText{
		Handle: handleArg(call.Argument(0)),
		Text:   call.Argument(1).String(),
	})
}

// handleArg converts a script value to a handle. Anything that is not an
// integral number maps to 0, which is never issued and so resolves to a fault.
func handleArg(v goja.Value) jsbind.Handle {
	if v == nil {
		return 0
	}
	switch x := v.Export().(type) {
	case int64:
		return jsbind.Handle(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) <= maxSafeInteger {
			return jsbind.Handle(x)
		}
	}
	return 0
}

const maxSafeInteger = 1<<53 - 1

func (n *natives) roundTrip(req jsbind.Request) goja.Value {
	if n.failure != nil {
		panic(n.vm.NewGoError(n.failure))
	}
	if n.conn == nil {
		n.failure = &jsbind.ProtocolError{Expected: "an active session", Got: req.Kind()}
		panic(n.vm.NewGoError(n.failure))
	}

	n.conn.Requests <- req

	reply, err := n.await()
	if err != nil {
		n.failure = err
		panic(n.vm.NewGoError(err))
	}

	switch r := reply.(type) {
	case jsbind.Reply:
		return n.decode(r.Payload)
	case jsbind.Fault:
		panic(n.decode(r.Payload))
	default:
		got := "nil"
		if reply != nil {
			got = reply.Kind()
		}
		n.failure = &jsbind.ProtocolError{Expected: "reply or fault", Got: got}
		panic(n.vm.NewGoError(n.failure))
	}
}

func (n *natives) await() (jsbind.Command, error) {
	if n.replyTimeout <= 0 {
		return <-n.conn.Replies, nil
	}
	timer := time.NewTimer(n.replyTimeout)
	defer timer.Stop()
	select {
	case reply := <-n.conn.Replies:
		return reply, nil
	case <-timer.C:
		n.logger.Error("Document owner did not answer a bridge request", zap.Duration("timeout", n.replyTimeout))
		return nil, &jsbind.ChannelError{Op: "await reply", Err: jsbind.ErrReplyTimeout}
	}
}

// decode turns a JSON payload into a script value using the engine's own
// JSON.parse, so arrays and objects behave like native ones.
func (n *natives) decode(payload []byte) goja.Value {
	if len(payload) == 0 {
		return goja.Null()
	}
	v, err := n.parseJSON(goja.Undefined(), n.vm.ToValue(string(payload)))
	if err != nil {
		panic(n.vm.NewGoError(fmt.Errorf("malformed bridge payload: %w", err)))
	}
	return v
}
