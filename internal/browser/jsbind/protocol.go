// internal/browser/jsbind/protocol.go
package jsbind

// This file defines the messages exchanged between the script worker and the
// goroutine that owns the document. The conversation is strictly alternating:
// the worker sends one Request and blocks until it receives the matching
// Reply or Fault, so at most one message is ever queued in either direction.

// Request is a message from the script worker to the document owner.
type Request interface {
	// Kind names the request for logs and metrics.
	Kind() string
	isRequest()
}

// Print carries one line of console output.
type Print struct {
	Level string
	Text  string
}

// GetElementByID asks for the first element whose id attribute equals ID.
type GetElementByID struct {
	ID string
}

// QuerySelector asks for every element with the given tag name.
type QuerySelector struct {
	Tag string
}

// GetAttribute reads one attribute of the node behind Handle.
type GetAttribute struct {
	Handle Handle
	Name   string
}

// SetAttribute writes one attribute of the node behind Handle.
type SetAttribute struct {
	Handle Handle
	Name   string
	Value  string
}

// SetText rewrites the direct text children of the node behind Handle.
type SetText struct {
	Handle Handle
	Text   string
}

// SessionDone is sent once per script body when evaluation ends. Err is nil
// when the body ran to completion.
type SessionDone struct {
	Err error
}

func (Print) Kind() string          { return "print" }
func (GetElementByID) Kind() string { return "get_element_by_id" }
func (QuerySelector) Kind() string  { return "query_selector" }
func (GetAttribute) Kind() string   { return "get_attribute" }
func (SetAttribute) Kind() string   { return "set_attribute" }
func (SetText) Kind() string        { return "set_text" }
func (SessionDone) Kind() string    { return "session_done" }

func (Print) isRequest()          {}
func (GetElementByID) isRequest() {}
func (QuerySelector) isRequest()  {}
func (GetAttribute) isRequest()   {}
func (SetAttribute) isRequest()   {}
func (SetText) isRequest()        {}
func (SessionDone) isRequest()    {}

// Command is a message to the script worker. Execute and Shutdown travel on
// the worker's inbox; Reply and Fault answer a pending Request on the
// session's Conn.
type Command interface {
	Kind() string
	isCommand()
}

// Execute starts evaluation of one script body. All requests the body issues
// go out on Conn.
type Execute struct {
	Source string
	Conn   *Conn
}

// Reply answers a request with a JSON encoded value.
type Reply struct {
	Payload []byte
}

// Fault answers a request with a JSON encoded value that is thrown inside the
// script.
type Fault struct {
	Payload []byte
}

// Shutdown stops an idle worker. The worker acknowledges with a SessionDone on
// Conn before it exits.
type Shutdown struct {
	Conn *Conn
}

func (Execute) Kind() string  { return "execute" }
func (Reply) Kind() string    { return "reply" }
func (Fault) Kind() string    { return "fault" }
func (Shutdown) Kind() string { return "shutdown" }

func (Execute) isCommand()  {}
func (Reply) isCommand()    {}
func (Fault) isCommand()    {}
func (Shutdown) isCommand() {}

// Conn is the channel pair of one session.
type Conn struct {
	Requests chan Request
	Replies  chan Command
}

// NewConn creates the channels for a new session. One slot per direction is
// enough because the protocol never has more than one message in flight.
func NewConn() *Conn {
	return &Conn{
		Requests: make(chan Request, 1),
		Replies:  make(chan Command, 1),
	}
}

// Null is the JSON payload for a request with no result.
var Null = []byte("null")
