// internal/browser/jsbind/handles.go
package jsbind

import "golang.org/x/net/html"

// Handle is the opaque integer a script holds in place of a node reference.
// Handles are issued from 1 upward; zero is never a valid handle.
type Handle int

// HandleTable maps handles to the nodes they stand for. It belongs to a single
// session and is only touched by the goroutine that owns the document.
// Entries are never removed; the whole table is dropped with its session.
type HandleTable struct {
	nodes []*html.Node
	index map[*html.Node]Handle
}

// NewHandleTable returns an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{index: make(map[*html.Node]Handle)}
}

// GetOrCreate returns the handle already issued for n, or issues the next one.
// Lookups are by node identity, so structurally equal nodes get distinct handles.
func (t *HandleTable) GetOrCreate(n *html.Node) Handle {
	if h, ok := t.index[n]; ok {
		return h
	}
	t.nodes = append(t.nodes, n)
	h := Handle(len(t.nodes))
	t.index[n] = h
	return h
}

// Lookup reports the handle of n without issuing one.
func (t *HandleTable) Lookup(n *html.Node) (Handle, bool) {
	h, ok := t.index[n]
	return h, ok
}

// Resolve returns the node for h, or false if this table never issued it.
func (t *HandleTable) Resolve(h Handle) (*html.Node, bool) {
	if h < 1 || int(h) > len(t.nodes) {
		return nil, false
	}
	return t.nodes[h-1], true
}

// Len is the number of distinct nodes registered.
func (t *HandleTable) Len() int {
	return len(t.nodes)
}
