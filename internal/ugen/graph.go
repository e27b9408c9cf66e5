// Package ugen holds the signal graph: unit generator nodes, the edges
// between them and the cached order they are ticked in.
package ugen

import (
	"github.com/alltom/ckv/internal/logger"
)

// DefaultPort is the port used when none is named
const DefaultPort = "default"

// Observer is told whenever a tick order is rebuilt
type Observer interface {
	OrderRebuilt(nodes int)
}

type nopObserver struct{}

func (nopObserver) OrderRebuilt(int) {}

type edge struct {
	src   Node
	count int
}

type port struct {
	name  string
	edges []edge
}

// inputs of one node, ports and sources both in insertion order
type inputs struct {
	ports []port
}

func (in *inputs) port(name string, create bool) *port {
	for i := range in.ports {
		if in.ports[i].name == name {
			return &in.ports[i]
		}
	}
	if !create {
		return nil
	}
	in.ports = append(in.ports, port{name: name})
	return &in.ports[len(in.ports)-1]
}

// Graph maps each destination to its input ports. It never owns the nodes.
type Graph struct {
	in map[Node]*inputs

	order []Node
	sinks []Node
	valid bool

	log      logger.Logger
	observer Observer
}

// Option configures a Graph
type Option func(*Graph)

// WithLogger sets the graph logger
func WithLogger(l logger.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.log = l
		}
	}
}

// WithObserver reports order rebuilds
func WithObserver(o Observer) Option {
	return func(g *Graph) {
		if o != nil {
			g.observer = o
		}
	}
}

// NewGraph returns an empty graph
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		in:       make(map[Node]*inputs),
		log:      logger.Discard(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func portName(p string) string {
	if p == "" {
		return DefaultPort
	}
	return p
}

// Connect adds one more edge from src into dst's port. Connecting the same
// pair twice makes src count twice in Sum.
func (g *Graph) Connect(src, dst Node, p string) {
	p = portName(p)
	in := g.in[dst]
	if in == nil {
		in = &inputs{}
		g.in[dst] = in
	}
	pt := in.port(p, true)
	g.valid = false
	for i := range pt.edges {
		if pt.edges[i].src == src {
			pt.edges[i].count++
			return
		}
	}
	pt.edges = append(pt.edges, edge{src: src, count: 1})
}

// Disconnect removes one edge; a pair that is not connected is left alone
func (g *Graph) Disconnect(src, dst Node, p string) {
	p = portName(p)
	g.valid = false
	in := g.in[dst]
	if in == nil {
		return
	}
	pt := in.port(p, false)
	if pt == nil {
		return
	}
	for i := range pt.edges {
		if pt.edges[i].src != src {
			continue
		}
		if pt.edges[i].count > 1 {
			pt.edges[i].count--
		} else {
			pt.edges = append(pt.edges[:i], pt.edges[i+1:]...)
		}
		return
	}
}

// Chain connects each adjacent pair on the default port
func (g *Graph) Chain(nodes ...Node) {
	for i := 0; i+1 < len(nodes); i++ {
		g.Connect(nodes[i], nodes[i+1], DefaultPort)
	}
}

// Multiplicity returns how many times src feeds dst's port
func (g *Graph) Multiplicity(src, dst Node, p string) int {
	in := g.in[dst]
	if in == nil {
		return 0
	}
	pt := in.port(portName(p), false)
	if pt == nil {
		return 0
	}
	for _, e := range pt.edges {
		if e.src == src {
			return e.count
		}
	}
	return 0
}

// Connected reports whether anything feeds n's port
func (g *Graph) Connected(n Node, p string) bool {
	in := g.in[n]
	if in == nil {
		return false
	}
	pt := in.port(portName(p), false)
	return pt != nil && len(pt.edges) > 0
}

// Sum adds up the last outputs feeding n's port, each times its multiplicity
func (g *Graph) Sum(n Node, p string) float64 {
	in := g.in[n]
	if in == nil {
		return 0
	}
	pt := in.port(portName(p), false)
	if pt == nil {
		return 0
	}
	s := 0.0
	for _, e := range pt.edges {
		s += e.src.Last() * float64(e.count)
	}
	return s
}

// Forget drops every edge into and out of n
func (g *Graph) Forget(n Node) {
	delete(g.in, n)
	for _, in := range g.in {
		for i := range in.ports {
			pt := &in.ports[i]
			kept := pt.edges[:0]
			for _, e := range pt.edges {
				if e.src != n {
					kept = append(kept, e)
				}
			}
			pt.edges = kept
		}
	}
	g.valid = false
}

// TickAll ticks every node reachable from sinks exactly once, inputs before
// the nodes they feed. The order is rebuilt only after the graph changes or
// the sink set does; ticking itself does not allocate.
func (g *Graph) TickAll(sinks []Node) {
	for _, n := range g.Order(sinks) {
		n.Tick(g)
	}
}

// Order returns the tick order for sinks, rebuilding it if stale
func (g *Graph) Order(sinks []Node) []Node {
	if !g.valid || !sameNodes(g.sinks, sinks) {
		g.rebuild(sinks)
	}
	return g.order
}

func sameNodes(a, b []Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sources lists n's distinct inputs across all ports
func (g *Graph) sources(n Node, dst []Node) []Node {
	in := g.in[n]
	if in == nil {
		return dst
	}
	for _, pt := range in.ports {
		for _, e := range pt.edges {
			dup := false
			for _, d := range dst {
				if d == e.src {
					dup = true
					break
				}
			}
			if !dup {
				dst = append(dst, e.src)
			}
		}
	}
	return dst
}

// rebuild gathers inputs breadth first from the sinks, one level at a time.
// A node reached at several depths lands in its deepest level, so reading
// the levels back from the deepest one, each reversed, ticks inputs before
// their consumers. Within a level only the last occurrence matters, which
// keeps a level no larger than the set of distinct nodes. A feedback cycle
// gets cut once the depth reaches the number of distinct nodes, a depth no
// acyclic graph of that size can reach.
func (g *Graph) rebuild(sinks []Node) {
	distinct := g.reachable(sinks)

	var levels [][]Node
	cur := lastOccurrences(sinks)
	for len(cur) > 0 && len(levels) < distinct {
		levels = append(levels, cur)
		var next []Node
		for _, n := range cur {
			next = append(next, g.sources(n, nil)...)
		}
		cur = lastOccurrences(next)
	}
	if len(cur) > 0 {
		g.log.Debug("feedback cycle cut", logger.Int("depth", len(levels)))
	}

	seen := make(map[Node]struct{}, distinct)
	order := g.order[:0]
	for l := len(levels) - 1; l >= 0; l-- {
		lv := levels[l]
		for i := len(lv) - 1; i >= 0; i-- {
			if _, ok := seen[lv[i]]; ok {
				continue
			}
			seen[lv[i]] = struct{}{}
			order = append(order, lv[i])
		}
	}

	g.order = order
	g.sinks = append(g.sinks[:0], sinks...)
	g.valid = true
	g.observer.OrderRebuilt(len(order))
	g.log.Debug("tick order rebuilt", logger.Int("nodes", len(order)), logger.Int("levels", len(levels)))
}

// reachable counts the distinct nodes feeding sinks, sinks included
func (g *Graph) reachable(sinks []Node) int {
	seen := make(map[Node]struct{})
	stack := append([]Node(nil), sinks...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		stack = g.sources(n, stack)
	}
	return len(seen)
}

// lastOccurrences drops all but the last copy of each node, keeping order
func lastOccurrences(ns []Node) []Node {
	if len(ns) == 0 {
		return nil
	}
	seen := make(map[Node]struct{}, len(ns))
	out := make([]Node, 0, len(ns))
	for i := len(ns) - 1; i >= 0; i-- {
		if _, ok := seen[ns[i]]; ok {
			continue
		}
		seen[ns[i]] = struct{}{}
		out = append(out, ns[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
