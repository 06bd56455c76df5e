package graph

import (
	"context"
	"fmt"
	"sync"

	"deepsearch/internal/logging"
)

// Config rides along every node invocation. SessionID identifies the
// research session for cancellation and failover bookkeeping.
type Config struct {
	SessionID string
}

// NodeFunc is one node: read the merged state, return a partial state.
type NodeFunc func(ctx context.Context, state State, cfg Config) (State, error)

// Dispatch is one parallel branch from a router: run Node with the current
// state overlaid by Overlay. A router returning a single Dispatch with a
// nil Overlay is a plain conditional jump.
type Dispatch struct {
	Node    string
	Overlay State
}

// RouterFunc inspects post-node state and picks what runs next.
type RouterFunc func(state State, cfg Config) ([]Dispatch, error)

// To is a router helper for a plain jump.
func To(node string) []Dispatch {
	return []Dispatch{{Node: node}}
}

// Builder assembles a graph. Not safe for concurrent use; Compile freezes
// it into an immutable Compiled value that is.
type Builder struct {
	schema Schema
	nodes  map[string]NodeFunc
	edges  map[string]string
	conds  map[string]RouterFunc
	entry  string
}

// New starts a builder over a state schema.
func New(schema Schema) *Builder {
	return &Builder{
		schema: schema,
		nodes:  make(map[string]NodeFunc),
		edges:  make(map[string]string),
		conds:  make(map[string]RouterFunc),
	}
}

// AddNode registers a node under a unique name.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	b.nodes[name] = fn
	return b
}

// AddEdge wires a sequential edge. to may be End.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges[from] = to
	return b
}

// AddConditionalEdges wires a router after from.
func (b *Builder) AddConditionalEdges(from string, router RouterFunc) *Builder {
	b.conds[from] = router
	return b
}

// SetEntry names the start node.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// Compile validates the wiring and freezes the graph.
func (b *Builder) Compile() (*Compiled, error) {
	if b.entry == "" {
		return nil, fmt.Errorf("graph: no entry node")
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("graph: entry node %q not registered", b.entry)
	}
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: edge from unknown node %q", from)
		}
		if to != End {
			if _, ok := b.nodes[to]; !ok {
				return nil, fmt.Errorf("graph: edge %q -> unknown node %q", from, to)
			}
		}
	}
	for from := range b.conds {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: conditional edge from unknown node %q", from)
		}
		if _, dup := b.edges[from]; dup {
			return nil, fmt.Errorf("graph: node %q has both sequential and conditional edges", from)
		}
	}
	for name := range b.nodes {
		_, seq := b.edges[name]
		_, cond := b.conds[name]
		if !seq && !cond {
			return nil, fmt.Errorf("graph: node %q has no outgoing edge", name)
		}
	}
	return &Compiled{
		schema: b.schema,
		nodes:  b.nodes,
		edges:  b.edges,
		conds:  b.conds,
		entry:  b.entry,
	}, nil
}

// Compiled is an immutable, concurrently runnable graph.
type Compiled struct {
	schema Schema
	nodes  map[string]NodeFunc
	edges  map[string]string
	conds  map[string]RouterFunc
	entry  string
}

// Step is one streamed unit: the node that finished and the partial state
// it returned.
type Step struct {
	Node  string
	Delta State
}

// Invoke runs the graph to completion and returns the final merged state.
func (g *Compiled) Invoke(ctx context.Context, initial State, cfg Config) (State, error) {
	var final State
	err := g.run(ctx, initial, cfg, func(Step) {}, &final)
	return final, err
}

// Stream runs the graph and yields each node's delta as it completes.
// The channel closes when the run ends; the returned wait function blocks
// until then and reports the run's error.
func (g *Compiled) Stream(ctx context.Context, initial State, cfg Config) (<-chan Step, func() error) {
	steps := make(chan Step)
	errc := make(chan error, 1)
	go func() {
		defer close(steps)
		var final State
		errc <- g.run(ctx, initial, cfg, func(s Step) {
			select {
			case steps <- s:
			case <-ctx.Done():
			}
		}, &final)
	}()
	return steps, func() error { return <-errc }
}

func (g *Compiled) run(ctx context.Context, initial State, cfg Config, emit func(Step), final *State) error {
	state := make(State)
	if err := g.schema.Merge(state, initial); err != nil {
		return err
	}

	current := g.entry
	for current != End {
		if err := ctx.Err(); err != nil {
			return err
		}

		delta, err := g.nodes[current](ctx, state.Clone(), cfg)
		if err != nil {
			*final = state
			return fmt.Errorf("node %s: %w", current, err)
		}
		if err := g.schema.Merge(state, delta); err != nil {
			*final = state
			return err
		}
		emit(Step{Node: current, Delta: delta})

		next, err := g.next(ctx, current, state, cfg, emit)
		if err != nil {
			*final = state
			return err
		}
		current = next
	}
	*final = state
	return nil
}

// next resolves the outgoing edge of node. A router returning multiple
// dispatches triggers a parallel wave; the wave's deltas merge in
// completion order and the successor is the dispatched node's sequential
// edge.
func (g *Compiled) next(ctx context.Context, node string, state State, cfg Config, emit func(Step)) (string, error) {
	if to, ok := g.edges[node]; ok {
		return to, nil
	}
	router := g.conds[node]
	dispatches, err := router(state.Clone(), cfg)
	if err != nil {
		return "", fmt.Errorf("router after %s: %w", node, err)
	}
	if len(dispatches) == 0 {
		return End, nil
	}
	if len(dispatches) == 1 && dispatches[0].Overlay == nil {
		return dispatches[0].Node, nil
	}
	return g.fanOut(ctx, node, dispatches, state, cfg, emit)
}

func (g *Compiled) fanOut(ctx context.Context, from string, dispatches []Dispatch, state State, cfg Config, emit func(Step)) (string, error) {
	target := dispatches[0].Node
	for _, d := range dispatches {
		if d.Node != target {
			return "", fmt.Errorf("graph: mixed fan-out targets %q and %q after %s", target, d.Node, from)
		}
	}
	fn, ok := g.nodes[target]
	if !ok {
		return "", fmt.Errorf("graph: fan-out to unknown node %q", target)
	}
	successor, ok := g.edges[target]
	if !ok {
		return "", fmt.Errorf("graph: fan-out node %q has no sequential successor", target)
	}
	logging.Engine("fan-out: %d parallel %s invocations", len(dispatches), target)

	type result struct {
		delta State
		err   error
	}
	results := make(chan result, len(dispatches))
	var wg sync.WaitGroup
	for _, d := range dispatches {
		wg.Add(1)
		go func(d Dispatch) {
			defer wg.Done()
			branch := state.Clone()
			for k, v := range d.Overlay {
				branch[k] = v
			}
			delta, err := fn(ctx, branch, cfg)
			results <- result{delta: delta, err: err}
		}(d)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Merge in completion order; the whole wave finishes before moving on.
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("node %s: %w", target, r.err)
			}
			continue
		}
		if firstErr != nil {
			continue
		}
		if err := g.schema.Merge(state, r.delta); err != nil {
			firstErr = err
			continue
		}
		emit(Step{Node: target, Delta: r.delta})
	}
	if firstErr != nil {
		return "", firstErr
	}
	return successor, nil
}
