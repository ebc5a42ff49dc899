package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// End is the terminal sentinel. Edges may target it; it never executes.
const End = "__end__"

// NodeFunc executes one step against a snapshot of the run state and
// returns a partial update. The snapshot is private to the call; the
// executor merges the update under its own lock.
type NodeFunc func(ctx context.Context, state *State) (Update, error)

// Predicate inspects the state after a node completes and returns a
// route label for a conditional edge.
type Predicate func(state *State) string

// conditionalEdge routes to one successor chosen by a predicate.
type conditionalEdge struct {
	predicate Predicate
	routes    map[string]string
}

// Graph is a directed graph of named steps. Build it with AddNode,
// AddEdge, AddConditionalEdge and SetEntry, then Compile before Invoke.
type Graph struct {
	nodes        map[string]NodeFunc
	successors   map[string][]string
	conditionals map[string]*conditionalEdge
	entry        string

	// predecessors counts unconditional in-edges per node; it drives
	// the barrier join in the executor.
	predecessors map[string]int

	maxConcurrency int
	logger         *zap.Logger
	compiled       bool
	buildErrs      []error
}

// New creates an empty graph. maxConcurrency bounds how many nodes run
// in parallel during Invoke.
func New(maxConcurrency int, logger *zap.Logger) *Graph {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Graph{
		nodes:          make(map[string]NodeFunc),
		successors:     make(map[string][]string),
		conditionals:   make(map[string]*conditionalEdge),
		predecessors:   make(map[string]int),
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

// AddNode registers a step under a unique name.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	switch {
	case name == "" || name == End:
		g.buildErrs = append(g.buildErrs, fmt.Errorf("invalid node name %q", name))
	case fn == nil:
		g.buildErrs = append(g.buildErrs, fmt.Errorf("node %s has nil function", name))
	default:
		if _, exists := g.nodes[name]; exists {
			g.buildErrs = append(g.buildErrs, fmt.Errorf("duplicate node %s", name))
			return g
		}
		g.nodes[name] = fn
	}
	return g
}

// AddEdge declares that to runs after from completes. A node with
// several unconditional in-edges runs once, after all of them complete.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.successors[from] = append(g.successors[from], to)
	if to != End {
		g.predecessors[to]++
	}
	return g
}

// AddConditionalEdge declares that after from completes, the predicate
// picks a label and execution continues at routes[label]. Conditional
// targets are triggered directly, bypassing the barrier join, which is
// what permits route-back loops.
func (g *Graph) AddConditionalEdge(from string, predicate Predicate, routes map[string]string) *Graph {
	if _, exists := g.conditionals[from]; exists {
		g.buildErrs = append(g.buildErrs, fmt.Errorf("node %s already has a conditional edge", from))
		return g
	}
	if predicate == nil {
		g.buildErrs = append(g.buildErrs, fmt.Errorf("conditional edge from %s has nil predicate", from))
		return g
	}
	g.conditionals[from] = &conditionalEdge{predicate: predicate, routes: routes}
	return g
}

// SetEntry names the node where Invoke starts.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// Compile validates the topology. It must be called once before Invoke.
func (g *Graph) Compile() error {
	if g.compiled {
		return fmt.Errorf("graph already compiled")
	}

	errs := append([]error(nil), g.buildErrs...)

	if g.entry == "" {
		errs = append(errs, fmt.Errorf("no entry node set"))
	} else if _, ok := g.nodes[g.entry]; !ok {
		errs = append(errs, fmt.Errorf("entry node %s not registered", g.entry))
	}

	for from, targets := range g.successors {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("edge from unknown node %s", from))
		}
		for _, to := range targets {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				errs = append(errs, fmt.Errorf("edge %s -> %s targets unknown node", from, to))
			}
		}
	}

	for from, cond := range g.conditionals {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("conditional edge from unknown node %s", from))
		}
		if len(cond.routes) == 0 {
			errs = append(errs, fmt.Errorf("conditional edge from %s has no routes", from))
		}
		for label, to := range cond.routes {
			if to == End {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				errs = append(errs, fmt.Errorf("conditional route %s=%s from %s targets unknown node", label, to, from))
			}
		}
		// A node cannot mix conditional and unconditional out-edges:
		// the executor would not know which successor set to fire.
		if len(g.successors[from]) > 0 {
			errs = append(errs, fmt.Errorf("node %s has both conditional and unconditional out-edges", from))
		}
	}

	if err := g.checkAcyclic(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("graph validation failed: %w", joinErrors(errs))
	}

	g.compiled = true
	g.logger.Info("graph compiled",
		zap.Int("nodes", len(g.nodes)),
		zap.String("entry", g.entry))
	return nil
}

// checkAcyclic rejects cycles through unconditional edges. Loops are
// only legal via conditional edges (gates), which have an explicit exit
// route.
func (g *Graph) checkAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	colors := make(map[string]int, len(g.nodes))

	var visit func(node string) error
	visit = func(node string) error {
		switch colors[node] {
		case visiting:
			return fmt.Errorf("cycle detected through node %s", node)
		case done:
			return nil
		}
		colors[node] = visiting
		for _, succ := range g.successors[node] {
			if succ == End {
				continue
			}
			if err := visit(succ); err != nil {
				return err
			}
		}
		colors[node] = done
		return nil
	}

	for node := range g.nodes {
		if err := visit(node); err != nil {
			return err
		}
	}
	return nil
}

func joinErrors(errs []error) error {
	combined := errs[0]
	for _, err := range errs[1:] {
		combined = fmt.Errorf("%w; %w", combined, err)
	}
	return combined
}
