package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Invoke runs the compiled graph to completion starting from the entry
// node and returns the final merged state. Node errors are recorded
// into findings and history and execution continues; the returned error
// is non-nil only when the context was cancelled.
func (g *Graph) Invoke(ctx context.Context, initial State) (State, error) {
	if !g.compiled {
		return initial, fmt.Errorf("graph not compiled")
	}

	if initial.Findings == nil {
		initial.Findings = make(map[string]any)
	}

	exec := &execution{
		graph: g,
		state: initial,
		waits: make(map[string]*nodeWait, len(g.predecessors)),
		sem:   make(chan struct{}, g.maxConcurrency),
	}
	for node, count := range g.predecessors {
		exec.waits[node] = &nodeWait{remaining: count}
	}

	g.logger.Info("pipeline run started",
		zap.String("job_id", initial.JobID),
		zap.String("entry", g.entry))

	exec.schedule(ctx, g.entry)
	exec.wg.Wait()

	exec.mu.Lock()
	final := exec.state
	exec.mu.Unlock()

	if err := ctx.Err(); err != nil {
		g.logger.Warn("pipeline run cancelled", zap.String("job_id", final.JobID))
		return final, err
	}

	g.logger.Info("pipeline run completed",
		zap.String("job_id", final.JobID),
		zap.Int("steps_recorded", len(final.History)))
	return final, nil
}

// nodeWait tracks a barrier join: how many unconditional predecessors
// are still pending, and whether any of them actually executed (as
// opposed to being pruned by a conditional decision).
type nodeWait struct {
	remaining int
	executed  bool
}

type execution struct {
	graph *Graph

	mu    sync.Mutex
	state State
	waits map[string]*nodeWait

	sem chan struct{}
	wg  sync.WaitGroup
}

func (e *execution) schedule(ctx context.Context, node string) {
	if node == End || ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go e.run(ctx, node)
}

func (e *execution) run(ctx context.Context, node string) {
	defer e.wg.Done()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-e.sem }()

	e.mu.Lock()
	snapshot := e.state.Clone()
	e.mu.Unlock()

	update, err := e.call(ctx, node, &snapshot)
	if err != nil {
		e.graph.logger.Error("node failed",
			zap.String("node", node),
			zap.Error(err))
		update = Update{
			Findings: map[string]any{node: map[string]any{"error": err.Error()}},
			History:  []string{fmt.Sprintf("%s: FAILED - %v", node, err)},
		}
	}

	e.mu.Lock()
	e.state.apply(update)
	post := e.state.Clone()
	e.mu.Unlock()

	if cond, ok := e.graph.conditionals[node]; ok {
		e.routeConditional(ctx, node, cond, &post)
		return
	}

	for _, succ := range e.graph.successors[node] {
		e.arrive(ctx, succ, true)
	}
}

// call invokes the node function, converting a panic into an error so a
// single misbehaving step cannot take down the whole run.
func (e *execution) call(ctx context.Context, node string, snapshot *State) (update Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in node %s: %v", node, r)
		}
	}()

	started := time.Now()
	update, err = e.graph.nodes[node](ctx, snapshot)
	e.graph.logger.Debug("node finished",
		zap.String("node", node),
		zap.Duration("elapsed", time.Since(started)),
		zap.Bool("failed", err != nil))
	return update, err
}

// routeConditional fires the route the predicate selected. When the
// decision is final (the node did not loop back to itself), all other
// route targets are pruned so barrier joins downstream of the unchosen
// branch are not left waiting forever.
func (e *execution) routeConditional(ctx context.Context, node string, cond *conditionalEdge, post *State) {
	label := cond.predicate(post)
	target, ok := cond.routes[label]
	if !ok {
		e.graph.logger.Error("conditional predicate returned unknown route",
			zap.String("node", node),
			zap.String("label", label))
		return
	}

	e.graph.logger.Debug("conditional route taken",
		zap.String("node", node),
		zap.String("label", label),
		zap.String("target", target))

	e.schedule(ctx, target)

	if target == node {
		// Loop back: the decision is deferred, keep the other routes
		// alive for a later pass.
		return
	}
	pruned := make(map[string]bool, len(cond.routes))
	for _, other := range cond.routes {
		if other == target || other == node || other == End || pruned[other] {
			continue
		}
		pruned[other] = true
		e.prune(ctx, other)
	}
}

// arrive records one predecessor of node finishing (executed) or being
// pruned (!executed). When the barrier count reaches zero the node is
// scheduled if at least one predecessor really executed, otherwise the
// prune propagates. The count resets so gate loops can revisit joins.
func (e *execution) arrive(ctx context.Context, node string, executed bool) {
	if node == End {
		return
	}

	e.mu.Lock()
	wait, ok := e.waits[node]
	if !ok {
		wait = &nodeWait{remaining: 1}
		e.waits[node] = wait
	}
	wait.remaining--
	if executed {
		wait.executed = true
	}
	ready := wait.remaining <= 0
	shouldRun := wait.executed
	if ready {
		wait.remaining = e.graph.predecessors[node]
		wait.executed = false
	}
	e.mu.Unlock()

	if !ready {
		return
	}
	if shouldRun {
		e.schedule(ctx, node)
		return
	}
	e.prune(ctx, node)
}

// prune marks node as skipped without executing it and propagates the
// skip to its successors, so joins fed by both branches of a decision
// still fire once the live branch arrives.
func (e *execution) prune(ctx context.Context, node string) {
	if node == End {
		return
	}

	if cond, ok := e.graph.conditionals[node]; ok {
		pruned := make(map[string]bool, len(cond.routes))
		for _, target := range cond.routes {
			if target == node || target == End || pruned[target] {
				continue
			}
			pruned[target] = true
			e.prune(ctx, target)
		}
		return
	}

	for _, succ := range e.graph.successors[node] {
		e.arrive(ctx, succ, false)
	}
}
