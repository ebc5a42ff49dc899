package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seralba/rpo/pkg/adapters/events"
	"github.com/seralba/rpo/pkg/adapters/storage"
)

// Route labels returned by Gate.Route.
const (
	RouteProceed = "proceed"
	RouteWait    = "wait"
)

// GateMetrics is the subset of the metrics collector a gate reports to.
type GateMetrics interface {
	RecordGatePoll()
}

// Gate is a progression gate: a node that blocks the pipeline until an
// external party confirms a decision through the session store, or the
// run state already carries a high-confidence value. While unsatisfied
// it publishes its pending options, sleeps, and routes back to itself.
type Gate struct {
	Name     string
	Store    storage.SessionStore
	Bus      events.Bus
	Topic    string
	Interval time.Duration
	Metrics  GateMetrics
	Logger   *zap.Logger
}

// Node returns the gate's NodeFunc. Visits after the gate is satisfied
// are no-ops, so a route-back loop terminates as soon as the lock
// appears in state or in the session store.
func (g *Gate) Node() NodeFunc {
	return func(ctx context.Context, state *State) (Update, error) {
		if state.TopicLocked {
			return Update{}, nil
		}

		if update, satisfied := g.checkStore(ctx, state); satisfied {
			return update, nil
		}

		g.publishPending(ctx, state)

		if g.Metrics != nil {
			g.Metrics.RecordGatePoll()
		}

		select {
		case <-ctx.Done():
			return Update{}, ctx.Err()
		case <-time.After(g.Interval):
		}
		return Update{}, nil
	}
}

// Route is the gate's conditional predicate: proceed once satisfied,
// otherwise loop back to the gate node itself.
func (g *Gate) Route(state *State) string {
	if state.TopicLocked {
		return RouteProceed
	}
	return RouteWait
}

// checkStore reads the session store for an external confirmation.
func (g *Gate) checkStore(ctx context.Context, state *State) (Update, bool) {
	session, err := g.Store.Get(ctx, state.JobID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			g.Logger.Warn("gate could not read session state",
				zap.String("gate", g.Name),
				zap.String("job_id", state.JobID),
				zap.Error(err))
		}
		return Update{}, false
	}

	locked, _ := session["topic_locked"].(bool)
	if !locked {
		return Update{}, false
	}

	topic, _ := session["selected_topic"].(string)
	g.Logger.Info("gate satisfied by external confirmation",
		zap.String("gate", g.Name),
		zap.String("job_id", state.JobID),
		zap.String("selected_topic", topic))

	return Update{
		TopicLocked:   Bool(true),
		SelectedTopic: String(topic),
		History:       []string{fmt.Sprintf("%s: confirmed (%s)", g.Name, topic)},
	}, true
}

// publishPending mirrors the pending options into the session store so
// an external party can inspect and confirm, and emits a waiting event.
// Both writes are best-effort; the gate keeps polling either way.
func (g *Gate) publishPending(ctx context.Context, state *State) {
	suggestions := make([]any, 0, len(state.TopicSuggestions))
	for _, suggestion := range state.TopicSuggestions {
		suggestions = append(suggestions, suggestion)
	}

	_, err := g.Store.MergeUpdate(ctx, state.JobID, map[string]any{
		"topic_locked":      false,
		"topic_suggestions": suggestions,
		"task":              state.Task,
	})
	if err != nil {
		g.Logger.Warn("gate could not publish pending options",
			zap.String("gate", g.Name),
			zap.String("job_id", state.JobID),
			zap.Error(err))
	}

	event := events.New(events.TypeGateWaiting, state.JobID, g.Name,
		fmt.Sprintf("awaiting confirmation with %d pending options", len(suggestions)),
		map[string]any{"suggestions": suggestions})
	if err := g.Bus.Publish(ctx, g.Topic, event); err != nil {
		g.Logger.Debug("gate event publish failed",
			zap.String("gate", g.Name),
			zap.Error(err))
	}
}
