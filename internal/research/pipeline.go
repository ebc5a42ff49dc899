package research

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seralba/rpo/internal/config"
	"github.com/seralba/rpo/internal/lock"
	"github.com/seralba/rpo/internal/pipeline"
	"github.com/seralba/rpo/internal/step"
	"github.com/seralba/rpo/pkg/adapters/events"
	"github.com/seralba/rpo/pkg/adapters/storage"
)

// StepRunner executes one step definition against the run state.
type StepRunner interface {
	Run(ctx context.Context, def step.Definition, state *pipeline.State) step.Result
}

// Metrics is the subset of the collector the pipeline reports to.
type Metrics interface {
	RecordRunStarted()
	RecordRunCompleted(status string, duration time.Duration)
	RecordLockAcquisition(status string)
	RecordGatePoll()
}

type nopMetrics struct{}

func (nopMetrics) RecordRunStarted()                        {}
func (nopMetrics) RecordRunCompleted(string, time.Duration) {}
func (nopMetrics) RecordLockAcquisition(string)             {}
func (nopMetrics) RecordGatePoll()                          {}

// Deps carries the collaborators a research pipeline needs.
type Deps struct {
	Runner  StepRunner
	Store   storage.SessionStore
	Bus     events.Bus
	Topic   string
	Lock    *lock.DocumentLock
	Metrics Metrics
	Logger  *zap.Logger
	Models  config.ModelConfig
	Cfg     config.PipelineConfig
}

// Pipeline assembles and runs the research graph: topic discovery and
// lock gate, strategy routing, the deep-research fan-out and the paper
// analysis chain, converging on visualization, scoring and the report.
type Pipeline struct {
	deps Deps
	defs map[string]step.Definition
}

// New creates a research pipeline. Metrics may be nil.
func New(deps Deps) *Pipeline {
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	return &Pipeline{
		deps: deps,
		defs: Registry(deps.Models),
	}
}

// Build compiles the research graph.
func (p *Pipeline) Build() (*pipeline.Graph, error) {
	gate := &pipeline.Gate{
		Name:     StepTopicLock,
		Store:    p.deps.Store,
		Bus:      p.deps.Bus,
		Topic:    p.deps.Topic,
		Interval: p.deps.Cfg.GatePollInterval,
		Metrics:  p.deps.Metrics,
		Logger:   p.deps.Logger,
	}

	graph := pipeline.New(p.deps.Cfg.MaxConcurrency, p.deps.Logger)

	graph.
		AddNode(StepTopicDiscovery, p.topicDiscoveryNode()).
		AddNode(StepTopicLock, gate.Node()).
		AddNode(StepOrchestrator, p.orchestratorNode()).
		AddNode(StepDomainIntelligence, p.stepNode(StepDomainIntelligence)).
		AddNode(StepHistoricalReview, p.stepNode(StepHistoricalReview)).
		AddNode(StepLiteratureReview, p.stepNode(StepLiteratureReview)).
		AddNode(StepNewsAggregator, p.stepNode(StepNewsAggregator)).
		AddNode(StepGapSynthesis, p.stepNode(StepGapSynthesis)).
		AddNode(StepInnovationNovelty, p.stepNode(StepInnovationNovelty)).
		AddNode(StepPaperDecomposition, p.stepNode(StepPaperDecomposition)).
		AddNode(StepPaperUnderstanding, p.stepNode(StepPaperUnderstanding)).
		AddNode(StepTechnicalVerification, p.stepNode(StepTechnicalVerification)).
		AddNode(StepHallucinationCheck, p.stepNode(StepHallucinationCheck)).
		AddNode(StepVisualization, p.stepNode(StepVisualization)).
		AddNode(StepScoring, p.stepNode(StepScoring)).
		AddNode(StepReport, p.reportNode())

	graph.SetEntry(StepTopicDiscovery)

	graph.AddEdge(StepTopicDiscovery, StepTopicLock)
	graph.AddConditionalEdge(StepTopicLock, gate.Route, map[string]string{
		pipeline.RouteProceed: StepOrchestrator,
		pipeline.RouteWait:    StepTopicLock,
	})

	graph.AddConditionalEdge(StepOrchestrator, routeStrategy, map[string]string{
		RoutePaperAnalysis: StepPaperDecomposition,
		RouteDeepResearch:  StepDomainIntelligence,
	})

	// Deep research: fan out three analysts, barrier into synthesis.
	graph.
		AddEdge(StepDomainIntelligence, StepHistoricalReview).
		AddEdge(StepDomainIntelligence, StepLiteratureReview).
		AddEdge(StepDomainIntelligence, StepNewsAggregator).
		AddEdge(StepHistoricalReview, StepGapSynthesis).
		AddEdge(StepLiteratureReview, StepGapSynthesis).
		AddEdge(StepNewsAggregator, StepGapSynthesis).
		AddEdge(StepGapSynthesis, StepInnovationNovelty).
		AddEdge(StepInnovationNovelty, StepVisualization)

	// Paper analysis: a sequential comprehension chain.
	graph.
		AddEdge(StepPaperDecomposition, StepPaperUnderstanding).
		AddEdge(StepPaperUnderstanding, StepTechnicalVerification).
		AddEdge(StepTechnicalVerification, StepHallucinationCheck).
		AddEdge(StepHallucinationCheck, StepVisualization)

	// Shared tail.
	graph.
		AddEdge(StepVisualization, StepScoring).
		AddEdge(StepScoring, StepReport).
		AddEdge(StepReport, pipeline.End)

	if err := graph.Compile(); err != nil {
		return nil, fmt.Errorf("building research graph: %w", err)
	}
	return graph, nil
}

// Run executes the full research pipeline for a task and returns the
// final state.
func (p *Pipeline) Run(ctx context.Context, task, artifactRef string) (pipeline.State, error) {
	graph, err := p.Build()
	if err != nil {
		return pipeline.State{}, err
	}

	jobID := uuid.New().String()
	initial := pipeline.NewState(task, artifactRef, jobID)

	started := time.Now()
	p.deps.Metrics.RecordRunStarted()
	p.emit(ctx, events.New(events.TypeRunStarted, jobID, "", task, nil))

	final, err := graph.Invoke(ctx, initial)

	status := "success"
	if err != nil {
		status = "cancelled"
	}
	p.deps.Metrics.RecordRunCompleted(status, time.Since(started))
	p.emit(ctx, events.New(events.TypeRunCompleted, jobID, "", status,
		map[string]any{"steps": len(final.History)}))

	return final, err
}

// topicDiscoveryNode analyzes the task. A specific topic locks the gate
// immediately; a broad one produces suggestions for the gate to publish.
func (p *Pipeline) topicDiscoveryNode() pipeline.NodeFunc {
	def := p.defs[StepTopicDiscovery]

	return func(ctx context.Context, state *pipeline.State) (pipeline.Update, error) {
		if state.TopicLocked {
			// Resumed run with the topic already confirmed.
			return pipeline.Update{}, nil
		}

		result := p.deps.Runner.Run(ctx, def, state)
		if result.Err != nil {
			return pipeline.Update{}, result.Err
		}

		update := pipeline.Update{
			Findings: map[string]any{StepTopicDiscovery: result.Response},
		}

		if specific, _ := result.Response["is_specific"].(bool); specific {
			topic, _ := result.Response["selected_topic"].(string)
			if topic == "" {
				topic = state.Task
			}
			update.TopicLocked = pipeline.Bool(true)
			update.SelectedTopic = pipeline.String(topic)
			update.History = []string{fmt.Sprintf("%s: locked (%s)", StepTopicDiscovery, topic)}
			return update, nil
		}

		update.TopicSuggestions = suggestionList(result.Response["suggestions"])
		update.History = []string{fmt.Sprintf("%s: %d suggestions pending",
			StepTopicDiscovery, len(update.TopicSuggestions))}
		return update, nil
	}
}

// orchestratorNode picks the research strategy. The model's choice is
// advisory; a present artifact reference always wins.
func (p *Pipeline) orchestratorNode() pipeline.NodeFunc {
	def := p.defs[StepOrchestrator]

	return func(ctx context.Context, state *pipeline.State) (pipeline.Update, error) {
		result := p.deps.Runner.Run(ctx, def, state)

		route := RouteDeepResearch
		if result.Err == nil {
			if next, _ := result.Response["next_step"].(string); next == RoutePaperAnalysis {
				route = RoutePaperAnalysis
			}
		}
		if state.ArtifactRef != "" {
			route = RoutePaperAnalysis
		}

		update := pipeline.Update{
			Route:   pipeline.String(route),
			History: []string{fmt.Sprintf("%s: routing to %s", StepOrchestrator, route)},
		}
		if result.Err == nil {
			update.Findings = map[string]any{StepOrchestrator: result.Response}
		} else {
			update.Findings = map[string]any{
				StepOrchestrator: map[string]any{"error": result.Err.Error(), "route": route},
			}
		}
		return update, nil
	}
}

func routeStrategy(state *pipeline.State) string {
	if state.Route == RoutePaperAnalysis {
		return RoutePaperAnalysis
	}
	return RouteDeepResearch
}

// stepNode wraps a registry step: run it, merge its payload under its
// own findings key, append a history line.
func (p *Pipeline) stepNode(name string) pipeline.NodeFunc {
	def := p.defs[name]

	return func(ctx context.Context, state *pipeline.State) (pipeline.Update, error) {
		result := p.deps.Runner.Run(ctx, def, state)
		if result.Err != nil {
			return pipeline.Update{}, result.Err
		}

		return pipeline.Update{
			Findings: map[string]any{name: result.Response},
			History:  []string{historyLine(name, result)},
		}, nil
	}
}

// reportNode is the only writer step: it acquires the document lock,
// composes the report, and bumps the document version.
func (p *Pipeline) reportNode() pipeline.NodeFunc {
	def := p.defs[StepReport]

	return func(ctx context.Context, state *pipeline.State) (pipeline.Update, error) {
		resource := "document:" + state.JobID

		if !p.deps.Lock.Acquire(ctx, resource, StepReport, p.deps.Cfg.LockTimeout) {
			p.deps.Metrics.RecordLockAcquisition("timeout")
			return pipeline.Update{}, fmt.Errorf("could not acquire document lock for %s", resource)
		}
		p.deps.Metrics.RecordLockAcquisition("acquired")
		defer p.deps.Lock.Release(resource, StepReport)

		result := p.deps.Runner.Run(ctx, def, state)
		if result.Err != nil {
			return pipeline.Update{}, result.Err
		}

		version := p.deps.Lock.IncrementVersion(resource)
		payload := map[string]any{
			"report":           result.Response,
			"document_version": version,
			"output_hash":      result.OutputHash,
		}

		return pipeline.Update{
			Findings: map[string]any{StepReport: payload},
			History:  []string{fmt.Sprintf("%s: Completed v%d (%.1fs)", StepReport, version, result.ExecutionTime)},
		}, nil
	}
}

func historyLine(name string, result step.Result) string {
	if result.Cached {
		return fmt.Sprintf("%s: Completed (cached)", name)
	}
	return fmt.Sprintf("%s: Completed (%.1fs)", name, result.ExecutionTime)
}

// suggestionList coerces the model's suggestions array into the state's
// suggestion shape, dropping malformed entries.
func suggestionList(raw any) []map[string]any {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	suggestions := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if entry, ok := item.(map[string]any); ok {
			suggestions = append(suggestions, entry)
		}
	}
	return suggestions
}

func (p *Pipeline) emit(ctx context.Context, event events.Event) {
	if err := p.deps.Bus.Publish(ctx, p.deps.Topic, event); err != nil {
		p.deps.Logger.Debug("event publish failed",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}
