package research

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seralba/rpo/internal/config"
	"github.com/seralba/rpo/internal/lock"
	"github.com/seralba/rpo/internal/pipeline"
	"github.com/seralba/rpo/internal/step"
	eventsmemory "github.com/seralba/rpo/pkg/adapters/events/memory"
	"github.com/seralba/rpo/pkg/adapters/storage"
)

// fakeRunner returns canned responses per step and records execution
// order.
type fakeRunner struct {
	responses map[string]map[string]any
	failures  map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeRunner) Run(ctx context.Context, def step.Definition, state *pipeline.State) step.Result {
	f.mu.Lock()
	f.calls = append(f.calls, def.Name)
	f.mu.Unlock()

	if err := f.failures[def.Name]; err != nil {
		return step.Result{Agent: def.Name, Err: err}
	}

	response := f.responses[def.Name]
	if response == nil {
		response = map[string]any{"ok": true}
	}
	return step.Result{
		Response:      response,
		Raw:           "{}",
		Agent:         def.Name,
		ExecutionTime: 0.01,
	}
}

func (f *fakeRunner) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.calls {
		if call == name {
			return true
		}
	}
	return false
}

func testDeps(runner StepRunner, store storage.SessionStore) Deps {
	return Deps{
		Runner: runner,
		Store:  store,
		Bus:    eventsmemory.NewBus(),
		Topic:  "test",
		Lock:   lock.New(zap.NewNop()),
		Logger: zap.NewNop(),
		Models: config.ModelConfig{
			Reasoning: "reasoning-model",
			Writing:   "writing-model",
			Coding:    "coding-model",
			Critical:  "critical-model",
		},
		Cfg: config.PipelineConfig{
			MaxConcurrency:   4,
			GatePollInterval: 10 * time.Millisecond,
			LockTimeout:      time.Second,
		},
	}
}

func specificTopicResponses() map[string]map[string]any {
	return map[string]map[string]any{
		StepTopicDiscovery: {
			"is_specific":    true,
			"selected_topic": "graph neural networks for protein folding",
		},
	}
}

func TestDeepResearchPath(t *testing.T) {
	runner := &fakeRunner{responses: specificTopicResponses()}
	runner.responses[StepOrchestrator] = map[string]any{"next_step": "deep_research"}

	p := New(testDeps(runner, storage.NewMemoryStore()))

	final, err := p.Run(context.Background(), "find research gaps", "")
	require.NoError(t, err)

	assert.True(t, final.TopicLocked)
	assert.Equal(t, "graph neural networks for protein folding", final.SelectedTopic)

	// The deep-research branch ran in full.
	for _, name := range []string{
		StepDomainIntelligence, StepHistoricalReview, StepLiteratureReview,
		StepNewsAggregator, StepGapSynthesis, StepInnovationNovelty,
		StepVisualization, StepScoring, StepReport,
	} {
		assert.True(t, runner.called(name), "step %s must run", name)
		assert.Contains(t, final.Findings, name)
	}

	// The paper-analysis branch did not.
	for _, name := range []string{
		StepPaperDecomposition, StepPaperUnderstanding,
		StepTechnicalVerification, StepHallucinationCheck,
	} {
		assert.False(t, runner.called(name), "step %s must not run", name)
	}
}

func TestPaperAnalysisPathForcedByArtifact(t *testing.T) {
	runner := &fakeRunner{responses: specificTopicResponses()}
	// The model suggests deep research, but the artifact reference wins.
	runner.responses[StepOrchestrator] = map[string]any{"next_step": "deep_research"}

	p := New(testDeps(runner, storage.NewMemoryStore()))

	final, err := p.Run(context.Background(), "analyze this paper", "https://example.org/paper.pdf")
	require.NoError(t, err)

	assert.Equal(t, RoutePaperAnalysis, final.Route)

	for _, name := range []string{
		StepPaperDecomposition, StepPaperUnderstanding,
		StepTechnicalVerification, StepHallucinationCheck,
		StepVisualization, StepScoring, StepReport,
	} {
		assert.True(t, runner.called(name), "step %s must run", name)
	}
	assert.False(t, runner.called(StepDomainIntelligence))
}

func TestBroadTaskWaitsForConfirmation(t *testing.T) {
	runner := &fakeRunner{responses: map[string]map[string]any{
		StepTopicDiscovery: {
			"is_specific": false,
			"suggestions": []any{
				map[string]any{"topic": "narrower A"},
				map[string]any{"topic": "narrower B"},
			},
		},
		StepOrchestrator: {"next_step": "deep_research"},
	}}

	store := storage.NewMemoryStore()
	deps := testDeps(runner, store)
	p := New(deps)

	graph, err := p.Build()
	require.NoError(t, err)

	// Confirm out of band once the suggestions appear in the store.
	go func() {
		deadline := time.After(2 * time.Second)
		for {
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
			session, err := store.Get(context.Background(), "job-gate")
			if err != nil {
				continue
			}
			if suggestions, ok := session["topic_suggestions"].([]any); ok && len(suggestions) == 2 {
				_, _ = store.MergeUpdate(context.Background(), "job-gate", map[string]any{
					"topic_locked":   true,
					"selected_topic": "narrower B",
				})
				return
			}
		}
	}()

	final, err := graph.Invoke(context.Background(), pipeline.NewState("broad topic", "", "job-gate"))
	require.NoError(t, err)

	assert.True(t, final.TopicLocked)
	assert.Equal(t, "narrower B", final.SelectedTopic)
	assert.True(t, runner.called(StepReport), "pipeline must continue past the gate")
}

func TestFailedStepDoesNotAbortRun(t *testing.T) {
	runner := &fakeRunner{
		responses: specificTopicResponses(),
		failures: map[string]error{
			StepNewsAggregator: errors.New("feed unavailable"),
		},
	}
	runner.responses[StepOrchestrator] = map[string]any{"next_step": "deep_research"}

	p := New(testDeps(runner, storage.NewMemoryStore()))

	final, err := p.Run(context.Background(), "find research gaps", "")
	require.NoError(t, err)

	payload, ok := final.Findings[StepNewsAggregator].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "feed unavailable", payload["error"])

	// The barrier still released and the run completed.
	assert.Contains(t, final.Findings, StepGapSynthesis)
	assert.Contains(t, final.Findings, StepReport)
}

func TestReportCarriesDocumentVersion(t *testing.T) {
	runner := &fakeRunner{responses: specificTopicResponses()}
	runner.responses[StepOrchestrator] = map[string]any{"next_step": "deep_research"}

	deps := testDeps(runner, storage.NewMemoryStore())
	p := New(deps)

	final, err := p.Run(context.Background(), "find research gaps", "")
	require.NoError(t, err)

	payload, ok := final.Findings[StepReport].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, payload["document_version"])
	assert.False(t, deps.Lock.IsLocked("document:"+final.JobID),
		"lock must be released after the report is written")
}

func TestRegistryCoversEveryExecutingStep(t *testing.T) {
	defs := Registry(config.ModelConfig{
		Reasoning: "r", Writing: "w", Coding: "c", Critical: "x",
	})

	for _, name := range []string{
		StepTopicDiscovery, StepOrchestrator, StepDomainIntelligence,
		StepHistoricalReview, StepLiteratureReview, StepNewsAggregator,
		StepGapSynthesis, StepInnovationNovelty, StepPaperDecomposition,
		StepPaperUnderstanding, StepTechnicalVerification,
		StepHallucinationCheck, StepVisualization, StepScoring, StepReport,
	} {
		def, ok := defs[name]
		require.True(t, ok, "missing definition for %s", name)
		assert.Equal(t, name, def.Name)
		assert.NotEmpty(t, def.Model)
		assert.NotEmpty(t, def.SystemPrompt)
	}
}
