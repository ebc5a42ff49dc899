package step

import (
	"encoding/json"
	"sort"

	"github.com/seralba/rpo/internal/pipeline"
)

// budgetBuffer reserves room for the model's own output and the prompt
// framing, in characters.
const budgetBuffer = 2000

// truncatedMarker is appended to string payloads cut mid-way.
const truncatedMarker = "...(truncated)"

// findingsPriority orders findings from most to least load-bearing for
// downstream reasoning. When the context does not fit, low-priority
// findings are dropped first.
var findingsPriority = []string{
	"domain_intelligence",
	"historical_review",
	"systematic_literature_review",
	"news_aggregator",
	"gap_synthesis",
	"innovation_novelty",
	"paper_decomposition",
	"paper_understanding",
	"technical_verification",
	"hallucination_detection",
	"visualization",
	"scoring",
}

// Budgeter renders the run state into a deterministic JSON context that
// fits a model's window. Core fields always survive; findings are
// admitted in priority order, the last one smart-truncated to fit.
type Budgeter struct {
	counter *TokenCounter

	// limits maps model id to its context window in tokens; models not
	// listed use defaultLimit.
	limits       map[string]int
	defaultLimit int
}

// NewBudgeter creates a budgeter with per-model token limits.
func NewBudgeter(limits map[string]int, defaultLimit int) *Budgeter {
	if defaultLimit <= 0 {
		defaultLimit = 4096
	}
	return &Budgeter{
		counter:      NewTokenCounter(),
		limits:       limits,
		defaultLimit: defaultLimit,
	}
}

// Limit returns the token limit for a model.
func (b *Budgeter) Limit(model string) int {
	if limit, ok := b.limits[model]; ok {
		return limit
	}
	return b.defaultLimit
}

// CountTokens returns the token count of text for telemetry.
func (b *Budgeter) CountTokens(text string) int {
	return b.counter.Count(text)
}

// Render serializes the state for a model. The output is deterministic
// for identical state, so it doubles as the cache key input.
func (b *Budgeter) Render(state *pipeline.State, model string) string {
	core := map[string]any{
		"task":   state.Task,
		"job_id": state.JobID,
	}
	if state.ArtifactRef != "" {
		core["artifact_ref"] = state.ArtifactRef
	}
	if state.SelectedTopic != "" {
		core["selected_topic"] = state.SelectedTopic
	}

	coreJSON, _ := json.Marshal(core)

	maxChars := b.Limit(model) * charsPerToken
	remaining := maxChars - len(coreJSON) - budgetBuffer

	findings := make(map[string]json.RawMessage)
	if remaining > 0 {
		for _, key := range orderedKeys(state.Findings) {
			payload, err := json.Marshal(state.Findings[key])
			if err != nil {
				continue
			}
			// Each entry also costs its quoted key, colon and comma in
			// the rendered document.
			overhead := len(key) + 4
			if len(payload)+overhead <= remaining {
				findings[key] = payload
				remaining -= len(payload) + overhead
				continue
			}
			if truncated, ok := truncateJSON(payload, remaining-overhead); ok {
				findings[key] = truncated
			}
			break
		}
	}

	document := map[string]any{"findings": findings}
	for key, value := range core {
		document[key] = value
	}

	out, _ := json.Marshal(document)
	return string(out)
}

// orderedKeys returns the findings keys in priority order, then any
// unlisted keys sorted, so rendering order never depends on map order.
func orderedKeys(findings map[string]any) []string {
	keys := make([]string, 0, len(findings))
	seen := make(map[string]bool, len(findings))

	for _, key := range findingsPriority {
		if _, ok := findings[key]; ok {
			keys = append(keys, key)
			seen[key] = true
		}
	}

	rest := make([]string, 0, len(findings))
	for key := range findings {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)

	return append(keys, rest...)
}

// truncateJSON shrinks a JSON payload to at most max bytes while keeping
// it valid: arrays drop tail elements, objects drop keys in reverse
// sorted order, strings are cut with a marker. Returns false when
// nothing useful fits.
func truncateJSON(payload json.RawMessage, max int) (json.RawMessage, bool) {
	if max <= 2 {
		return nil, false
	}

	var asArray []any
	if err := json.Unmarshal(payload, &asArray); err == nil {
		for len(asArray) > 0 {
			asArray = asArray[:len(asArray)-1]
			if out, err := json.Marshal(asArray); err == nil && len(out) <= max {
				return out, len(asArray) > 0
			}
		}
		return nil, false
	}

	var asObject map[string]any
	if err := json.Unmarshal(payload, &asObject); err == nil {
		keys := make([]string, 0, len(asObject))
		for key := range asObject {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for len(keys) > 0 {
			delete(asObject, keys[len(keys)-1])
			keys = keys[:len(keys)-1]
			if out, err := json.Marshal(asObject); err == nil && len(out) <= max {
				return out, len(asObject) > 0
			}
		}
		return nil, false
	}

	var asString string
	if err := json.Unmarshal(payload, &asString); err == nil {
		budget := max - len(truncatedMarker) - 2
		if budget <= 0 {
			return nil, false
		}
		if budget > len(asString) {
			budget = len(asString)
		}
		out, err := json.Marshal(asString[:budget] + truncatedMarker)
		if err != nil || len(out) > max {
			return nil, false
		}
		return out, true
	}

	return nil, false
}
