package pipeline

// State is the mutable record shared by all steps in one run. Each step
// writes only its own findings key, so concurrent branches never collide
// and merging partial updates is a conflict-free union.
type State struct {
	Task        string `json:"task"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	Route       string `json:"route,omitempty"`
	JobID       string `json:"job_id"`

	// Gate flags
	TopicLocked      bool             `json:"topic_locked"`
	SelectedTopic    string           `json:"selected_topic,omitempty"`
	TopicSuggestions []map[string]any `json:"topic_suggestions,omitempty"`

	// Findings maps step id to its output payload.
	Findings map[string]any `json:"findings"`

	// History is the append-only execution log.
	History []string `json:"history"`
}

// NewState creates the initial state for a run.
func NewState(task, artifactRef, jobID string) State {
	return State{
		Task:        task,
		ArtifactRef: artifactRef,
		JobID:       jobID,
		Findings:    make(map[string]any),
		History:     make([]string, 0),
	}
}

// Clone returns a snapshot safe to hand to a concurrently-running node.
// Top-level maps and slices are copied; nested payloads are shared and
// read-only by convention.
func (s *State) Clone() State {
	cloned := *s

	cloned.Findings = make(map[string]any, len(s.Findings))
	for key, value := range s.Findings {
		cloned.Findings[key] = value
	}

	cloned.History = append([]string(nil), s.History...)
	cloned.TopicSuggestions = append([]map[string]any(nil), s.TopicSuggestions...)

	return cloned
}

// Update is a partial state produced by one node. Nil fields are left
// untouched by the merge.
type Update struct {
	Route            *string
	TopicLocked      *bool
	SelectedTopic    *string
	TopicSuggestions []map[string]any

	// Findings entries are merged by disjoint-key union.
	Findings map[string]any

	// History entries are appended.
	History []string
}

// apply merges an update into the state using the declared reducers:
// findings union, history append, scalars last-writer.
func (s *State) apply(update Update) {
	if update.Route != nil {
		s.Route = *update.Route
	}
	if update.TopicLocked != nil {
		s.TopicLocked = *update.TopicLocked
	}
	if update.SelectedTopic != nil {
		s.SelectedTopic = *update.SelectedTopic
	}
	if update.TopicSuggestions != nil {
		s.TopicSuggestions = update.TopicSuggestions
	}

	for key, value := range update.Findings {
		s.Findings[key] = value
	}

	s.History = append(s.History, update.History...)
}

// String returns a pointer to v, for optional Update fields.
func String(v string) *string { return &v }

// Bool returns a pointer to v, for optional Update fields.
func Bool(v bool) *bool { return &v }
