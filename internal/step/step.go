package step

// Definition declares one pipeline step: its id, the model role it
// runs on, and the system prompt framing the task.
type Definition struct {
	Name         string
	Model        string
	SystemPrompt string
}

// Result is the uniform envelope every step execution produces,
// whether served from cache or freshly invoked.
type Result struct {
	// Response is the structured payload extracted from the model
	// output.
	Response map[string]any

	// Raw is the unparsed model output.
	Raw string

	// Agent is the step id that produced the result.
	Agent string

	// ExecutionTime is wall seconds spent; zero on a cache hit.
	ExecutionTime float64

	// InputHash and OutputHash content-address the invocation and its
	// output for provenance.
	InputHash  string
	OutputHash string

	// Cached reports whether the result was served from cache.
	Cached bool

	// Err is set when the invocation failed after retries.
	Err error
}
