package llm

import (
	"fmt"
	"strings"
)

// Kind identifies a backend kind.
type Kind string

const (
	// KindOllama is the locally-hosted backend.
	KindOllama Kind = "ollama"

	// KindAnthropic is the hosted API backend.
	KindAnthropic Kind = "anthropic"
)

// Mode selects the default backend kind for the process. It is decided
// once at startup and never re-parsed per call.
type Mode int

const (
	// ModeOffline routes to the local Ollama server by default.
	ModeOffline Mode = iota

	// ModeOnline routes to the hosted Anthropic API by default.
	ModeOnline
)

// ParseMode converts the LLM_STATUS configuration value into a Mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "OFFLINE", "":
		return ModeOffline, nil
	case "ONLINE":
		return ModeOnline, nil
	default:
		return ModeOffline, fmt.Errorf("unknown LLM mode: %q", value)
	}
}

// String returns the configuration spelling of the mode.
func (m Mode) String() string {
	if m == ModeOnline {
		return "ONLINE"
	}
	return "OFFLINE"
}

// Metrics receives pool-level telemetry. The prometheus collector
// satisfies it; a no-op implementation is used when none is configured.
type Metrics interface {
	RecordLLMCall(backend, model, status string)
	RecordRetry(reason string)
	RecordFallback()
}

type nopMetrics struct{}

func (nopMetrics) RecordLLMCall(string, string, string) {}
func (nopMetrics) RecordRetry(string)                   {}
func (nopMetrics) RecordFallback()                      {}
