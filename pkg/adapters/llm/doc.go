// Package llm provides the inference provider pool.
//
// The pool resolves model identifiers to backend handles, rotates hosted
// API credentials round-robin, falls back between backend kinds when the
// selected kind is unreachable, and retries rate-limited calls with
// credential rotation and exponential backoff.
//
// Backends:
//   - ollama: locally-hosted server (OFFLINE mode)
//   - anthropic: hosted API (ONLINE mode)
package llm
