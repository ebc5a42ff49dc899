// Package step wraps individual pipeline step executions in a uniform
// envelope: context budgeting, content-addressed response caching,
// retried inference, layered JSON extraction, and telemetry.
package step
