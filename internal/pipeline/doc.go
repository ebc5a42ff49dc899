// Package pipeline implements the graph execution engine: a compiled
// DAG of named steps with parallel fan-out, barrier fan-in, conditional
// routing and progression gates. Cycles are only legal through
// conditional edges, which is how gates loop until satisfied.
package pipeline
