// Package research assembles the concrete research graph: topic
// discovery behind a confirmation gate, strategy routing, the parallel
// deep-research branch and the sequential paper-analysis branch, both
// converging on visualization, scoring and the final report.
package research
