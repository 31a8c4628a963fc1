// Package stats implements the statistics used to summarise benchmark
// scores: descriptive statistics, percentile bootstrap confidence
// intervals, the consistency transform and Welch's t-test.
//
// Every function is pure apart from the random source passed to
// BootstrapCI, and is safe for concurrent use.
package stats
