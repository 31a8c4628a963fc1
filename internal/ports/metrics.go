package ports

// Metric names recorded through MetricsCollector. Collectors route on these
// names; any other name falls through to a generic series.
const (
	// MetricGenerationLatency is a histogram of per-attempt generation
	// latency in seconds, labelled provider, model and status.
	MetricGenerationLatency = "generation_latency_seconds"

	// MetricGenerationRequests counts generation attempts, labelled
	// provider, model and status.
	MetricGenerationRequests = "generation_requests_total"

	// MetricGenerationTokens counts tokens, labelled provider, model and
	// token_type.
	MetricGenerationTokens = "generation_tokens_total"

	// MetricPairDuration is the latency operation recorded for each
	// completed question/variant pair.
	MetricPairDuration = "pair"

	// MetricPairsCompleted counts completed question/variant pairs.
	MetricPairsCompleted = "pairs_completed_total"

	// MetricTrialScore is a histogram of trial scores normalized to 0-100,
	// labelled model and variant.
	MetricTrialScore = "trial_score"

	// MetricRunningAverage is a gauge of a run's running average score.
	MetricRunningAverage = "running_average_score"

	// MetricRunsFinished counts runs that ended, labelled model and status.
	MetricRunsFinished = "runs_finished_total"
)
