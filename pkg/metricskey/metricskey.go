package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsProbeSucceeded is base for counter metric for successful server probes
	StatsProbeSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_probe_succeeded",
		Help:         "stats_probe_succeeded provides total successful tool server probes",
		RequiredTags: []string{"server"},
	}

	StatsProbeFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_probe_failed",
		Help:         "stats_probe_failed provides total failed tool server probes",
		RequiredTags: []string{"server", "kind"},
	}

	StatsCacheRefreshed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_cache_refreshed",
		Help:         "stats_cache_refreshed provides total tool cache refreshes",
		RequiredTags: []string{"changed"},
	}

	StatsModelCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_model_calls_succeeded",
		Help:         "stats_model_calls_succeeded provides total chat completion calls succeeded",
		RequiredTags: []string{"model"},
	}

	StatsModelCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_model_calls_failed",
		Help:         "stats_model_calls_failed provides total chat completion calls failed after retries",
		RequiredTags: []string{"model"},
	}

	StatsRetryAttempts = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_retry_attempts",
		Help:         "stats_retry_attempts provides total failed attempts that were retried",
		RequiredTags: []string{"op"},
	}

	StatsLoopTurns = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_loop_turns",
		Help:         "stats_loop_turns provides total orchestration loop turns",
		RequiredTags: []string{"strategy"},
	}

	StatsLoopExhausted = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_loop_exhausted",
		Help:         "stats_loop_exhausted provides total loops that reached the turn limit",
		RequiredTags: []string{"strategy"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}
)

// Perf
var (
	PerfProbe = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_probe",
		Help:         "perf_probe provides duration of a tool server probe",
		RequiredTags: []string{"server"},
	}

	PerfCacheRefresh = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_cache_refresh",
		Help:         "perf_cache_refresh provides duration of a full tool cache refresh",
		RequiredTags: []string{"changed"},
	}

	PerfModelCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_model_call",
		Help:         "perf_model_call provides duration of a chat completion call",
		RequiredTags: []string{"model"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfLoopRun = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_loop_run",
		Help:         "perf_loop_run provides duration of an orchestration loop run",
		RequiredTags: []string{"strategy"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfCacheRefresh,
	&PerfLoopRun,
	&PerfModelCall,
	&PerfProbe,
	&PerfToolCall,
	&StatsCacheRefreshed,
	&StatsLoopExhausted,
	&StatsLoopTurns,
	&StatsModelCallsFailed,
	&StatsModelCallsSucceeded,
	&StatsProbeFailed,
	&StatsProbeSucceeded,
	&StatsRetryAttempts,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
