package logger

// Output controls what categories of information are shown at each verbosity level.
//
// Unlike log levels (which filter by severity), output categories control
// WHAT types of information are displayed regardless of severity.
//
// Verbosity Levels:
//
//	0 (default) - User-facing output only: results, errors with hints
//	1 (-v)      - + lifecycle transitions, startup info, connection events
//	2 (-vv)     - + timing, config loaded, queue/schedule activity, sleep arbiter decisions
//	3 (-vvv)    - + internal flow (hook dispatch), hook timeout near-misses
//	4 (-vvvv)   - + full KV batch/queue/schedule dumps

// OutputCategory defines a category of output that can be enabled/disabled
type OutputCategory int

const (
	// Level 0 (default) - Always shown
	OutputResults    OutputCategory = iota // Action results, command output
	OutputErrors                           // Errors with hints and resolution steps
	OutputUserStatus                       // Final success/failure status

	// Level 1 (-v) - Informational
	OutputProgress      // Progress indicators (e.g., queue drain progress)
	OutputStartup       // Startup banners, config summary
	OutputLifecycle     // Orchestrator state transitions (Loading/Ready/Started/Stopping)
	OutputConnEvents    // Connection connect/disconnect/reconnect events
	OutputOperationInfo // High-level operation summaries

	// Level 2 (-vv) - Detailed
	OutputTiming         // Operation timing (e.g., "action took 42ms")
	OutputConfig         // Config values loaded/applied
	OutputQueueActivity  // Enqueue/receive/complete events
	OutputScheduleEvents // Scheduled event insert/fire events
	OutputSleepDecisions // Sleep arbiter canSleep() results

	// Level 3 (-vvv) - Debug
	OutputInternalFlow // Hook dispatch, serial-executor flow
	OutputHookTimeouts // Hook timeout near-misses

	// Level 4 (-vvvv) - Full dump
	OutputKVBatches    // Full KV batch contents
	OutputQueueDump    // Full queue message contents
	OutputScheduleDump // Full schedule timeline contents
)

// categoryLevels maps each output category to its minimum verbosity level
var categoryLevels = map[OutputCategory]int{
	// Level 0 - Always shown
	OutputResults:    VerbosityUser,
	OutputErrors:     VerbosityUser,
	OutputUserStatus: VerbosityUser,

	// Level 1 - Informational
	OutputProgress:      VerbosityInfo,
	OutputStartup:       VerbosityInfo,
	OutputLifecycle:     VerbosityInfo,
	OutputConnEvents:    VerbosityInfo,
	OutputOperationInfo: VerbosityInfo,

	// Level 2 - Detailed
	OutputTiming:         VerbosityDebug,
	OutputConfig:         VerbosityDebug,
	OutputQueueActivity:  VerbosityDebug,
	OutputScheduleEvents: VerbosityDebug,
	OutputSleepDecisions: VerbosityDebug,

	// Level 3 - Debug
	OutputInternalFlow: VerbosityTrace,
	OutputHookTimeouts: VerbosityTrace,

	// Level 4 - Full dump
	OutputKVBatches:    VerbosityAll,
	OutputQueueDump:    VerbosityAll,
	OutputScheduleDump: VerbosityAll,
}

// ShouldOutput returns true if the given category should be shown at the given verbosity
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		// Unknown category, default to highest verbosity required
		return verbosity >= VerbosityAll
	}
	return verbosity >= minLevel
}

// categoryNames provides human-readable names for output categories
var categoryNames = map[OutputCategory]string{
	OutputResults:        "results",
	OutputErrors:         "errors",
	OutputUserStatus:     "status",
	OutputProgress:       "progress",
	OutputStartup:        "startup",
	OutputLifecycle:      "lifecycle",
	OutputConnEvents:     "conn-events",
	OutputOperationInfo:  "operation-info",
	OutputTiming:         "timing",
	OutputConfig:         "config",
	OutputQueueActivity:  "queue-activity",
	OutputScheduleEvents: "schedule-events",
	OutputSleepDecisions: "sleep-decisions",
	OutputInternalFlow:   "internal-flow",
	OutputHookTimeouts:   "hook-timeouts",
	OutputKVBatches:      "kv-batches",
	OutputQueueDump:      "queue-dump",
	OutputScheduleDump:   "schedule-dump",
}

// CategoryName returns the human-readable name for an output category
func CategoryName(category OutputCategory) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return "unknown"
}

// EnabledCategories returns all output categories enabled at the given verbosity
func EnabledCategories(verbosity int) []OutputCategory {
	var enabled []OutputCategory
	for cat, minLevel := range categoryLevels {
		if verbosity >= minLevel {
			enabled = append(enabled, cat)
		}
	}
	return enabled
}

// VerbosityDescription returns a description of what's shown at each level
func VerbosityDescription(verbosity int) string {
	switch verbosity {
	case VerbosityUser:
		return "results and errors only"
	case VerbosityInfo:
		return "results, errors, lifecycle transitions, connection events"
	case VerbosityDebug:
		return "above + timing, config, queue/schedule activity"
	case VerbosityTrace:
		return "above + internal flow, hook timeouts"
	case VerbosityAll:
		return "above + full KV/queue/schedule dumps"
	default:
		if verbosity > VerbosityAll {
			return "maximum verbosity"
		}
		return "unknown verbosity level"
	}
}

// Timing helpers

// SlowThresholdMS is the threshold in milliseconds above which timing is always shown
const SlowThresholdMS = 100

// ShouldShowTiming returns true if timing info should be displayed.
// Shows if: verbosity >= 2 (-vv) OR operation exceeded slow threshold.
func ShouldShowTiming(verbosity int, durationMS int64) bool {
	if durationMS >= SlowThresholdMS {
		return true // Always show slow operations
	}
	return ShouldOutput(verbosity, OutputTiming)
}

// ShouldShowTimingAlways returns true if timing should always be shown (slow operation)
func ShouldShowTimingAlways(durationMS int64) bool {
	return durationMS >= SlowThresholdMS
}
