package batch

import (
	"os"
	"strings"
)

// EnvToggle forces batch mode on or off when set to "true" or "false"
// (any casing). Any other value falls through to the size threshold.
const EnvToggle = "CRATE_USE_BATCH"

// DefaultThreshold is the workload size above which batch submission
// pays off. At or below it, per-request calls finish sooner and the
// batch discount does not cover the orchestration overhead.
const DefaultThreshold = 11

// Decide reports whether a workload of n items should go through the
// batch channel. Precedence: explicit override, then the environment
// toggle, then the size threshold.
func Decide(n int, override *bool, threshold int) bool {
	if override != nil {
		return *override
	}
	switch strings.ToLower(os.Getenv(EnvToggle)) {
	case "true":
		return true
	case "false":
		return false
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return n > threshold
}
