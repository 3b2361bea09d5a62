// Package retry decides whether a failed engine invocation should be retried.
//
// Classification is a pure function of the diagnostic text, the number of
// retries already spent and the retry budget.
package retry

import "strings"

// DefaultBudget allows one retry, i.e. two attempts in total.
const DefaultBudget = 1

// Category names the failure family shown to users.
type Category string

const (
	CategoryMemory    Category = "memory"
	CategoryTimeout   Category = "timeout"
	CategoryGeneric   Category = "generic"
	CategoryExhausted Category = "exhausted"
	CategoryTransient Category = "transient"
	// CategoryInput and CategoryInternal are assigned by the scheduler for
	// errors it recognises before classification.
	CategoryInput     Category = "input"
	CategoryInternal  Category = "internal"
	CategoryCancelled Category = "cancelled"
)

// Decision is the outcome of Classify.
type Decision struct {
	Retry    bool
	Category Category
}

var memoryMarkers = []string{
	"out of memory",
	"cannot allocate memory",
	"enomem",
	"bad_alloc",
	"memory allocation failed",
}

var timeoutMarkers = []string{
	"signal: killed",
	"signal: terminated",
	"context deadline exceeded",
}

var engineMarkers = []string{
	"error while processing",
	"conversion failed",
	"invalid data found when processing input",
	"error initializing",
	"moov atom not found",
	"could not find codec",
	"no such filter",
	"error reinitializing filters",
	"failed to configure",
	"does not contain any stream",
	"invalid argument",
}

// Classify maps a failure to retry-or-fail. retries is the number of retries
// already performed for the job.
func Classify(errText string, retries, budget int) Decision {
	text := strings.ToLower(errText)
	switch {
	case containsAny(text, memoryMarkers):
		return Decision{Category: CategoryMemory}
	case containsAny(text, timeoutMarkers):
		return Decision{Category: CategoryTimeout}
	case containsAny(text, engineMarkers):
		return Decision{Category: CategoryGeneric}
	}
	if retries < budget {
		return Decision{Retry: true, Category: CategoryTransient}
	}
	return Decision{Category: CategoryExhausted}
}

// Permanent reports whether a category never warrants a retry.
func (c Category) Permanent() bool {
	return c != CategoryTransient
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
