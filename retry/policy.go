package retry

import "time"

// Retryable selects which error tags a policy will retry.
type Retryable string

const (
	// RetryableAll retries every error tag except the fixed permanent set.
	RetryableAll Retryable = "all"
	// RetryableTransient retries only tags in the transient set.
	RetryableTransient Retryable = "transient"
)

// Policy configures one retry behavior: how many attempts, how long to
// wait between them, and which errors are worth retrying at all.
type Policy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	// Retryable is RetryableAll, RetryableTransient, or an explicit set of
	// error tags (non-empty Tags takes precedence over the Retryable field).
	Retryable Retryable
	Tags      map[string]bool
}

// namedPolicies are the built-in policies selectable by name.
var namedPolicies = map[string]Policy{
	"aggressive": {
		Name: "aggressive", MaxAttempts: 5, BaseDelay: 100 * time.Millisecond,
		MaxDelay: 5 * time.Second, Jitter: true, Retryable: RetryableAll,
	},
	"conservative": {
		Name: "conservative", MaxAttempts: 3, BaseDelay: 500 * time.Millisecond,
		MaxDelay: 10 * time.Second, Jitter: true, Retryable: RetryableTransient,
	},
	"patient": {
		Name: "patient", MaxAttempts: 10, BaseDelay: 200 * time.Millisecond,
		MaxDelay: 60 * time.Second, Jitter: true, Retryable: RetryableAll,
	},
	"email": {
		Name: "email", MaxAttempts: 3, BaseDelay: time.Second,
		MaxDelay: 30 * time.Second, Jitter: true, Retryable: RetryableTransient,
	},
	"api": {
		Name: "api", MaxAttempts: 4, BaseDelay: 250 * time.Millisecond,
		MaxDelay: 8 * time.Second, Jitter: true, Retryable: RetryableTransient,
	},
	"database": {
		Name: "database", MaxAttempts: 5, BaseDelay: 50 * time.Millisecond,
		MaxDelay: 2 * time.Second, Jitter: true, Retryable: RetryableTransient,
	},
	"payment": {
		Name: "payment", MaxAttempts: 2, BaseDelay: 2 * time.Second,
		MaxDelay: 10 * time.Second, Jitter: false, Retryable: RetryableTransient,
	},
	"none": {
		Name: "none", MaxAttempts: 1, BaseDelay: 0, MaxDelay: 0, Retryable: RetryableTransient,
	},
}

// NamedPolicy returns a built-in policy by name and whether it exists.
func NamedPolicy(name string) (Policy, bool) {
	p, ok := namedPolicies[name]
	return p, ok
}
