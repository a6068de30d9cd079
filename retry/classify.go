package retry

// TaggedError is an error that carries a classification tag. Step
// implementations that want fine-grained retry behavior should return one
// of these instead of a bare error; anything else falls back to Tag()'s
// best-effort extraction.
type TaggedError interface {
	error
	Tag() string
}

// Tagged wraps err with an explicit tag.
type Tagged struct {
	tag string
	err error
}

// NewTagged returns an error classified under tag.
func NewTagged(tag string, err error) *Tagged {
	return &Tagged{tag: tag, err: err}
}

func (t *Tagged) Error() string { return t.err.Error() }
func (t *Tagged) Unwrap() error { return t.err }
func (t *Tagged) Tag() string   { return t.tag }

// permanentTags are never retried, even if a policy's Tags set explicitly
// names them — they represent rejections no amount of retrying can fix.
var permanentTags = map[string]bool{
	"validation_failed":      true,
	"invalid_params":         true,
	"auth_failed":            true,
	"unauthorized":           true,
	"forbidden":              true,
	"business_rule_rejected": true,
	"missing_dni":            true,
	"not_found":              true,
}

// transientTags cover network/service/database hiccups expected to clear
// up on their own.
var transientTags = map[string]bool{
	"timeout":         true,
	"connection_error": true,
	"service_unavailable": true,
	"rate_limited":    true,
	"circuit_open":    true,
	"db_unavailable":  true,
	"deadlock":        true,
	"internal_error":  true,
	"exception":       true,
}

// Tag extracts a classification tag from err: err's own Tag() if it
// implements TaggedError, otherwise "unknown".
func Tag(err error) string {
	if err == nil {
		return ""
	}
	if te, ok := err.(TaggedError); ok {
		return te.Tag()
	}
	return "unknown"
}

// Retryable reports whether err should be retried under policy: permanent
// tags are never retryable; otherwise it's governed by policy.Tags (if
// set), RetryableTransient (must be in transientTags), or RetryableAll
// (anything not permanent).
func Retryable(policy Policy, err error) bool {
	tag := Tag(err)
	if permanentTags[tag] {
		return false
	}
	if len(policy.Tags) > 0 {
		return policy.Tags[tag]
	}
	switch policy.Retryable {
	case RetryableTransient:
		return transientTags[tag]
	case RetryableAll:
		return true
	default:
		return false
	}
}
