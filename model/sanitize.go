package model

import "strings"

// sensitiveKeys are stripped from DLQ context before it is persisted.
// Matching is case-insensitive on the key name.
var sensitiveKeys = map[string]struct{}{
	"password":    {},
	"card_number": {},
	"cvv":         {},
	"pin":         {},
	"secret":      {},
}

// maxContextStringLen caps individual string values kept in DLQ context;
// longer values are truncated and marked so entries stay bounded in size.
const maxContextStringLen = 1000

const truncationMarker = "...[truncated]"

// SanitizeContext strips sensitive keys and truncates long string values
// from a DLQ entry's context before it is durably persisted.
func SanitizeContext(ctx State) State {
	if ctx == nil {
		return nil
	}
	out := make(State, len(ctx))
	for k, v := range ctx {
		if _, sensitive := sensitiveKeys[strings.ToLower(k)]; sensitive {
			continue
		}
		if s, ok := v.(string); ok && len(s) > maxContextStringLen {
			out[k] = s[:maxContextStringLen] + truncationMarker
			continue
		}
		out[k] = v
	}
	return out
}
