package jobs

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Payloads and error messages cross the trust boundary into storage here,
// where they become visible to the dashboard and audit log. Anything that
// looks like a credential is redacted and lengths are capped.
const (
	maxPayloadBytes = 64 * 1024
	maxErrorLength  = 2000
	redactedValue   = "[redacted]"
)

// secretKeyPattern matches JSON object keys that typically carry credentials.
var secretKeyPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[-_]?key|authorization|credential|private[-_]?key)`)

// secretValuePattern matches credential-shaped fragments inside free text,
// e.g. "Bearer eyJhbG..." or "api_key=sk-abc123" in an error message.
var secretValuePattern = regexp.MustCompile(`(?i)(bearer\s+[A-Za-z0-9._\-]+|(password|secret|token|api[-_]?key)\s*[=:]\s*\S+)`)

// SanitizePayload strips credential-shaped fields from a JSON payload and
// caps its size before it is persisted. Non-JSON input is stored as a JSON
// string so the column always holds valid JSON.
func SanitizePayload(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		quoted, _ := json.Marshal(truncate(string(raw), maxPayloadBytes))
		return quoted
	}

	cleaned, err := json.Marshal(redactValue(value))
	if err != nil {
		return nil
	}
	if len(cleaned) > maxPayloadBytes {
		quoted, _ := json.Marshal(truncate(string(cleaned), maxPayloadBytes))
		return quoted
	}
	return cleaned
}

// SanitizeErrorMessage redacts credential-shaped fragments from an error
// message and caps its length before it is stored on the row.
func SanitizeErrorMessage(msg string) string {
	cleaned := secretValuePattern.ReplaceAllString(msg, redactedValue)
	return truncate(cleaned, maxErrorLength)
}

// redactValue walks a decoded JSON value replacing values under
// credential-shaped keys.
func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, nested := range v {
			if secretKeyPattern.MatchString(key) {
				v[key] = redactedValue
				continue
			}
			v[key] = redactValue(nested)
		}
		return v
	case []any:
		for i, nested := range v {
			v[i] = redactValue(nested)
		}
		return v
	default:
		return value
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// ToValidUTF8 drops any rune split by the byte cut
	return strings.ToValidUTF8(s[:max], "") + "…(truncated)"
}
