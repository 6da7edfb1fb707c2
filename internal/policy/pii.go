package policy

import (
	"encoding/json"
	"regexp"
	"strings"
)

type redaction struct {
	pattern *regexp.Regexp
	replace func(match string) string
}

// Order matters: SSNs would otherwise be read as phone numbers and card
// digits as phone numbers.
var redactions = []redaction{
	{
		pattern: regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@([a-z0-9.\-]+\.[a-z]{2,})\b`),
		replace: maskAddress,
	},
	{
		pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		replace: func(string) string { return "***-**-****" },
	},
	{
		pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
		replace: maskCardNumber,
	},
	{
		pattern: regexp.MustCompile(`(?:\+?\d[\d()\-\s.]{7,}\d)`),
		replace: func(string) string { return "[phone_redacted]" },
	},
}

// MaskPIIString redacts customer identifiers before text reaches a log line.
// Address domains are kept so support can still tell customers apart.
func MaskPIIString(value string) string {
	for _, rule := range redactions {
		value = rule.pattern.ReplaceAllStringFunc(value, rule.replace)
	}
	return value
}

// MaskSender is MaskPIIString for a bare sender address.
func MaskSender(sender string) string {
	return MaskPIIString(strings.TrimSpace(sender))
}

// MaskPIIJSON masks every string value inside a JSON document. Anything that
// does not parse is masked as plain text.
func MaskPIIJSON(payload json.RawMessage) json.RawMessage {
	if strings.TrimSpace(string(payload)) == "" {
		return append(json.RawMessage(nil), payload...)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return json.RawMessage(MaskPIIString(string(payload)))
	}
	encoded, err := json.Marshal(maskValue(decoded))
	if err != nil {
		return append(json.RawMessage(nil), payload...)
	}
	return encoded
}

// Snippet masks text, collapses whitespace and cuts it to maxLen runes.
func Snippet(value string, maxLen int) string {
	masked := strings.Join(strings.Fields(MaskPIIString(value)), " ")
	runes := []rune(masked)
	if maxLen <= 0 || len(runes) <= maxLen {
		return masked
	}
	return string(runes[:maxLen]) + "..."
}

func maskValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			typed[key] = maskValue(child)
		}
		return typed
	case []any:
		for index, child := range typed {
			typed[index] = maskValue(child)
		}
		return typed
	case string:
		return MaskPIIString(typed)
	default:
		return value
	}
}

func maskAddress(address string) string {
	_, domain, found := strings.Cut(address, "@")
	if !found {
		return "[email_redacted]"
	}
	return "[redacted]@" + domain
}

func maskCardNumber(value string) string {
	var digits strings.Builder
	for _, char := range value {
		if char >= '0' && char <= '9' {
			digits.WriteRune(char)
		}
	}
	if digits.Len() < 13 {
		return value
	}
	all := digits.String()
	return "**** **** **** " + all[len(all)-4:]
}
