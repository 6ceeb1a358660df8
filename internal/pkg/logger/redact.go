package logger

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactEmail masks an email address for safe logging.
// "maria.huber@example.com" -> "ma***@example.com"; local parts of two
// characters or fewer are fully masked.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	local := parts[0]
	if len(local) > 2 {
		return local[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// redactValue masks lead-identifying values. Fields whose key names an
// email, lead or sender are masked outright; any embedded addresses in
// other values are masked in place.
func redactValue(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "email") || strings.Contains(k, "lead") ||
		strings.Contains(k, "sender") || strings.Contains(k, "reply_to") {
		if strings.Contains(val, "@") {
			return RedactEmail(val)
		}
	}
	return emailPattern.ReplaceAllStringFunc(val, RedactEmail)
}
