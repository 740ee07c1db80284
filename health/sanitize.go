package health

import "regexp"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// Applied in order: URLs contain paths and ports, so they go first.
var redactions = []redaction{
	{regexp.MustCompile(`(?:https?|nats|tls|wss?)://\S+`), "[URL]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
}

// sanitizeErrorMessage strips addresses, paths and credentials from an
// error before it is exposed through a health status.
func sanitizeErrorMessage(msg string) string {
	for _, r := range redactions {
		msg = r.pattern.ReplaceAllString(msg, r.replacement)
	}
	return msg
}
