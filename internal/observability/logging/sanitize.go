package logging

import "regexp"

var (
	// ClientLogin responses and Reader API query strings carry tokens as key=value.
	tokenPattern = regexp.MustCompile(`(?i)\b(auth|sid|lsid|passwd|password|token|t)=[^&\s"']+`)

	// Credentials embedded in a URL.
	userInfoPattern = regexp.MustCompile(`://([^:/@\s]+):([^@/\s]+)@`)
)

// SanitizeError returns err's message with credentials masked, for output
// that leaves the process (health endpoints, notifications).
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = tokenPattern.ReplaceAllString(msg, "$1=****")
	msg = userInfoPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}
