package policy

import (
	"regexp"
	"strings"
)

// Decision is the outcome of screening one user utterance.
type Decision struct {
	Blocked bool
	Reason  string
}

var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`),
	regexp.MustCompile(`(?i)\b(print|show|reveal|read out)\b.*\b(api[_ -]?key|token|password|secret)s?\b`),
	regexp.MustCompile(`(?i)\bignore (all )?(previous|prior) instructions\b`),
}

// RefusalText is spoken back when an utterance is blocked.
const RefusalText = "Sorry, I can't help with that one. Is there something else I can do for you?"

// Screen rejects utterances that try to extract secrets or override the assistant's instructions.
func Screen(utterance string) Decision {
	in := strings.TrimSpace(utterance)
	if in == "" {
		return Decision{}
	}
	for _, re := range blockedPatterns {
		if re.MatchString(in) {
			return Decision{Blocked: true, Reason: "utterance requests secrets or instruction override"}
		}
	}
	return Decision{}
}
