// Package policy screens user utterances and masks personal data before chat history
// is stored or sent to a model.
package policy

import "regexp"

type redactionRule struct {
	kind    string
	pattern *regexp.Regexp
	marker  string
}

// Rule order matters: card numbers would otherwise be taken for phone numbers.
var redactionRules = []redactionRule{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII and reports which kinds were found.
func RedactPII(input string) (redacted string, kinds []string) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		if next != out {
			kinds = append(kinds, rule.kind)
		}
		out = next
	}
	return out, kinds
}
