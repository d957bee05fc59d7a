package policy

import "regexp"

type redactRule struct {
	kind    string
	pattern *regexp.Regexp
	mask    string
}

// Card numbers are matched before phones so long digit runs are not
// reported as phone numbers.
var noteRules = []redactRule{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[email]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[card]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[phone]"},
}

// RedactNote masks contact details and card numbers in free text a user
// attaches to a step or a stop. It returns the kinds it masked.
func RedactNote(note string) (string, []string) {
	var kinds []string
	for _, rule := range noteRules {
		if !rule.pattern.MatchString(note) {
			continue
		}
		note = rule.pattern.ReplaceAllString(note, rule.mask)
		kinds = append(kinds, rule.kind)
	}
	return note, kinds
}
