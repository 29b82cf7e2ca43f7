package feed

import (
	"regexp"
	"strings"
)

type replacement struct {
	re   *regexp.Regexp
	repl string
}

// Redactor scrubs credential patterns from log lines before they reach
// the buffer or any subscriber.
type Redactor struct {
	rules []replacement
	extra []*regexp.Regexp
}

// NewRedactor builds the standard credential rules plus operator
// extras, supplied as "||"-separated regexes. Invalid extras are
// skipped: a bad pattern must not break log streaming.
func NewRedactor(extraPatterns string) *Redactor {
	r := &Redactor{
		rules: []replacement{
			{
				re:   regexp.MustCompile(`(?i)\b(authorization)\s*:\s*bearer\s+[a-z0-9._\-+/=]+`),
				repl: "${1}: Bearer [REDACTED]",
			},
			{
				re:   regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-+/=]+`),
				repl: "Bearer [REDACTED]",
			},
			{
				re:   regexp.MustCompile(`(?i)("?(?:api[-_]?key|token|secret|password|passwd|cookie)"?\s*[:=]\s*)(".*?"|[^,\s;]+)`),
				repl: "${1}[REDACTED]",
			},
		},
	}
	for _, raw := range strings.Split(extraPatterns, "||") {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		r.extra = append(r.extra, re)
	}
	return r
}

// Redact applies every rule to the text.
func (r *Redactor) Redact(text string) string {
	out := text
	for _, rule := range r.rules {
		out = rule.re.ReplaceAllString(out, rule.repl)
	}
	for _, re := range r.extra {
		out = re.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}
