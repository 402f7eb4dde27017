package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Patterns that mark attempted prompt injection in platform content. Matches
// are redacted before the text reaches the brain.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
	regexp.MustCompile(`(?i)disregard (all )?prior (instructions|context)`),
	regexp.MustCompile(`(?i)forget (everything|all) (you|above)`),
	regexp.MustCompile(`(?i)you are now a`),
	regexp.MustCompile(`(?i)pretend to be`),
	regexp.MustCompile(`(?i)act as if`),
	regexp.MustCompile(`(?i)new instructions\s*:`),
	regexp.MustCompile(`(?i)system prompt\s*:`),
	regexp.MustCompile(`(?i)\[system\]`),
	regexp.MustCompile(`(?i)<\s*/?\s*system\s*>`),
	regexp.MustCompile(`(?i)reveal your (instructions|prompt|system)`),
	regexp.MustCompile(`(?i)output your (instructions|prompt)`),
	regexp.MustCompile(`(?i)api[_-]?key\s*[:=]`),
	regexp.MustCompile(`(?i)token\s*[:=]\s*[A-Za-z0-9_\-\.]{16,}`),
	regexp.MustCompile(`(?i)password\s*[:=]`),
}

// Sanitize redacts injection markers from untrusted platform text and
// returns the warnings raised, one per matched pattern.
func Sanitize(content string) (string, []string) {
	var warnings []string
	cleaned := content
	for _, re := range injectionPatterns {
		if re.MatchString(cleaned) {
			warnings = append(warnings, fmt.Sprintf("redacted pattern %q", re.String()))
			cleaned = re.ReplaceAllString(cleaned, "[REDACTED]")
		}
	}
	return cleaned, warnings
}

// Spotlight wraps untrusted text in delimiters so the brain can tell
// platform content apart from its own instructions.
func Spotlight(content string) string {
	var b strings.Builder
	b.WriteString("<untrusted_content>\n")
	b.WriteString(content)
	b.WriteString("\n</untrusted_content>")
	return b.String()
}
