package shield

import "regexp"

// Outbound content policy. An action whose text matches one of these never
// leaves the agent, regardless of rate state: leaked credentials, or the
// agent parroting injected instructions it absorbed from a hostile post.
var bannedPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"instruction_override", regexp.MustCompile(`(?i)ignore (all )?previous instructions`)},
	{"instruction_override", regexp.MustCompile(`(?i)disregard (all )?prior (instructions|context)`)},
	{"persona_hijack", regexp.MustCompile(`(?i)you are now a`)},
	{"persona_hijack", regexp.MustCompile(`(?i)pretend to be`)},
	{"system_prompt_leak", regexp.MustCompile(`(?i)system prompt\s*:`)},
	{"system_prompt_leak", regexp.MustCompile(`(?i)\[system\]`)},
	{"credential_leak", regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`)},
	{"credential_leak", regexp.MustCompile(`(?i)token\s*[:=]\s*[A-Za-z0-9_\-\.]{16,}`)},
	{"credential_leak", regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`)},
	{"credential_leak", regexp.MustCompile(`(?i)secret\s*[:=]\s*\S+`)},
}

// contentViolation returns the name of the first violated policy, or "".
func contentViolation(content string) string {
	for _, p := range bannedPatterns {
		if p.re.MatchString(content) {
			return "content policy: " + p.name
		}
	}
	return ""
}
