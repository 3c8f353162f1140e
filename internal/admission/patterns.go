package admission

import "regexp"

// injectionPatterns flag prompt-injection phrasing. Matching is a
// screen, not moderation; only clear override attempts are caught.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions|prompts|rules)`),
	regexp.MustCompile(`(?i)reveal\s+(your\s+)?(system\s+prompt|hidden\s+instructions)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(in\s+)?(developer|jailbreak|dan)\s*mode`),
	regexp.MustCompile(`(?i)pretend\s+(that\s+)?(you\s+have|there\s+are)\s+no\s+(rules|restrictions|guidelines)`),
}

// credentialPatterns flag credential-shaped strings so secrets pasted
// into a chat never reach a provider or the thread store.
var credentialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(password|passwd|secret)\s*[:=]\s*[^\s"']{8,}`),
}

// screen reports whether content trips a pattern and which class it
// belongs to.
func screen(content string) (matched bool, class string) {
	for _, re := range injectionPatterns {
		if re.MatchString(content) {
			return true, "injection"
		}
	}
	for _, re := range credentialPatterns {
		if re.MatchString(content) {
			return true, "credential"
		}
	}
	return false, ""
}

// sanitizeEcho replaces every credential-shaped substring so the
// rejection message can safely quote the input back.
func sanitizeEcho(content string) string {
	for _, re := range credentialPatterns {
		content = re.ReplaceAllString(content, "[REDACTED]")
	}
	const maxEcho = 160
	if len(content) > maxEcho {
		content = content[:maxEcho] + "..."
	}
	return content
}
