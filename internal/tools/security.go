package tools

import "regexp"

// dangerousPatterns flag parameter strings that look like command or
// query injection. Scanning covers every string in the bundle,
// including nested lists and objects.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-[rf]{1,2}\s`),
	regexp.MustCompile("\\$\\(|`"),
	regexp.MustCompile(`;\s*(sh|bash|zsh|cmd|powershell)\b`),
	regexp.MustCompile(`\|\s*(sh|bash|nc|curl\s+[^|]*\|\s*sh)\b`),
	regexp.MustCompile(`\.\./\.\./`),
	regexp.MustCompile(`(?i)/etc/(passwd|shadow)`),
	regexp.MustCompile(`(?i)\b(drop|truncate)\s+table\b`),
	regexp.MustCompile(`(?i)<script[\s>]`),
}

// scanParams returns the first dangerous string found, or "".
func scanParams(values []string) string {
	for _, v := range values {
		for _, re := range dangerousPatterns {
			if re.MatchString(v) {
				return v
			}
		}
	}
	return ""
}
