package emailutil

import "strings"

// Normalize normalizes an email address for consistent comparison
// by converting to lowercase and trimming whitespace
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ExtractDomain extracts the lowercased domain from an email address
func ExtractDomain(email string) string {
	local, domain, ok := strings.Cut(Normalize(email), "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return ""
	}
	return domain
}

// Redact keeps the first character of the local part, for log lines
func Redact(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
