// Package privacy implements the mandatory PII redaction applied to
// every outbound LLM payload. Persisted events are never modified; only
// the copy sent to the model is filtered.
package privacy

import (
	"regexp"
	"strings"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/model"
)

const redactedToken = "[REDACTED]"

// Built-in PII patterns. Order matters: URLs before bare hostnames,
// credit cards before generic numeric runs.
var (
	reIPv4       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	reIPv6       = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{0,4}\b`)
	reEmail      = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	rePhone      = regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}\b`)
	reURL        = regexp.MustCompile(`\bhttps?://[^\s"']+`)
	reMAC        = regexp.MustCompile(`\b(?:[0-9a-fA-F]{2}[:-]){5}[0-9a-fA-F]{2}\b`)
	reCreditCard = regexp.MustCompile(`\b\d(?:[ -]?\d){12,15}\b`)
	reAPIKey     = regexp.MustCompile(`(?i)(api[_-]?key|apikey|bearer|token)[=:\s]+["']?[a-zA-Z0-9_.-]{16,}["']?`)
	reCredential = regexp.MustCompile(`(?i)(password|passwd|pwd|secret|user(name)?)[=:]["']?[^"'\s&]+["']?`)
	reUserPath   = regexp.MustCompile(`(?i)(/home/|/Users/|C:\\Users\\)[^\s/\\]+`)
)

// Filter redacts PII from outbound LLM payloads according to the
// resolved privacy settings.
type Filter struct {
	settings config.PrivacySettings
	patterns []*regexp.Regexp // replaced wholesale
	keyed    []*regexp.Regexp // key=value, the key stays visible
	custom   []*regexp.Regexp
}

// NewFilter compiles a filter from privacy settings. Invalid custom
// patterns are skipped.
func NewFilter(settings config.PrivacySettings) *Filter {
	f := &Filter{settings: settings}

	add := func(enabled bool, re *regexp.Regexp) {
		if enabled {
			f.patterns = append(f.patterns, re)
		}
	}
	add(settings.RedactURLs, reURL)
	add(settings.RedactEmails, reEmail)
	if settings.RedactAPIKeys {
		f.keyed = append(f.keyed, reAPIKey)
	}
	if settings.RedactCredentials {
		f.keyed = append(f.keyed, reCredential)
	}
	add(settings.RedactMACs, reMAC)
	add(settings.RedactIPs, reIPv4)
	add(settings.RedactIPs, reIPv6)
	add(settings.RedactCreditCards, reCreditCard)
	add(settings.RedactPhones, rePhone)
	add(settings.RedactUserPaths, reUserPath)

	for _, p := range settings.CustomPatterns {
		if re, err := regexp.Compile(p); err == nil {
			f.custom = append(f.custom, re)
		}
	}

	return f
}

// Redact applies all enabled patterns to s.
func (f *Filter) Redact(s string) string {
	result := s
	for _, re := range f.keyed {
		result = re.ReplaceAllStringFunc(result, redactMatch)
	}
	for _, re := range f.patterns {
		result = re.ReplaceAllString(result, redactedToken)
	}
	for _, re := range f.custom {
		result = re.ReplaceAllString(result, redactedToken)
	}
	return result
}

// redactMatch keeps a leading key name (api_key=, password:) visible and
// masks only the value part.
func redactMatch(match string) string {
	for _, sep := range []string{"=", ":"} {
		if i := strings.Index(match, sep); i > 0 && i < 24 {
			return match[:i+1] + redactedToken
		}
	}
	return redactedToken
}

// RedactEvent returns a copy of the event safe to include in an LLM
// payload. The stored event is untouched.
func (f *Filter) RedactEvent(e model.Event) model.Event {
	out := e
	out.Message = f.Redact(e.Message)
	out.SourceIP = ""
	out.Raw = nil

	if f.settings.StripHost {
		out.Host = ""
	} else {
		out.Host = f.Redact(e.Host)
	}
	if f.settings.StripProgram {
		out.Program = ""
	} else {
		out.Program = f.Redact(e.Program)
	}
	return out
}

// SanitizeError removes sensitive data from an error message before it
// is logged or returned to a caller.
func (f *Filter) SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return f.Redact(err.Error())
}
