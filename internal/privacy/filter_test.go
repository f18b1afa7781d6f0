package privacy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/model"
)

func TestRedactBuiltins(t *testing.T) {
	f := NewFilter(config.DefaultPrivacySettings())

	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{
			name:     "ipv4",
			in:       "connect from 192.168.1.50 refused",
			expected: "connect from [REDACTED] refused",
		},
		{
			name:     "email",
			in:       "password reset for alice@example.com",
			expected: "password reset for [REDACTED]",
		},
		{
			name:     "url",
			in:       "GET https://internal.corp/admin?key=abc done",
			expected: "GET [REDACTED] done",
		},
		{
			name:     "mac",
			in:       "dhcp lease for aa:bb:cc:dd:ee:ff expired",
			expected: "dhcp lease for [REDACTED] expired",
		},
		{
			name:     "credit card",
			in:       "card 4111 1111 1111 1111 declined",
			expected: "card [REDACTED] declined",
		},
		{
			name:     "api key keeps the key name",
			in:       "request with api_key=abcdef1234567890XYZ rejected",
			expected: "request with api_key=[REDACTED] rejected",
		},
		{
			name:     "password keeps the key name",
			in:       "auth attempt password=hunter2pass",
			expected: "auth attempt password=[REDACTED]",
		},
		{
			name:     "user path",
			in:       "read error in /home/alice/app.log",
			expected: "read error in [REDACTED]/app.log",
		},
		{
			name:     "clean message untouched",
			in:       "service restarted cleanly",
			expected: "service restarted cleanly",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.Redact(tt.in))
		})
	}
}

func TestRedactDisabledPatternPassesThrough(t *testing.T) {
	settings := config.DefaultPrivacySettings()
	settings.RedactIPs = false
	f := NewFilter(settings)

	assert.Equal(t, "connect from 192.168.1.50 refused", f.Redact("connect from 192.168.1.50 refused"))
}

func TestRedactCustomPatterns(t *testing.T) {
	settings := config.DefaultPrivacySettings()
	settings.CustomPatterns = []string{`node-\d+`, `([broken`}
	f := NewFilter(settings)

	// The invalid pattern is skipped, the valid one applies.
	assert.Equal(t, "draining [REDACTED] now", f.Redact("draining node-42 now"))
}

func TestRedactEvent(t *testing.T) {
	f := NewFilter(config.DefaultPrivacySettings())
	ev := model.Event{
		Message:  "login failed from 10.0.0.5",
		Host:     "web-01",
		Program:  "sshd",
		SourceIP: "10.0.0.5",
		Raw:      model.JSONMap{"original": "payload"},
	}

	out := f.RedactEvent(ev)
	assert.Equal(t, "login failed from [REDACTED]", out.Message)
	assert.Equal(t, "web-01", out.Host)
	assert.Equal(t, "sshd", out.Program)
	assert.Empty(t, out.SourceIP)
	assert.Nil(t, out.Raw)

	// The stored event is untouched.
	assert.Equal(t, "login failed from 10.0.0.5", ev.Message)
	assert.Equal(t, "10.0.0.5", ev.SourceIP)
}

func TestRedactEventStripsFields(t *testing.T) {
	settings := config.DefaultPrivacySettings()
	settings.StripHost = true
	settings.StripProgram = true
	f := NewFilter(settings)

	out := f.RedactEvent(model.Event{Message: "ok", Host: "web-01", Program: "sshd"})
	assert.Empty(t, out.Host)
	assert.Empty(t, out.Program)
}

func TestSanitizeError(t *testing.T) {
	f := NewFilter(config.DefaultPrivacySettings())
	assert.Empty(t, f.SanitizeError(nil))
	assert.Equal(t, "dial [REDACTED] failed", f.SanitizeError(errors.New("dial 10.1.2.3 failed")))
}
