package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "token", input: "hvs.CAESIJ1"},
		{name: "empty secret is still redacted", input: ""},
		{name: "unseal shard", input: "q2Vd0x+5Zk3oW7=="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, "[REDACTED]", Secret(tt.input).String())
			assert.Equal(t, "[REDACTED]", Secret(tt.input).GoString())
		})
	}
}

func TestLoggerWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)

	logger.Info("mounted %s", "secret")
	logger.Warn("mount %s skipped", "sys")
	logger.Error("could not unseal")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "✓ mounted secret")
	assert.Contains(t, out, "⚠ mount sys skipped")
	assert.Contains(t, out, "✗ could not unseal")
	assert.NotContains(t, out, "hidden")
}

func TestLoggerDebugMode(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true, true)

	assert.True(t, logger.DebugEnabled())
	logger.Debug("token is %s", Secret("hvs.very-secret"))

	assert.Contains(t, buf.String(), "[DEBUG] token is [REDACTED]")
	assert.NotContains(t, buf.String(), "hvs.very-secret")
}

func TestLoggerColor(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, false, false).Info("ok")
	assert.Contains(t, buf.String(), "\033[32m")
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Info("nothing")
	assert.False(t, logger.DebugEnabled())
}

func TestRedactFunction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret redacted",
			input:    "The token is s.abcdef",
			secrets:  []string{"s.abcdef"},
			expected: "The token is [REDACTED]",
		},
		{
			name:     "empty secret ignored",
			input:    "This has no secrets",
			secrets:  []string{""},
			expected: "This has no secrets",
		},
		{
			name:     "short secret ignored",
			input:    "Short secret: ab",
			secrets:  []string{"ab"},
			expected: "Short secret: ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Redact(tt.input, tt.secrets))
		})
	}
}
