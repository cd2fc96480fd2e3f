package redact_test

import (
	"strings"
	"testing"

	"github.com/dukex/checkinhub/pkg/redact"
	"github.com/stretchr/testify/assert"
)

func TestHeaders(t *testing.T) {
	input := map[string]string{
		"Authorization": "Bearer abc",
		"COOKIE":        "session=1",
		"X-Csrf-Token":  "t",
		"x-api-key":     "k",
		"Content-Type":  "application/json",
	}

	out := redact.Headers(input)

	assert.Equal(t, map[string]string{
		"Authorization": redact.Mask,
		"COOKIE":        redact.Mask,
		"X-Csrf-Token":  redact.Mask,
		"x-api-key":     redact.Mask,
		"Content-Type":  "application/json",
	}, out)
	assert.Equal(t, "Bearer abc", input["Authorization"])
}

func TestHeaders_Empty(t *testing.T) {
	assert.Empty(t, redact.Headers(nil))
}

func TestResponse(t *testing.T) {
	assert.Equal(t, "", redact.Response("", 10))
	assert.Equal(t, "short", redact.Response("short", 10))
	assert.Equal(t, "0123456789", redact.Response("0123456789", 10))
	assert.Equal(t, "01234...[truncated]", redact.Response("0123456789", 5))

	long := strings.Repeat("a", 600)
	assert.Equal(t, strings.Repeat("a", 500)+"...[truncated]", redact.Response(long, 0))

	assert.Equal(t, "日本...[truncated]", redact.Response("日本語テキスト", 2))
}
