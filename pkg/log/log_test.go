package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dukex/checkinhub/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := log.New(&buf, "warn", "json")
	logger.Info("dropped")
	logger.Warn("kept", "site_id", "s1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "s1", line["site_id"])
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer

	log.New(&buf, "debug", "text").Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestFromContext(t *testing.T) {
	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, fallback, log.FromContext(context.Background(), fallback))

	attached := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := log.WithLogger(context.Background(), attached)
	assert.Same(t, attached, log.FromContext(ctx, fallback))

	assert.NotNil(t, log.FromContext(context.Background(), nil))
}
