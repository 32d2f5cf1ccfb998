package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json", "reservation-service")

	logger.Info().Msg("dropped")
	logger.Warn().Str("sku", "A").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "reservation-service", entry["service"])
	assert.Equal(t, "A", entry["sku"])
	assert.Contains(t, entry, "time")
}

func TestNewWithWriter_UnknownLevel(t *testing.T) {
	logger := NewWithWriter(&bytes.Buffer{}, "chatty", "json", "svc")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "console", "svc")
	logger.Debug().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(buf.Bytes()))
}
