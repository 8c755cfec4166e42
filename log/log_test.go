package log_test

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/albumshelf/config"
	"github.com/xeptore/albumshelf/log"
)

func TestNewJSONAttachesStackOnError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.New(&buf, config.Log{Level: "debug", Format: "json"})

	logger.Error().Msg("persist failed")

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "error", event["level"])
	assert.Equal(t, "persist failed", event["message"])
	assert.Contains(t, event, "version")
	assert.Contains(t, event, "stack")
}

func TestNewJSONSkipsStackBelowError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.New(&buf, config.Log{Level: "debug", Format: "json"})

	logger.Warn().Msg("mirror unreachable")

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.NotContains(t, event, "stack")
}

func TestNewRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := log.New(&buf, config.Log{Level: "warn", Format: "json"})

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.Bytes())
}

func TestNewPanicsOnInvalidFormat(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		log.New(&bytes.Buffer{}, config.Log{Level: "info", Format: "xml"})
	})
}
