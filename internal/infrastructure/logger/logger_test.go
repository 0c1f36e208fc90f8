package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("WARN", "json", &buf)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("model_id", "m1").Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"model_id":"m1"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := New("loud", "json", nil)
	assert.Error(t, err)

	_, err = New("info", "xml", nil)
	assert.Error(t, err)
}
