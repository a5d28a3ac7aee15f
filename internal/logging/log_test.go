package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests mutate the global logger and must not run in parallel.

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup("debug", "json", &buf))
	t.Cleanup(func() { _ = Setup("info", "text", os.Stderr) })

	log.WithField("name", "checksums.b2").Debug("uploaded asset")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "uploaded asset", entry["message"])
	assert.Equal(t, "checksums.b2", entry["name"])
	assert.Equal(t, "debug", entry["level"])
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup("warn", "text", &buf))
	t.Cleanup(func() { _ = Setup("info", "text", os.Stderr) })

	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetupRejectsBadInput(t *testing.T) {
	assert.ErrorContains(t, Setup("loud", "text", nil), "log-level")
	assert.ErrorContains(t, Setup("info", "xml", nil), "unknown log format")
}
