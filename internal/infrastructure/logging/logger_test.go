package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	logger := NewOrNop(Config{Level: "loud"})
	require.NotNil(t, logger)
	logger.Info("discarded")
}

func TestChildConfigWritesToStderr(t *testing.T) {
	cfg := ChildConfig("debug", false)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)

	logger, err := New(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1), "debug level enabled")
}

func TestEncodingFormat(t *testing.T) {
	assert.Equal(t, "console", encodingFormat(true))
	assert.Equal(t, "json", encodingFormat(false))
}
