package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsGlobalLevel(t *testing.T) {
	_, err := New("warn", false)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestNewDefaultsEmptyLevelToInfo(t *testing.T) {
	_, err := New("", true)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("verbose", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verbose")
}
