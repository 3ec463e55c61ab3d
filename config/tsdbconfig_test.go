package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTsdbConfig_DefaultsAreValid(t *testing.T) {
	var cfg TsdbConfig
	cfg.InitDefaults()
	require.NoError(t, cfg.Validation().ToError())
	assert.Equal(t, DefaultBridgeChannel, cfg.Bridge.Channel)
}

func TestTsdbConfig_InvalidLogLevel(t *testing.T) {
	var cfg TsdbConfig
	cfg.InitDefaults()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validation().ToError())
}

func TestBridgeConfig_RejectsZeroPort(t *testing.T) {
	var cfg TsdbConfig
	cfg.InitDefaults()
	cfg.Bridge.Port = 0
	assert.Error(t, cfg.Validation().ToError())
}
