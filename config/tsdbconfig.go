package config

import (
	"github.com/cohesivestack/valgo"
)

// DefaultBridgeChannel is the bridge's default collection namespace when a
// deployment doesn't set one, matching the runtime bridge's wire protocol
// name for the default install.
const DefaultBridgeChannel = "tanstack-db:sqlite-persistence"

// TsdbConfig is the tsdbctl process configuration: where the SQLite file
// lives, logging, and what the bridge listens on. Schema-mismatch policies
// are not part of it; tsdbctl serve takes them per collection from its
// --collection flags.
type TsdbConfig struct {
	DBDir       string       `yaml:"dbDir" env:"DB_DIR"`
	DBName      string       `yaml:"dbName" env:"DB_NAME"`
	LogLevel    string       `yaml:"logLevel" env:"LOG_LEVEL"`
	Development bool         `yaml:"development" env:"DEVELOPMENT"`
	Bridge      BridgeConfig `yaml:"bridge" envPrefix:"BRIDGE_"`
}

// BridgeConfig configures the networked runtime bridge host.
type BridgeConfig struct {
	Channel       string `yaml:"channel" env:"CHANNEL"`
	Port          int    `yaml:"port" env:"PORT"`
	Path          string `yaml:"path" env:"PATH"`
	TimeoutMillis int    `yaml:"timeoutMillis" env:"TIMEOUT_MILLIS"`
}

func (c *TsdbConfig) InitDefaults() {
	c.DBName = "app"
	c.LogLevel = "info"
	c.Bridge = BridgeConfig{
		Channel:       DefaultBridgeChannel,
		Port:          8642,
		Path:          "/ws",
		TimeoutMillis: 5000,
	}
}

func (c *TsdbConfig) Validation() *valgo.Validation {
	v := valgo.New()
	v.Is(
		valgo.String(c.DBName, "dbName").Not().Blank(),
		valgo.String(c.LogLevel, "logLevel").Passing(func(s string) bool {
			switch s {
			case "debug", "info", "warn", "error":
				return true
			}
			return false
		}, "must be one of debug, info, warn, error"),
	)
	v.In("bridge", c.Bridge.Validation())
	return v
}

func (c *BridgeConfig) Validation() *valgo.Validation {
	return valgo.Is(
		valgo.String(c.Channel, "channel").Not().Blank(),
		valgo.Int(c.Port, "port").GreaterThan(0),
		valgo.String(c.Path, "path").Not().Blank(),
		valgo.Int(c.TimeoutMillis, "timeoutMillis").GreaterThan(0),
	)
}
