package config

import (
	types "VodForge/pkg"
)

type Config struct {
	Server   ServerConfig         `mapstructure:"server" json:"server"`
	Database DatabaseConfig       `mapstructure:"database" json:"database"`
	Queue    types.QueueConfig    `mapstructure:"queue" json:"queue"`
	Redis    types.RedisConfig    `mapstructure:"redis" json:"redis"`
	Kafka    types.KafkaConfig    `mapstructure:"kafka" json:"kafka"`
	Pipeline types.PipelineConfig `mapstructure:"pipeline" json:"pipeline"`
	Ladder   []types.RungConfig   `mapstructure:"ladder" json:"ladder"`
	Storage  types.StorageConfig  `mapstructure:"storage" json:"storage"`
	Spool    types.SpoolConfig    `mapstructure:"spool" json:"spool"`
	Logging  types.LoggingConfig  `mapstructure:"logging" json:"logging"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" json:"dsn"`
}

// DefaultLadder is used when the config file declares no ladder.
func DefaultLadder() []types.RungConfig {
	return []types.RungConfig{
		{Label: "144p", Width: 256, Height: 144, BitrateKbps: 200},
		{Label: "240p", Width: 426, Height: 240, BitrateKbps: 400},
		{Label: "360p", Width: 640, Height: 360, BitrateKbps: 800},
		{Label: "480p", Width: 854, Height: 480, BitrateKbps: 1400},
		{Label: "720p", Width: 1280, Height: 720, BitrateKbps: 2800},
		{Label: "1080p", Width: 1920, Height: 1080, BitrateKbps: 5000},
		{Label: "1440p", Width: 2560, Height: 1440, BitrateKbps: 8000},
		{Label: "2160p", Width: 3840, Height: 2160, BitrateKbps: 14000},
	}
}
