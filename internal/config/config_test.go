package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8086",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			DBName:   "lidar_service",
			SSLMode:  "disable",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Lidar: LidarConfig{
			Port:          "/dev/ttyUSB0",
			BaudRate:      115200,
			FrameCapacity: 8192,
		},
		App: AppConfig{
			Name:        "lidar-service",
			Version:     "1.0.0",
			Environment: "development",
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("accepts a complete configuration", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validate(validConfig()))
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing server host", func(c *Config) { c.Server.Host = "" }},
		{"missing server port", func(c *Config) { c.Server.Port = "" }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"missing lidar port", func(c *Config) { c.Lidar.Port = "" }},
		{"zero baud rate", func(c *Config) { c.Lidar.BaudRate = 0 }},
		{"negative frame capacity", func(c *Config) { c.Lidar.FrameCapacity = -1 }},
		{"unknown environment", func(c *Config) { c.App.Environment = "qa" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run("rejects "+tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}

func TestConfigHelpers(t *testing.T) {
	t.Parallel()

	t.Run("database dsn", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		want := "host=localhost port=5432 user=postgres password=postgres dbname=lidar_service sslmode=disable"
		assert.Equal(t, want, cfg.GetDatabaseDSN())
	})

	t.Run("server address", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "0.0.0.0:8086", validConfig().GetServerAddr())
	})

	t.Run("environment flags", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		require.True(t, cfg.IsDevelopment())
		assert.False(t, cfg.IsProduction())
		assert.True(t, cfg.IsDebugEnabled())

		cfg.App.Environment = "production"
		assert.True(t, cfg.IsProduction())
		assert.False(t, cfg.IsDebugEnabled())

		cfg.App.Debug = true
		assert.True(t, cfg.IsDebugEnabled())
	})
}
