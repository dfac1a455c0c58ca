package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML server configuration. Every field has a
// default, and DB settings come from the environment, so the file is only
// needed to override timing or sizing.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Challenge struct {
		DurationSec int `yaml:"duration_sec"`
	} `yaml:"challenge"`
	Sweep struct {
		PollIntervalSec int   `yaml:"poll_interval_sec"`
		BatchSize       int32 `yaml:"batch_size"`
		Workers         int   `yaml:"workers"`
	} `yaml:"sweep"`
}

func defaultConfig() *Config {
	var config Config
	config.Server.Port = getEnv("PORT", "8080")
	config.NATS.URL = getEnv("NATS_URL", "nats://localhost:4222")
	config.Challenge.DurationSec = getEnvAsInt("CHALLENGE_DURATION_SEC", 600)
	config.Sweep.PollIntervalSec = 5
	config.Sweep.BatchSize = 50
	config.Sweep.Workers = 4
	return &config
}

// loadConfig reads the YAML file at path, falling back to defaults when the
// file does not exist.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

// ChallengeDuration returns the configured active-time allowance.
func (c *Config) ChallengeDuration() time.Duration {
	return time.Duration(c.Challenge.DurationSec) * time.Second
}

// SweepPollInterval returns how often the expiry sweep scans.
func (c *Config) SweepPollInterval() time.Duration {
	return time.Duration(c.Sweep.PollIntervalSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
