// Package config loads service configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "5m" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", n.Value, err)
	}
	d.Duration = v
	return nil
}

// Config is the full service configuration.
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Routing struct {
		// BaseURL of the OSRM-compatible backend. Empty selects the
		// offline great-circle provider.
		BaseURL  string   `yaml:"baseUrl"`
		Timeout  Duration `yaml:"timeout"`
		Attempts int      `yaml:"attempts"`
	} `yaml:"routing"`
	Planning struct {
		MaxStopsPerRoute int     `yaml:"maxStopsPerRoute"`
		MaxDistanceKm    float64 `yaml:"maxDistanceKm"`
	} `yaml:"planning"`
	Tracking struct {
		GeofenceRadiusM float64  `yaml:"geofenceRadiusM"`
		DwellAfter      Duration `yaml:"dwellAfter"`
		MinInterval     Duration `yaml:"minInterval"`
		RetentionDays   int      `yaml:"retentionDays"`
	} `yaml:"tracking"`
}

// Load reads path (when non-empty and present) and applies env overrides.
func Load(path string) (Config, error) {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.Routing.Timeout = Duration{10 * time.Second}
	cfg.Routing.Attempts = 2
	cfg.Planning.MaxStopsPerRoute = 15
	cfg.Planning.MaxDistanceKm = 50
	cfg.Tracking.GeofenceRadiusM = 100
	cfg.Tracking.DwellAfter = Duration{5 * time.Minute}
	cfg.Tracking.MinInterval = Duration{30 * time.Second}
	cfg.Tracking.RetentionDays = 30

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTP.Addr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ROUTING_BASE_URL"); v != "" {
		cfg.Routing.BaseURL = v
	}
	if v := os.Getenv("GEOFENCE_RADIUS_M"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Tracking.GeofenceRadiusM = f
		}
	}
	if v := os.Getenv("POSITION_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Tracking.RetentionDays = n
		}
	}
	return cfg, nil
}
