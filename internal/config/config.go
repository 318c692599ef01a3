// Package config loads the Job Execution Core's process configuration:
// environment variables first, with an optional YAML file overlay,
// the same two-source pattern the teacher uses for its CI config
// (backend/ci.go's loadFromFile unmarshals YAML over a struct that
// already carries defaults). Field names and defaults are grounded on
// kozmic/config.py's DefaultConfig.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds every setting named in spec.md §6.
type Config struct {
	RedisHost     string `yaml:"redis_host"`
	RedisPort     int    `yaml:"redis_port"`
	RedisDatabase int    `yaml:"redis_database"`

	StallTimeout time.Duration `yaml:"-"`

	CachedImagesLimit int `yaml:"cached_images_limit"`

	DockerURL        string `yaml:"docker_url"`
	DockerAPIVersion string `yaml:"docker_api_version"`

	EnableEmailNotifications bool `yaml:"enable_email_notifications"`

	// SecretKey seeds DeployKey passphrase derivation the way
	// flask.current_app.config['SECRET_KEY'] does for Project.passphrase
	// in the original. Empty by default; an operator running private
	// repositories must set it (via the YAML overlay or SECRET_KEY) so
	// restarts don't silently change every deploy key's passphrase.
	SecretKey string `yaml:"secret_key"`
}

// Default matches kozmic/config.py's DefaultConfig values, with
// STALL_TIMEOUT's spec.md §6 override (900s) taking precedence over
// the original's 600s default.
func Default() Config {
	return Config{
		RedisHost:                "127.0.0.1",
		RedisPort:                6379,
		RedisDatabase:            0,
		StallTimeout:             900 * time.Second,
		CachedImagesLimit:        3,
		DockerURL:                "unix:///var/run/docker.sock",
		DockerAPIVersion:         "",
		EnableEmailNotifications: true,
	}
}

// Load starts from Default, overlays a YAML file at path if it
// exists, then overlays environment variables, so an operator can
// check in a base config and still override it per-host.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.RedisHost = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisPort = n
		}
	}
	if v := os.Getenv("REDIS_DATABASE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDatabase = n
		}
	}
	if v := os.Getenv("STALL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StallTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CACHED_IMAGES_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CachedImagesLimit = n
		}
	}
	if v := os.Getenv("DOCKER_URL"); v != "" {
		cfg.DockerURL = v
	}
	if v := os.Getenv("DOCKER_API_VERSION"); v != "" {
		cfg.DockerAPIVersion = v
	}
	if v := os.Getenv("ENABLE_EMAIL_NOTIFICATIONS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableEmailNotifications = b
		}
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
}

// RedisAddr formats host:port for the Redis client.
func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
