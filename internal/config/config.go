// Package config loads the project-lifecycle core's static settings (data
// roots, default MaxBuilds) from a YAML file, then applies the three
// recognised environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultMaxBuilds = 3
	portalPortHTTPS  = 9191
	portalPortPlain  = 9090
)

// Config is the static configuration for the daemon: where project JSON
// documents and logs live, and the default concurrent build cap.
type Config struct {
	ProjectsDataDir string `yaml:"projectsDataDir"`
	ProjectsLogDir  string `yaml:"projectsLogDir"`
	HistoryDBPath   string `yaml:"historyDBPath"`
	MaxBuilds       int    `yaml:"maxBuilds"`

	// InCluster mirrors IN_K8: when true the Watcher Supervisor becomes a
	// no-op (process killing and spawning are skipped).
	InCluster bool `yaml:"-"`
	// PortalHTTPS mirrors PORTAL_HTTPS: selects the port passed to spawned
	// project-watcher processes.
	PortalHTTPS bool `yaml:"-"`
}

// Default returns baseline settings used when no YAML file is supplied.
func Default() *Config {
	return &Config{
		ProjectsDataDir: "./data/projects",
		ProjectsLogDir:  "./data/logs",
		HistoryDBPath:   "./data/history.db",
		MaxBuilds:       defaultMaxBuilds,
	}
}

// Load reads the YAML file at configPath (if non-empty and present), then
// applies environment overrides. A local .env file is loaded first via
// godotenv so MC_MAX_BUILDS/IN_K8/PORTAL_HTTPS can be set there in
// development; existing process environment variables are never overwritten.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "note: .env file not loaded: %v\n", err)
	}

	cfg := Default()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
	}

	cfg.MaxBuilds = MaxBuildsFromEnv(cfg.MaxBuilds)
	cfg.InCluster = InClusterFromEnv()
	cfg.PortalHTTPS = PortalHTTPSFromEnv()
	return cfg, nil
}

// MaxBuildsFromEnv reads MC_MAX_BUILDS, falling back to fallback when unset,
// non-positive, or non-integer.
func MaxBuildsFromEnv(fallback int) int {
	raw, ok := os.LookupEnv("MC_MAX_BUILDS")
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// InClusterFromEnv reports whether IN_K8 is set to a truthy value.
func InClusterFromEnv() bool {
	return isTruthy(os.Getenv("IN_K8"))
}

// PortalHTTPSFromEnv reports whether PORTAL_HTTPS is exactly "true".
func PortalHTTPSFromEnv() bool {
	return strings.TrimSpace(os.Getenv("PORTAL_HTTPS")) == "true"
}

// PortalPort returns the port passed to spawned project-watcher processes:
// 9191 when the portal runs HTTPS, 9090 otherwise.
func (c *Config) PortalPort() int {
	if c.PortalHTTPS {
		return portalPortHTTPS
	}
	return portalPortPlain
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
