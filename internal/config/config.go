// Package config loads runtime settings from the environment and optional
// named connection profiles from a YAML file.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	DataPath string `envconfig:"DATA_PATH" default:""`
	LogPath  string `envconfig:"LOG_PATH" default:""`

	// Endpoint is the default WebSocket URL for attach.
	Endpoint string `envconfig:"ENDPOINT" default:"ws://127.0.0.1:8137/terminal/ws"`

	// Scrollback cache settings
	CachePrefix   string `envconfig:"CACHE_PREFIX" default:"termbridge"`
	CacheCapBytes int    `envconfig:"CACHE_CAP_BYTES" default:"200000"`
	CacheTTL      string `envconfig:"CACHE_TTL" default:"720h"`

	// Dev server settings
	ServeAddr  string `envconfig:"SERVE_ADDR" default:"127.0.0.1:8137"`
	ServeShell string `envconfig:"SERVE_SHELL" default:"/bin/bash"`
}

var Cfg Settings

// Load populates Cfg from TERMBRIDGE_* environment variables and resolves
// path defaults under the user's home directory.
func Load() {
	if err := envconfig.Process("TERMBRIDGE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.DataPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		Cfg.DataPath = filepath.Join(home, ".termbridge")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "termbridge.log")
	}
}

// CacheDBPath is the location of the scrollback database.
func CacheDBPath() string {
	return filepath.Join(Cfg.DataPath, "scrollback.db")
}

// ProfilesPath is the location of the optional profiles file.
func ProfilesPath() string {
	return filepath.Join(Cfg.DataPath, "profiles.yaml")
}

// Profile is one named connection preset from the profiles file.
type Profile struct {
	Endpoint    string `yaml:"endpoint"`
	Provider    string `yaml:"provider"`
	SessionName string `yaml:"session_name"`
}

// LoadProfiles reads named connection profiles from a YAML file. A missing
// file is not an error; it returns an empty map.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Profile{}, nil
		}
		return nil, fmt.Errorf("read profiles %s: %w", path, err)
	}

	profiles := map[string]Profile{}
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	return profiles, nil
}
