// Package config loads the lattice configuration: which storage engine to
// run and how to reach it. Values come from a JSON file under the user
// config dir, overridable per-key through environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted in the configuration.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Config holds the lattice configuration.
type Config struct {
	Backend string `json:"backend"`

	// SQLite
	SQLitePath string `json:"sqlite_path"`

	// Neo4j
	Neo4jURI      string `json:"neo4j_uri"`
	Neo4jUsername string `json:"neo4j_username"`
	Neo4jPassword string `json:"neo4j_password"`
	Neo4jDatabase string `json:"neo4j_database"`

	// HTTP API
	ListenAddr string `json:"listen_addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend:    BackendSQLite,
		SQLitePath: defaultSQLitePath(),
		Neo4jURI:   "bolt://localhost:7687",
		ListenAddr: ":3000",
	}
}

// Path returns the config file location.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "lattice", "config.json"), nil
}

// Load reads the config file, falling back to defaults when it is absent,
// then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	path, err := Path()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv()

	if cfg.Backend != BackendSQLite && cfg.Backend != BackendNeo4j {
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return cfg, nil
}

// Save writes the configuration to disk.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overlays LATTICE_* environment variables.
func (c *Config) applyEnv() {
	overlay(&c.Backend, "LATTICE_BACKEND")
	overlay(&c.SQLitePath, "LATTICE_SQLITE_PATH")
	overlay(&c.Neo4jURI, "LATTICE_NEO4J_URI")
	overlay(&c.Neo4jUsername, "LATTICE_NEO4J_USERNAME")
	overlay(&c.Neo4jPassword, "LATTICE_NEO4J_PASSWORD")
	overlay(&c.Neo4jDatabase, "LATTICE_NEO4J_DATABASE")
	overlay(&c.ListenAddr, "LATTICE_LISTEN_ADDR")
}

func overlay(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "lattice.db"
	}
	return filepath.Join(home, ".local", "share", "lattice", "lattice.db")
}
