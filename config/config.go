// Package config loads flashql's runtime settings from a JWCC (JSON-with-
// comments) file, merging defaults, a global user config, a project config,
// and CLI overrides in that order.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds every tunable of a running engine.
type Config struct {
	DataDir      string `json:"data_dir"`
	BlockSize    int    `json:"block_size,omitempty"`
	PoolCapacity int    `json:"pool_capacity,omitempty"`
}

// FileName is the default project config file name.
const FileName = ".flashql.json"

var errDataDirEmpty = errors.New("config: data_dir must not be empty")

// Default returns the built-in configuration used before any file or CLI
// override is applied.
func Default() Config {
	return Config{
		DataDir:      "flashql-data",
		BlockSize:    4096,
		PoolCapacity: 1024,
	}
}

// Sources records which config files, if any, contributed to a Load.
type Sources struct {
	Global  string
	Project string
}

// Load resolves configuration with the following precedence (highest
// wins): defaults, global config (~/.config/flashql/config.json or
// $XDG_CONFIG_HOME/flashql/config.json), project config (workDir/.flashql.json,
// or an explicit configPath), then cliOverrides applied field-by-field
// where non-zero.
func Load(workDir, configPath string, cliOverrides Config) (Config, Sources, error) {
	cfg := Default()
	var sources Sources

	globalCfg, globalPath, err := loadGlobal()
	if err != nil {
		return Config{}, Sources{}, err
	}
	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProject(workDir, configPath)
	if err != nil {
		return Config{}, Sources{}, err
	}
	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, cliOverrides)

	if cfg.DataDir == "" {
		return Config{}, Sources{}, errDataDirEmpty
	}
	return cfg, sources, nil
}

func globalConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "flashql", "config.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "flashql", "config.json")
}

func loadGlobal() (Config, string, error) {
	path := globalConfigPath()
	if path == "" {
		return Config{}, "", nil
	}
	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}
	return cfg, path, nil
}

func loadProject(workDir, configPath string) (Config, string, error) {
	mustExist := configPath != ""
	path := filepath.Join(workDir, FileName)
	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
	}

	cfg, loaded, err := loadFile(path, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}
	return cfg, path, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("config: read %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("config: %s is not valid JWCC: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, true, nil
}

func merge(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	if overlay.BlockSize != 0 {
		base.BlockSize = overlay.BlockSize
	}
	if overlay.PoolCapacity != 0 {
		base.PoolCapacity = overlay.PoolCapacity
	}
	return base
}

// Format renders cfg as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: format: %w", err)
	}
	return string(data), nil
}
