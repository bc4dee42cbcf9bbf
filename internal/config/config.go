// Copyright 2026 Howso Incorporated
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads cmd/amalgam's amalgam.yaml, the same way the
// teacher's cmd/cie loads .cie/project.yaml: gopkg.in/yaml.v3, a fixed
// schema version, and an environment-variable override
// (AMALGAM_CONFIG_PATH) for the config file's location. Reconstructed from
// cmd/cie/config.go's LoadConfig/SaveConfig pattern (its own
// internal/config was not part of the retrieved source).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	amerrors "github.com/howsoai/amalgam-sub001/internal/errors"
	"github.com/howsoai/amalgam-sub001/pkg/constraints"
)

const (
	defaultConfigDir  = ".amalgam"
	defaultConfigFile = "amalgam.yaml"
	configVersion     = "1"
)

// Config is the on-disk amalgam.yaml shape.
type Config struct {
	Version     string            `yaml:"version"`
	ThreadPool  ThreadPoolConfig  `yaml:"thread_pool"`
	Constraints ConstraintsConfig `yaml:"constraints"`
	Permissions PermissionsConfig `yaml:"permissions"`
	AssetStore  AssetStoreConfig  `yaml:"asset_store"`
}

// ThreadPoolConfig configures pkg/threadpool.Pool.
type ThreadPoolConfig struct {
	MaxActiveThreads int `yaml:"max_active_threads"` // 0 = GOMAXPROCS
}

// ConstraintsConfig is the YAML form of constraints.Constraints, the
// default InterpreterConstraints new root entities run under.
type ConstraintsConfig struct {
	MaxExecutionSteps    int64 `yaml:"max_execution_steps"`
	MaxAllocatedNodes    int64 `yaml:"max_allocated_nodes"`
	MaxOpcodeDepth       int   `yaml:"max_opcode_depth"`
	MaxContainedEntities int64 `yaml:"max_contained_entities"`
	MaxContainedDepth    int   `yaml:"max_contained_depth"`
	MaxEntityIDLength    int   `yaml:"max_entity_id_length"`
}

// PermissionsConfig lists the default permission names granted to a
// freshly-created root entity; names are the snake_case forms of
// constraints.Permission's constant names without the Perm prefix (e.g.
// "std_out_and_std_err", "load", "store").
type PermissionsConfig struct {
	Default []string `yaml:"default"`
}

// AssetStoreConfig configures pkg/assetstore/cozo.Store.
type AssetStoreConfig struct {
	DataDir    string `yaml:"data_dir"`
	Engine     string `yaml:"engine"` // rocksdb, sqlite, mem
	MaxRetries int    `yaml:"max_retries"`
}

// Default returns the configuration cmd/amalgam falls back to when no
// amalgam.yaml is found: unlimited constraints (trusted local scripts),
// a thread pool sized to GOMAXPROCS, and a mem-engine asset store so
// `amalgam run` works out of the box without provisioning CozoDB on disk.
func Default() *Config {
	return &Config{
		Version: configVersion,
		ThreadPool: ThreadPoolConfig{
			MaxActiveThreads: 0,
		},
		Constraints: ConstraintsConfig{},
		Permissions: PermissionsConfig{
			Default: []string{"std_out_and_std_err", "std_in", "load", "store", "environment"},
		},
		AssetStore: AssetStoreConfig{
			Engine: "mem",
		},
	}
}

// ConfigPath returns the default amalgam.yaml path under dir.
func ConfigPath(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

// Load reads configPath (or discovers it under the current directory's
// .amalgam/amalgam.yaml, like the teacher's findConfigFile), falling back
// to Default() when no file exists anywhere - amalgam has no equivalent
// of `cie init` gating every command on a prior setup step.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv("AMALGAM_CONFIG_PATH")
	}
	if configPath == "" {
		found, err := findConfigFile()
		if err != nil {
			return Default(), nil
		}
		configPath = found
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // G304: path comes from user config or discovery
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, amerrors.NewConfigError(
			"Cannot read configuration file",
			fmt.Sprintf("Failed to read %s", configPath),
			"Check file permissions and ensure the file exists",
			err,
		)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, amerrors.NewConfigError(
			"Invalid configuration format",
			"YAML parsing failed - the config file contains syntax errors",
			fmt.Sprintf("Edit %s to fix syntax errors", configPath),
			err,
		)
	}
	if cfg.Version != "" && cfg.Version != configVersion {
		return nil, amerrors.NewConfigError(
			"Unsupported configuration version",
			fmt.Sprintf("Config version '%s' is not supported (expected '%s')", cfg.Version, configVersion),
			"Regenerate amalgam.yaml for this version of amalgam",
			nil,
		)
	}
	return cfg, nil
}

// Save writes cfg to configPath as YAML, creating parent directories as
// needed.
func Save(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return amerrors.NewInternalError(
			"Cannot encode configuration",
			"YAML marshaling failed unexpectedly",
			"This is a bug. Please report it with your configuration details",
			err,
		)
	}
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return amerrors.NewPermissionError(
			"Cannot create configuration directory",
			fmt.Sprintf("Permission denied creating directory: %s", dir),
			"Check directory permissions",
			err,
		)
	}
	if err := os.WriteFile(configPath, data, 0o640); err != nil {
		return amerrors.NewPermissionError(
			"Cannot save configuration file",
			fmt.Sprintf("Failed to write %s", configPath),
			"Check directory permissions and available disk space",
			err,
		)
	}
	return nil
}

var permissionNames = map[string]constraints.Permission{
	"std_out_and_std_err": constraints.PermStdOutAndStdErr,
	"std_in":              constraints.PermStdIn,
	"load":                constraints.PermLoad,
	"store":               constraints.PermStore,
	"environment":         constraints.PermEnvironment,
	"alter_performance":   constraints.PermAlterPerformance,
	"system":              constraints.PermSystem,
}

// ParsePermissions converts PermissionsConfig.Default into a
// constraints.Set, the form pkg/entity.New expects. Unknown names are
// ignored rather than rejected, since amalgam.yaml is hand-edited and a
// typo shouldn't crash every command that needs a root entity.
func ParsePermissions(names []string) constraints.Set {
	var set constraints.Set
	for _, n := range names {
		if p, ok := permissionNames[n]; ok {
			set = set.Grant(p)
		}
	}
	return set
}

// ToConstraints converts ConstraintsConfig into a fresh
// constraints.Constraints, the execution budget pkg/interp enforces.
func (c ConstraintsConfig) ToConstraints() *constraints.Constraints {
	return &constraints.Constraints{
		MaxExecutionSteps:    c.MaxExecutionSteps,
		MaxAllocatedNodes:    c.MaxAllocatedNodes,
		MaxOpcodeDepth:       c.MaxOpcodeDepth,
		MaxContainedEntities: c.MaxContainedEntities,
		MaxContainedDepth:    c.MaxContainedDepth,
		MaxEntityIDLength:    c.MaxEntityIDLength,
	}
}

// findConfigFile walks up from the current directory looking for
// .amalgam/amalgam.yaml, same traversal the teacher's cmd/cie uses for
// .cie/project.yaml.
func findConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", amerrors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"This is unexpected. Please report this issue if it persists",
			err,
		)
	}
	for {
		candidate := ConfigPath(dir)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", amerrors.NewConfigError(
				"Configuration not found",
				"No .amalgam/amalgam.yaml file found in current directory or any parent directory",
				"Create .amalgam/amalgam.yaml to configure amalgam, or proceed with defaults",
				nil,
			)
		}
		dir = parent
	}
}
