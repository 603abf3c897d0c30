package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the configuration file looked up from the working directory.
const FileName = "uuidshift.toml"

// Defaults applied when the file leaves a key unset.
const (
	DefaultShadowSuffix         = "_uuid"
	DefaultBackupSuffix         = ".backup"
	DefaultRecoveryBackupSuffix = ".recovery.backup"
)

// LogConfig is the [log] table.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the contents of uuidshift.toml.
type Config struct {
	DatabasePath string `toml:"database_path"`
	// SchemaPath points at a schema graph JSON file replacing the built-in
	// hub graph.
	SchemaPath           string    `toml:"schema_path"`
	Environment          string    `toml:"environment"`
	ShadowSuffix         string    `toml:"shadow_suffix"`
	BackupSuffix         string    `toml:"backup_suffix"`
	RecoveryBackupSuffix string    `toml:"recovery_backup_suffix"`
	AllowRowLoss         bool      `toml:"allow_row_loss"`
	Log                  LogConfig `toml:"log"`

	ConfigFilePath string `toml:"-"`
}

// LoadConfig looks for uuidshift.toml in the working directory and its
// parents, stopping at the first project root. A missing file yields the
// defaults.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadConfigFrom(startDir)
}

// LoadConfigFrom is LoadConfig starting at dir.
func LoadConfigFrom(dir string) (*Config, error) {
	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return LoadFile(configPath)
		}

		if isProjectRoot(dir) {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	cfg := &Config{}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadFile reads a specific configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	cfg.ConfigFilePath = abs
	cfg.applyDefaults()
	return &cfg, nil
}

// ConfigDir is the directory holding the configuration file, empty when none
// was found.
func (c *Config) ConfigDir() string {
	if c == nil || c.ConfigFilePath == "" {
		return ""
	}
	return filepath.Dir(c.ConfigFilePath)
}

func (c *Config) applyDefaults() {
	if c.ShadowSuffix == "" {
		c.ShadowSuffix = DefaultShadowSuffix
	}
	if c.BackupSuffix == "" {
		c.BackupSuffix = DefaultBackupSuffix
	}
	if c.RecoveryBackupSuffix == "" {
		c.RecoveryBackupSuffix = DefaultRecoveryBackupSuffix
	}
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod", "package.json"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
