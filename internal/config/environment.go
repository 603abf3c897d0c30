package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Variables read from .env files.
const (
	EnvDatabase   = "UUIDSHIFT_DATABASE"
	EnvSQLitePath = "SQLITE_DB_PATH"
	EnvSchemaPath = "UUIDSHIFT_SCHEMA_PATH"
	EnvLogLevel   = "UUIDSHIFT_LOG_LEVEL"
)

// ResolvedEnvironment holds the effective settings after the .env files have
// been layered over the configuration file. Flags are applied by the caller.
type ResolvedEnvironment struct {
	Name                 string
	DatabasePath         string
	SchemaPath           string
	ShadowSuffix         string
	BackupSuffix         string
	RecoveryBackupSuffix string
	AllowRowLoss         bool
	LogLevel             string
	LogFormat            string

	// DotenvPaths lists the .env files that were read, in order.
	DotenvPaths []string
}

// ResolveEnvironment layers .env and .env.<name> over config. name falls back
// to the configured environment; when both are empty only .env is read.
// Relative paths from the file are resolved against the configuration
// directory, relative paths from a .env file against that file's directory.
func ResolveEnvironment(config *Config, name string) (*ResolvedEnvironment, error) {
	if config == nil {
		config = &Config{}
		config.applyDefaults()
	}

	envName := strings.TrimSpace(name)
	if envName == "" {
		envName = config.Environment
	}

	baseDir := config.ConfigDir()
	if baseDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		baseDir = cwd
	}

	resolved := &ResolvedEnvironment{
		Name:                 envName,
		DatabasePath:         resolvePath(config.DatabasePath, baseDir),
		SchemaPath:           resolvePath(config.SchemaPath, baseDir),
		ShadowSuffix:         config.ShadowSuffix,
		BackupSuffix:         config.BackupSuffix,
		RecoveryBackupSuffix: config.RecoveryBackupSuffix,
		AllowRowLoss:         config.AllowRowLoss,
		LogLevel:             config.Log.Level,
		LogFormat:            config.Log.Format,
	}

	files := []string{filepath.Join(baseDir, ".env")}
	if envName != "" {
		files = append(files, filepath.Join(baseDir, ".env."+envName))
	}

	for _, path := range files {
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to access %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}

		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		resolved.DotenvPaths = append(resolved.DotenvPaths, path)
		resolved.apply(values, filepath.Dir(path))
	}

	return resolved, nil
}

func (r *ResolvedEnvironment) apply(values map[string]string, dir string) {
	if value := values[EnvDatabase]; value != "" {
		r.DatabasePath = resolvePath(value, dir)
	} else if value := values[EnvSQLitePath]; value != "" {
		r.DatabasePath = resolvePath(value, dir)
	}
	if value := values[EnvSchemaPath]; value != "" {
		r.SchemaPath = resolvePath(value, dir)
	}
	if value := values[EnvLogLevel]; value != "" {
		r.LogLevel = value
	}
}

func resolvePath(path, base string) string {
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}
