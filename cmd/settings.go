package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thehub/uuidshift/internal/config"
	"github.com/thehub/uuidshift/internal/logging"
	"github.com/thehub/uuidshift/internal/schema"
	"github.com/thehub/uuidshift/internal/sqliteutil"
)

var errNoDatabase = errors.New("no database path: pass one as an argument, use --database, set " +
	config.EnvDatabase + " in .env or database_path in " + config.FileName)

// settings is the effective configuration of one command invocation.
type settings struct {
	env    *config.ResolvedEnvironment
	graph  *schema.Graph
	logger *slog.Logger
}

// loadSettings layers flags over .env files over uuidshift.toml. The first
// positional argument, when present, is the database path.
func loadSettings(cmd *cobra.Command, args []string) (*settings, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	env, err := config.ResolveEnvironment(cfg, environment)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve environment: %w", err)
	}

	switch {
	case len(args) > 0 && strings.TrimSpace(args[0]) != "":
		env.DatabasePath = args[0]
	case databasePath != "":
		env.DatabasePath = databasePath
	}
	if env.DatabasePath == "" {
		return nil, errNoDatabase
	}
	if strings.Contains(env.DatabasePath, "://") && !sqliteutil.IsSQLiteFilePath(env.DatabasePath) {
		return nil, fmt.Errorf("unsupported database: %s (only SQLite files are supported)", env.DatabasePath)
	}
	env.DatabasePath = sqliteutil.ExtractSQLiteFilePath(env.DatabasePath)
	if logLevel != "" {
		env.LogLevel = logLevel
	}
	if logFormat != "" {
		env.LogFormat = logFormat
	}

	logger := logging.Setup(env.LogLevel, env.LogFormat, cmd.ErrOrStderr())

	graph, err := loadGraph(env.SchemaPath)
	if err != nil {
		return nil, err
	}

	return &settings{env: env, graph: graph, logger: logger}, nil
}

func loadGraph(path string) (*schema.Graph, error) {
	if path == "" {
		return schema.Hub()
	}
	g, err := schema.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema graph %s: %w", path, err)
	}
	return g, nil
}
