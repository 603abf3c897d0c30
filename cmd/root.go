package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "uuidshift",
	Short: "Migrate SQLite integer primary keys to UUID strings",
	Long: `uuidshift converts the integer primary keys of a SQLite database, and every
foreign key that points at them, to random UUID strings.

A run first analyzes the database, then snapshots it, then either rewrites
tables in place (nothing started yet) or finishes an earlier run by filling
the shadow <pk>_uuid columns and rebuilding the tables. Running it again on a
converted database does nothing.

While a migration is in progress, readers may see a mix of integer and string
values in foreign-key columns. Stop writers before migrating.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath   string
	databasePath string
	environment  string
	logLevel     string
	logFormat    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to uuidshift.toml (default: search upwards from the working directory)")
	rootCmd.PersistentFlags().StringVar(&databasePath, "database", "", "Path to the SQLite database file")
	rootCmd.PersistentFlags().StringVar(&environment, "env", "", "Environment whose .env.<name> file is read")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		stop()
		os.Exit(1)
	}
}
