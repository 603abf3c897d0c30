package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thehub/uuidshift/internal/sqliteutil"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [database-path]",
	Short: "Restore the database from a migration snapshot",
	Long: `Copy a snapshot taken by migrate back over the database file.

--from backup restores <path>.backup, taken before an in-place run.
--from recovery restores <path>.recovery.backup, taken before a rebuild run.`,
	Example: `  uuidshift restore ./hub.db
  uuidshift restore ./hub.db --from recovery`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

var restoreFrom string

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVar(&restoreFrom, "from", "backup", "Snapshot to restore: backup or recovery")
}

func runRestore(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd, args)
	if err != nil {
		return err
	}

	var suffix string
	switch restoreFrom {
	case "backup":
		suffix = s.env.BackupSuffix
	case "recovery":
		suffix = s.env.RecoveryBackupSuffix
	default:
		return fmt.Errorf("unsupported snapshot: %s (use backup or recovery)", restoreFrom)
	}

	path := s.env.DatabasePath
	backup := sqliteutil.BackupPath(path, suffix)
	if _, err := os.Stat(backup); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("snapshot not found: %s", backup)
	}

	if err := sqliteutil.Restore(backup, path); err != nil {
		return fmt.Errorf("failed to restore %s: %w", backup, err)
	}

	s.logger.Info("restored database", "database", path, "backup", backup)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(iconSuccess+" Restored "+path+" from "+backup))
	return nil
}
