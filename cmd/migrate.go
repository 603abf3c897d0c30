package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/thehub/uuidshift/internal/executor"
	"github.com/thehub/uuidshift/internal/rebuild"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [database-path]",
	Short: "Convert integer primary keys to UUID strings",
	Long: `Analyze the database, snapshot it, then convert every tracked table.

A database that has not been touched is converted in place and snapshotted to
<path>.backup; if that fails the snapshot is restored. A database with shadow
<pk>_uuid columns from an earlier run is snapshotted to <path>.recovery.backup,
its missing identifiers are filled and its tables are rebuilt.`,
	Example: `  # Migrate the database named in uuidshift.toml or .env
  uuidshift migrate

  # Migrate a specific file
  uuidshift migrate ./hub.db

  # Finish a rebuild even if some rows never received an identifier
  uuidshift migrate ./hub.db --allow-row-loss`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrate,
}

var migrateAllowRowLoss bool

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateAllowRowLoss, "allow-row-loss", false, "Drop rows without an identifier during a rebuild instead of skipping the table")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd, args)
	if err != nil {
		return err
	}

	allowRowLoss := s.env.AllowRowLoss
	if cmd.Flags().Changed("allow-row-loss") {
		allowRowLoss = migrateAllowRowLoss
	}

	res, err := executor.Run(cmd.Context(), executor.Options{
		DatabasePath:         s.env.DatabasePath,
		Graph:                s.graph,
		ShadowSuffix:         s.env.ShadowSuffix,
		BackupSuffix:         s.env.BackupSuffix,
		RecoveryBackupSuffix: s.env.RecoveryBackupSuffix,
		AllowRowLoss:         allowRowLoss,
		Logger:               s.logger,
	})
	if res != nil {
		renderMigrateSummary(cmd.OutOrStdout(), res)
	}
	return err
}

func renderMigrateSummary(w io.Writer, res *executor.Result) {
	var lines []string

	if res.InPlace != nil {
		for _, t := range res.InPlace.Tables {
			lines = append(lines, fmt.Sprintf("%s %s (%d keys, %d references)", okMark(iconSuccess), t.Table, t.Keys, len(t.References)))
		}
	}
	if res.Populate != nil {
		for _, t := range res.Populate.Tables {
			if t.Rows > 0 {
				lines = append(lines, fmt.Sprintf("%s %s: %d identifiers filled", okMark(iconSuccess), t.Table, t.Rows))
			}
		}
	}
	if res.Rebuild != nil {
		for _, t := range res.Rebuild.Tables {
			lines = append(lines, rebuildLine(t))
		}
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render("uuidshift migrate"))
	sb.WriteString("\n")
	sb.WriteString(field("Database", res.DatabasePath))
	sb.WriteString(field("Action", string(res.Action)))
	if res.Before != nil {
		sb.WriteString(field("Before", string(res.Before.Status)))
	}
	if res.After != nil {
		sb.WriteString(field("After", string(res.After.Status)))
	}
	if res.BackupPath != "" {
		sb.WriteString(field(executor.MessageBackupLocation, res.BackupPath))
	}

	if len(lines) > 0 {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	switch {
	case res.Restored:
		sb.WriteString(errorStyle.Render("Migration failed; the database was restored from " + res.BackupPath))
	case res.Completed():
		sb.WriteString(successStyle.Render(res.Message))
	case res.Message != "":
		sb.WriteString(warningStyle.Render(res.Message))
	}

	_, _ = fmt.Fprintln(w, summaryBoxStyle.Render(sb.String()))
}

func rebuildLine(t rebuild.TableOutcome) string {
	switch {
	case t.Swapped && t.LostRows > 0:
		return fmt.Sprintf("%s %s: %d rows copied, %d rows without identifier dropped", skipMark(iconSkip), t.Table, t.Rows, t.LostRows)
	case t.Swapped:
		return fmt.Sprintf("%s %s: %d rows copied", okMark(iconSuccess), t.Table, t.Rows)
	default:
		return fmt.Sprintf("%s %s: %s", failMark(iconError), t.Table, t.Error)
	}
}

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value) + "\n"
}
