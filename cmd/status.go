package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thehub/uuidshift/database"
	"github.com/thehub/uuidshift/internal/executor"
	"github.com/thehub/uuidshift/internal/shadow"
	"github.com/thehub/uuidshift/internal/sqliteutil"
	"github.com/thehub/uuidshift/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status [database-path]",
	Short: "Report how far the database has been migrated",
	Long: `Analyze the database without changing it and print the migration status of
every table, the overall status and the schema fingerprint.`,
	Example: `  uuidshift status ./hub.db
  uuidshift status ./hub.db --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var statusOutput string

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format: text, json or yaml")
}

// statusReport is the machine-readable form of the status command.
type statusReport struct {
	Database   string             `json:"database" yaml:"database"`
	Status     state.Status       `json:"status" yaml:"status"`
	SchemaHash string             `json:"schema_hash" yaml:"schema_hash"`
	Tables     []state.TableState `json:"tables" yaml:"tables"`
	Warnings   []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	switch statusOutput {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format: %s (use text, json or yaml)", statusOutput)
	}

	s, err := loadSettings(cmd, args)
	if err != nil {
		return err
	}
	path := s.env.DatabasePath

	if err := executor.CheckDatabase(path); err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := sqliteutil.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	driver, err := executor.NewDriver("sqlite")
	if err != nil {
		return err
	}

	analysis, err := state.NewAnalyzer(driver, s.graph, shadow.NewNaming(s.env.ShadowSuffix), s.logger).Analyze(ctx, db)
	if err != nil {
		return err
	}
	schema, err := driver.IntrospectSchema(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to introspect schema: %w", err)
	}
	hash, err := database.ComputeSchemaHash(schema)
	if err != nil {
		return err
	}

	report := statusReport{
		Database:   path,
		Status:     analysis.Status,
		SchemaHash: hash,
		Tables:     analysis.Tables,
		Warnings:   analysis.Warnings,
	}
	return writeStatus(cmd.OutOrStdout(), statusOutput, report)
}

func writeStatus(w io.Writer, format string, report statusReport) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status to JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to marshal status to YAML: %w", err)
		}
		return enc.Close()
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render("uuidshift status"))
	sb.WriteString("\n")
	sb.WriteString(field("Database", report.Database))
	sb.WriteString(field("Status", statusStyle(report.Status)))
	sb.WriteString(field("Fingerprint", shortHash(report.SchemaHash)))
	sb.WriteString("\n")

	for _, t := range report.Tables {
		sb.WriteString(tableLine(t))
		sb.WriteString("\n")
	}
	for _, warning := range report.Warnings {
		sb.WriteString(warningStyle.Render("! "))
		sb.WriteString(warning)
		sb.WriteString("\n")
	}

	_, err := fmt.Fprintln(w, summaryBoxStyle.Render(strings.TrimRight(sb.String(), "\n")))
	return err
}

func statusStyle(status state.Status) string {
	switch status {
	case state.StatusCompleted:
		return successStyle.Render(string(status))
	case state.StatusPartial, state.StatusUUIDColumnsExist:
		return warningStyle.Render(string(status))
	default:
		return string(status)
	}
}

func tableLine(t state.TableState) string {
	switch {
	case !t.Exists:
		reason := "missing"
		if t.Error != "" {
			reason = t.Error
		}
		return fmt.Sprintf("%s %s: %s", failMark(iconError), t.Name, reason)
	case !t.Tracked:
		return fmt.Sprintf("%s %s: not tracked", skipMark(iconSkip), t.Name)
	case t.Phase == state.PhaseConverted:
		return fmt.Sprintf("%s %s: converted (%d rows)", okMark(iconSuccess), t.Name, t.Rows)
	case t.Phase == state.PhaseShadowed:
		return fmt.Sprintf("%s %s: shadowed (%d/%d identifiers)", skipMark(iconSkip), t.Name, t.PopulatedRows(), t.Rows)
	default:
		return fmt.Sprintf("%s %s: %s (%d rows)", skipMark(iconSkip), t.Name, t.Phase, t.Rows)
	}
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
