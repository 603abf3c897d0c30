// Package executor sequences a migration run: analysis, snapshot, then the
// strategy the analysis calls for, then a final analysis.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thehub/uuidshift/database"
	"github.com/thehub/uuidshift/internal/idgen"
	"github.com/thehub/uuidshift/internal/inplace"
	"github.com/thehub/uuidshift/internal/rebuild"
	"github.com/thehub/uuidshift/internal/schema"
	"github.com/thehub/uuidshift/internal/shadow"
	"github.com/thehub/uuidshift/internal/sqliteutil"
	"github.com/thehub/uuidshift/internal/state"
)

// ErrDatabaseNotFound is returned before any work when the database file
// does not exist.
var ErrDatabaseNotFound = errors.New("database file not found")

// Action is what a run did to the database.
type Action string

const (
	ActionNone    Action = "none"
	ActionInPlace Action = "in_place"
	ActionRebuild Action = "rebuild"
)

// Messages reported to the operator.
const (
	MessageNoAction       = "No action needed: migration already completed"
	MessageNoIntegerKeys  = "No tables with integer primary keys found"
	MessageCompleted      = "Migration completed successfully"
	MessageIncomplete     = "Migration finished with tables left to convert"
	MessageBackupLocation = "Backup saved at"
)

// Options configures a run. Zero values pick the defaults.
type Options struct {
	DatabasePath string

	// Graph is the schema graph; nil uses the built-in hub graph.
	Graph *schema.Graph
	// Driver defaults to SQLite.
	Driver database.Driver
	// IDs defaults to random UUIDs.
	IDs idgen.Generator

	ShadowSuffix         string
	BackupSuffix         string
	RecoveryBackupSuffix string
	AllowRowLoss         bool

	Logger *slog.Logger
}

func (o Options) withDefaults() (Options, error) {
	if o.Graph == nil {
		g, err := schema.Hub()
		if err != nil {
			return o, err
		}
		o.Graph = g
	}
	if o.Driver == nil {
		d, err := NewDriver("sqlite")
		if err != nil {
			return o, err
		}
		o.Driver = d
	}
	if o.IDs == nil {
		o.IDs = idgen.Default()
	}
	if o.BackupSuffix == "" {
		o.BackupSuffix = ".backup"
	}
	if o.RecoveryBackupSuffix == "" {
		o.RecoveryBackupSuffix = ".recovery.backup"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

// Result describes a run.
type Result struct {
	DatabasePath string `json:"database_path" yaml:"database_path"`
	Action       Action `json:"action" yaml:"action"`
	BackupPath   string `json:"backup_path,omitempty" yaml:"backup_path,omitempty"`
	// Restored is set when a failed in-place run put the snapshot back.
	Restored bool   `json:"restored,omitempty" yaml:"restored,omitempty"`
	Message  string `json:"message" yaml:"message"`

	Before *state.Analysis `json:"before" yaml:"before"`
	After  *state.Analysis `json:"after,omitempty" yaml:"after,omitempty"`

	InPlace  *inplace.Result         `json:"in_place,omitempty" yaml:"in_place,omitempty"`
	Populate *rebuild.PopulateResult `json:"populate,omitempty" yaml:"populate,omitempty"`
	Rebuild  *rebuild.RebuildResult  `json:"rebuild,omitempty" yaml:"rebuild,omitempty"`

	SchemaHashBefore string `json:"schema_hash_before" yaml:"schema_hash_before"`
	SchemaHashAfter  string `json:"schema_hash_after,omitempty" yaml:"schema_hash_after,omitempty"`
}

// CheckDatabase verifies that path names an existing SQLite file. An empty
// file is accepted.
func CheckDatabase(path string) error {
	exists, _, err := sqliteutil.CheckSQLiteDatabase(path)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrDatabaseNotFound, path)
	}
	return nil
}

// Completed reports whether the database ended the run fully converted.
func (r *Result) Completed() bool {
	return r.After != nil && r.After.Status == state.StatusCompleted
}

// runner carries the resolved options through one run.
type runner struct {
	opts     Options
	naming   shadow.Naming
	analyzer *state.Analyzer
	logger   *slog.Logger
}

// Run migrates the database at opts.DatabasePath. A connection is opened for
// each phase and closed before the next, and the live schema is analyzed
// again between phases.
func Run(ctx context.Context, opts Options) (*Result, error) {
	path := opts.DatabasePath
	if err := CheckDatabase(path); err != nil {
		return nil, err
	}

	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	naming := shadow.NewNaming(opts.ShadowSuffix)
	r := &runner{
		opts:     opts,
		naming:   naming,
		analyzer: state.NewAnalyzer(opts.Driver, opts.Graph, naming, opts.Logger),
		logger:   opts.Logger.With("database", path),
	}
	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) (*Result, error) {
	path := r.opts.DatabasePath
	res := &Result{DatabasePath: path, Action: ActionNone}

	before, hash, err := r.analyze(ctx)
	if err != nil {
		return nil, err
	}
	res.Before = before
	res.SchemaHashBefore = hash

	suffix := r.opts.RecoveryBackupSuffix
	if before.Status == state.StatusNotStarted {
		if err := inplace.Check(before); err != nil {
			return res, fmt.Errorf("cannot convert in place: %w", err)
		}
		suffix = r.opts.BackupSuffix
	}
	res.BackupPath = sqliteutil.BackupPath(path, suffix)
	if err := sqliteutil.Snapshot(path, res.BackupPath); err != nil {
		return res, fmt.Errorf("snapshot %s: %w", path, err)
	}
	r.logger.Info(MessageBackupLocation, "backup", res.BackupPath, "status", before.Status)

	switch before.Status {
	case state.StatusCompleted:
		res.Message = MessageNoAction
		res.After, res.SchemaHashAfter = before, hash
		r.logger.Info(res.Message)
		return res, nil

	case state.StatusNotStarted:
		if before.Count(state.PhaseNotStarted) == 0 {
			res.Message = MessageNoIntegerKeys
			res.After, res.SchemaHashAfter = before, hash
			r.logger.Info(res.Message)
			return res, nil
		}
		res.Action = ActionInPlace
		if err := r.inPlace(ctx, res); err != nil {
			return res, err
		}

	default:
		res.Action = ActionRebuild
		if err := r.rebuild(ctx, res); err != nil {
			return res, err
		}
	}

	after, hash, err := r.analyze(ctx)
	if err != nil {
		return res, err
	}
	res.After = after
	res.SchemaHashAfter = hash

	if res.Completed() {
		res.Message = MessageCompleted
		r.logger.Info(res.Message, "backup", res.BackupPath)
	} else {
		res.Message = MessageIncomplete
		r.logger.Warn(res.Message, "status", after.Status, "backup", res.BackupPath)
	}
	return res, nil
}

func (r *runner) inPlace(ctx context.Context, res *Result) error {
	rw := inplace.New(r.opts.Driver, r.opts.Graph, r.opts.IDs, r.naming, r.logger)

	err := r.withDB(ctx, func(db *sql.DB) error {
		out, err := rw.Run(ctx, db, res.Before)
		res.InPlace = out
		return err
	})
	if err == nil {
		return nil
	}

	r.logger.Error("in-place migration failed, restoring snapshot", "backup", res.BackupPath, "error", err)
	if rerr := sqliteutil.Restore(res.BackupPath, r.opts.DatabasePath); rerr != nil {
		return errors.Join(fmt.Errorf("in-place migration: %w", err), fmt.Errorf("restore %s: %w", res.BackupPath, rerr))
	}
	res.Restored = true
	return fmt.Errorf("in-place migration failed, database restored from %s: %w", res.BackupPath, err)
}

func (r *runner) rebuild(ctx context.Context, res *Result) error {
	rw := rebuild.New(r.opts.Driver, r.opts.Graph, r.opts.IDs, r.naming, r.logger)
	rw.AllowRowLoss = r.opts.AllowRowLoss

	err := r.withDB(ctx, func(db *sql.DB) error {
		out, err := rw.Populate(ctx, db, res.Before)
		res.Populate = out
		return err
	})
	if err != nil {
		return fmt.Errorf("populate identifiers: %w", err)
	}

	populated, _, err := r.analyze(ctx)
	if err != nil {
		return err
	}

	return r.withDB(ctx, func(db *sql.DB) error {
		out, err := rw.Rebuild(ctx, db, populated)
		if err != nil {
			return fmt.Errorf("rebuild tables: %w", err)
		}
		res.Rebuild = out
		for _, t := range out.Failed() {
			r.logger.Warn("table not rebuilt", "table", t.Table, "error", t.Error)
		}
		return nil
	})
}

// analyze reads the live schema on a fresh connection and fingerprints it.
func (r *runner) analyze(ctx context.Context) (*state.Analysis, string, error) {
	var (
		analysis *state.Analysis
		hash     string
	)
	err := r.withDB(ctx, func(db *sql.DB) error {
		var err error
		if analysis, err = r.analyzer.Analyze(ctx, db); err != nil {
			return fmt.Errorf("analyze: %w", err)
		}
		s, err := r.opts.Driver.IntrospectSchema(ctx, db)
		if err != nil {
			return fmt.Errorf("introspect schema: %w", err)
		}
		hash, err = database.ComputeSchemaHash(s)
		return err
	})
	return analysis, hash, err
}

func (r *runner) withDB(ctx context.Context, fn func(*sql.DB) error) (err error) {
	db, err := sqliteutil.Open(ctx, r.opts.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close database: %w", cerr)
		}
	}()
	return fn(db)
}
