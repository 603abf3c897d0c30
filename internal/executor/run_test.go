package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehub/uuidshift/internal/idgen"
	"github.com/thehub/uuidshift/internal/inplace"
	"github.com/thehub/uuidshift/internal/schema"
	"github.com/thehub/uuidshift/internal/state"
	"github.com/thehub/uuidshift/internal/testutil"
)

func options(t *testing.T, path string) Options {
	return Options{
		DatabasePath: path,
		Graph:        testutil.UsersGoalsGraph(t),
		Logger:       testutil.Logger(t),
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestRun_UsersGoalsEndToEnd(t *testing.T) {
	path := testutil.NewDatabase(t, testutil.UsersGoals...)
	original := readFile(t, path)

	res, err := Run(context.Background(), options(t, path))
	require.NoError(t, err)

	assert.Equal(t, ActionInPlace, res.Action)
	assert.Equal(t, state.StatusNotStarted, res.Before.Status)
	assert.Equal(t, state.StatusCompleted, res.After.Status)
	assert.True(t, res.Completed())
	assert.Equal(t, MessageCompleted, res.Message)
	assert.NotEqual(t, res.SchemaHashBefore, res.SchemaHashAfter)

	assert.Equal(t, path+".backup", res.BackupPath)
	assert.Equal(t, original, readFile(t, res.BackupPath), "backup must be a byte-exact copy")

	db := testutil.Open(t, path)
	ids := testutil.Strings(t, db, `SELECT id FROM users`)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.Zero(t, testutil.Int(t, db, `SELECT count(*) FROM users WHERE id IN (1, 2, '1', '2')`))

	owner := testutil.Strings(t, db, `SELECT id FROM users WHERE name = 'a'`)
	assert.Equal(t, owner, testutil.Strings(t, db, `SELECT user_id FROM goals`))
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	path := testutil.NewDatabase(t, testutil.UsersGoals...)

	_, err := Run(context.Background(), options(t, path))
	require.NoError(t, err)
	migrated := readFile(t, path)

	res, err := Run(context.Background(), options(t, path))
	require.NoError(t, err)

	assert.Equal(t, ActionNone, res.Action)
	assert.Equal(t, MessageNoAction, res.Message)
	assert.Equal(t, state.StatusCompleted, res.Before.Status)
	assert.Equal(t, res.SchemaHashBefore, res.SchemaHashAfter)
	assert.Equal(t, path+".recovery.backup", res.BackupPath)
	assert.Equal(t, migrated, readFile(t, path))

	// The first run's backup is left alone.
	assert.FileExists(t, path+".backup")
}

func TestRun_AlreadyCompleted(t *testing.T) {
	path := testutil.NewDatabase(t,
		`CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`,
		`CREATE TABLE goals (id TEXT PRIMARY KEY, user_id TEXT REFERENCES users (id), title TEXT)`,
	)

	res, err := Run(context.Background(), options(t, path))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.True(t, res.Completed())
}

func TestRun_MissingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")

	_, err := Run(context.Background(), options(t, path))
	require.ErrorIs(t, err, ErrDatabaseNotFound)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".backup")
}

func TestRun_NoIntegerKeys(t *testing.T) {
	path := testutil.NewDatabase(t, `CREATE TABLE notes (body TEXT)`)

	res, err := Run(context.Background(), options(t, path))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Equal(t, MessageNoIntegerKeys, res.Message)
}

func TestRun_InPlaceFailureRestoresSnapshot(t *testing.T) {
	stmts := append([]string{}, testutil.UsersGoals...)
	stmts = append(stmts, `INSERT INTO goals (id, user_id, title) VALUES (11, 2, 'second goal')`)
	path := testutil.NewDatabase(t, stmts...)
	original := readFile(t, path)

	// users converts and commits; goals then fails on a repeated identifier.
	opts := options(t, path)
	next := testutil.Sequence("u")
	calls := 0
	opts.IDs = idgen.Func(func() string {
		calls++
		if calls > 2 {
			return "dup"
		}
		return next()
	})

	res, err := Run(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, idgen.ErrDuplicateID)
	assert.Contains(t, err.Error(), "restored from")
	assert.True(t, res.Restored)
	require.NotNil(t, res.InPlace)
	require.Len(t, res.InPlace.Tables, 1)
	assert.Equal(t, "users", res.InPlace.Tables[0].Table)
	assert.Equal(t, original, readFile(t, path))
}

func TestRun_NullKeysStopBeforeSnapshot(t *testing.T) {
	path := testutil.NewDatabase(t,
		`CREATE TABLE users (id INT PRIMARY KEY, name TEXT)`,
		`CREATE TABLE goals (id INTEGER PRIMARY KEY, user_id INTEGER REFERENCES users (id), title TEXT)`,
		`INSERT INTO users (id, name) VALUES (1, 'a'), (NULL, 'ghost')`,
	)
	original := readFile(t, path)

	res, err := Run(context.Background(), options(t, path))
	require.ErrorIs(t, err, inplace.ErrNullKeys)
	assert.Contains(t, err.Error(), "table users has 1")
	assert.False(t, res.Restored)
	assert.Nil(t, res.InPlace)
	assert.NoFileExists(t, path+".backup")
	assert.Equal(t, original, readFile(t, path))
}

func TestRun_ResumesFromShadowColumns(t *testing.T) {
	path := testutil.NewDatabase(t,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, id_uuid TEXT)`,
		`CREATE TABLE goals (id INTEGER PRIMARY KEY, user_id INTEGER REFERENCES users (id), title TEXT)`,
		`INSERT INTO users (id, name, id_uuid) VALUES (1, 'a', 'u-1')`,
		`INSERT INTO users (id, name, id_uuid) VALUES (2, 'b', NULL)`,
		`INSERT INTO goals (id, user_id, title) VALUES (10, 1, 'first goal')`,
	)

	opts := options(t, path)
	opts.IDs = idgen.Func(testutil.Sequence("r"))

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, ActionRebuild, res.Action)
	assert.Equal(t, state.StatusPartial, res.Before.Status)
	assert.Equal(t, path+".recovery.backup", res.BackupPath)
	require.NotNil(t, res.Populate)
	require.NotNil(t, res.Rebuild)
	assert.Empty(t, res.Rebuild.Failed())
	assert.True(t, res.Completed())

	db := testutil.Open(t, path)
	assert.Equal(t, []string{"u-1", "r-1"}, testutil.Strings(t, db, `SELECT id FROM users ORDER BY name`))
	assert.Equal(t, []string{"r-2"}, testutil.Strings(t, db, `SELECT id FROM goals`))
	assert.Equal(t, []string{"u-1"}, testutil.Strings(t, db, `SELECT user_id FROM goals`))
}

func TestRun_MixedStateFromInterruptedInPlaceRun(t *testing.T) {
	path := testutil.NewDatabase(t,
		`CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`,
		`CREATE TABLE goals (id INTEGER PRIMARY KEY, user_id TEXT REFERENCES users (id), title TEXT)`,
		`INSERT INTO users (id, name) VALUES ('u-a', 'a')`,
		`INSERT INTO goals (id, user_id, title) VALUES (10, 'u-a', 'first goal')`,
	)

	res, err := Run(context.Background(), options(t, path))
	require.NoError(t, err)

	assert.Equal(t, ActionRebuild, res.Action)
	assert.True(t, res.Completed())

	db := testutil.Open(t, path)
	assert.Equal(t, "TEXT", testutil.ColumnType(t, db, "goals", "id"))
	assert.Equal(t, []string{"u-a"}, testutil.Strings(t, db, `SELECT user_id FROM goals`))
}

func TestRun_PopulateFillsGapsBeforeCopy(t *testing.T) {
	path := testutil.NewDatabase(t,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, id_uuid TEXT)`,
		`CREATE TABLE goals (id INTEGER PRIMARY KEY, user_id INTEGER, title TEXT, id_uuid TEXT)`,
		`INSERT INTO users (id, name, id_uuid) VALUES (1, 'a', 'u-1')`,
	)

	res, err := Run(context.Background(), options(t, path))
	require.NoError(t, err)

	// Populate fills every gap, so nothing is lost and the run completes.
	assert.True(t, res.Completed())
	assert.Empty(t, res.Rebuild.Failed())
}

func hubOptions(t *testing.T, path string) Options {
	opts := options(t, path)
	opts.Graph = nil
	return opts
}

// assertHubConverted checks that every hub table has text keys only and that
// no foreign key points at a missing row.
func assertHubConverted(t *testing.T, path string, hub *schema.Graph) {
	t.Helper()
	db := testutil.Open(t, path)

	for _, name := range hub.Names() {
		assert.Equal(t, "TEXT", testutil.ColumnType(t, db, name, "id"), name)
		assert.Empty(t, testutil.ColumnType(t, db, name, "id_uuid"), name)
		assert.EqualValues(t, 2, testutil.Int(t, db, `SELECT count(*) FROM "`+name+`"`), name)
		assert.Zero(t, testutil.Int(t, db, `SELECT count(*) FROM "`+name+`" WHERE typeof(id) <> 'text' OR id IN ('1', '2')`), name)
	}
	for _, e := range hub.Edges() {
		assert.Zero(t, testutil.Int(t, db, `SELECT count(*) FROM "`+e.FromTable+`" WHERE "`+e.FromColumn+`" IN ('1', '2')`), e.String())
	}
	assert.Empty(t, testutil.DanglingReferences(t, db, hub))
}

func TestRun_HubInPlace(t *testing.T) {
	hub := schema.MustHub()
	path := testutil.NewDatabase(t, testutil.HubStatements(hub, false)...)

	res, err := Run(context.Background(), hubOptions(t, path))
	require.NoError(t, err)

	assert.Equal(t, ActionInPlace, res.Action)
	assert.True(t, res.Completed())
	require.NotNil(t, res.InPlace)
	assert.Len(t, res.InPlace.Tables, len(hub.Names()))
	assertHubConverted(t, path, hub)
}

func TestRun_HubRebuild(t *testing.T) {
	hub := schema.MustHub()
	stmts := testutil.HubStatements(hub, true)
	stmts = append(stmts,
		`ALTER TABLE users ADD COLUMN external_uuid TEXT`,
		`UPDATE users SET external_uuid = 'keep-me' WHERE id = 1`,
	)
	path := testutil.NewDatabase(t, stmts...)

	res, err := Run(context.Background(), hubOptions(t, path))
	require.NoError(t, err)

	assert.Equal(t, ActionRebuild, res.Action)
	assert.Equal(t, state.StatusPartial, res.Before.Status)
	assert.True(t, res.Completed())
	assert.Empty(t, res.Rebuild.Failed())
	assertHubConverted(t, path, hub)

	db := testutil.Open(t, path)
	// Existing identifiers survive and references follow them.
	assert.Equal(t, []string{"users-1"}, testutil.Strings(t, db, `SELECT id FROM users WHERE name IS NULL AND external_uuid = 'keep-me'`))
	assert.Equal(t, []string{"users-1"}, testutil.Strings(t, db, `SELECT user_id FROM goals WHERE id = 'goals-1'`))
	assert.Equal(t, []string{"incomes-1"}, testutil.Strings(t, db, `SELECT income_id FROM budgets WHERE id = 'budgets-1'`))
	assert.Equal(t, "TEXT", testutil.ColumnType(t, db, "users", "external_uuid"))
}

func TestNewDriver(t *testing.T) {
	d, err := NewDriver("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())

	_, err = NewDriver("postgres")
	assert.Error(t, err)
}
