package inplace

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thehub/uuidshift/database/sqlite"
	"github.com/thehub/uuidshift/internal/idgen"
	"github.com/thehub/uuidshift/internal/schema"
	"github.com/thehub/uuidshift/internal/shadow"
	"github.com/thehub/uuidshift/internal/state"
	"github.com/thehub/uuidshift/internal/testutil"
)

func run(t *testing.T, graph *schema.Graph, ids idgen.Generator, stmts ...string) (*sql.DB, *Result, error) {
	t.Helper()

	db := testutil.Open(t, testutil.NewDatabase(t, stmts...))
	driver := sqlite.NewDriver()
	logger := testutil.Logger(t)

	analysis, err := state.NewAnalyzer(driver, graph, shadow.NewNaming(""), logger).Analyze(context.Background(), db)
	require.NoError(t, err)

	result, err := New(driver, graph, ids, shadow.NewNaming(""), logger).Run(context.Background(), db, analysis)
	return db, result, err
}

func TestRun_UsersGoals(t *testing.T) {
	db, result, err := run(t, testutil.UsersGoalsGraph(t), nil, testutil.UsersGoals...)
	require.NoError(t, err)

	require.Len(t, result.Tables, 2)
	assert.Equal(t, "users", result.Tables[0].Table)
	assert.Equal(t, 2, result.Tables[0].Keys)
	require.Len(t, result.Tables[0].References, 1)
	assert.Equal(t, Reference{Table: "goals", Column: "user_id", Rows: 1}, result.Tables[0].References[0])
	assert.Equal(t, "goals", result.Tables[1].Table)

	assert.Equal(t, "TEXT", testutil.ColumnType(t, db, "users", "id"))
	assert.Equal(t, "TEXT", testutil.ColumnType(t, db, "goals", "id"))
	assert.Equal(t, "TEXT", testutil.ColumnType(t, db, "goals", "user_id"))
	assert.Empty(t, testutil.ColumnType(t, db, "users", "id_uuid"))
	assert.Empty(t, testutil.ColumnType(t, db, "goals", "id_uuid"))

	assert.EqualValues(t, 2, testutil.Int(t, db, `SELECT count(DISTINCT id) FROM users`))
	assert.EqualValues(t, 1, testutil.Int(t, db, `SELECT count(*) FROM goals`))

	for _, id := range testutil.Strings(t, db, `SELECT id FROM users`) {
		assert.Len(t, id, 36)
	}

	owner := testutil.Strings(t, db, `SELECT u.name FROM goals g JOIN users u ON u.id = g.user_id WHERE g.title = 'first goal'`)
	assert.Equal(t, []string{"a"}, owner)
}

func TestRun_DeterministicIdentifiers(t *testing.T) {
	db, _, err := run(t, testutil.UsersGoalsGraph(t), idgen.Func(testutil.Sequence("id")), testutil.UsersGoals...)
	require.NoError(t, err)

	assert.Equal(t, []string{"id-1", "id-2"}, testutil.Strings(t, db, `SELECT id FROM users ORDER BY name`))
	assert.Equal(t, []string{"id-3"}, testutil.Strings(t, db, `SELECT id FROM goals`))
	assert.Equal(t, []string{"id-1"}, testutil.Strings(t, db, `SELECT user_id FROM goals`))
}

func TestRun_OrphanReferencesAreKept(t *testing.T) {
	stmts := append([]string{}, testutil.UsersGoals...)
	stmts = append(stmts,
		`INSERT INTO goals (id, user_id, title) VALUES (11, 99, 'orphan')`,
		`INSERT INTO goals (id, user_id, title) VALUES (12, NULL, 'nobody')`,
	)

	db, _, err := run(t, testutil.UsersGoalsGraph(t), nil, stmts...)
	require.NoError(t, err)

	assert.Equal(t, []string{"99"}, testutil.Strings(t, db, `SELECT user_id FROM goals WHERE title = 'orphan'`))
	assert.EqualValues(t, 1, testutil.Int(t, db, `SELECT count(*) FROM goals WHERE user_id IS NULL`))
	assert.EqualValues(t, 3, testutil.Int(t, db, `SELECT count(*) FROM goals`))
}

func TestRun_SelfReferenceWithoutGraph(t *testing.T) {
	db, result, err := run(t, nil, idgen.Func(testutil.Sequence("t")),
		`CREATE TABLE tasks (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES tasks (id), title TEXT NOT NULL)`,
		`INSERT INTO tasks (id, parent_id, title) VALUES (1, NULL, 'root')`,
		`INSERT INTO tasks (id, parent_id, title) VALUES (2, 1, 'child')`,
		`INSERT INTO tasks (id, parent_id, title) VALUES (3, 2, 'grandchild')`,
	)
	require.NoError(t, err)
	require.Len(t, result.Tables, 1)
	assert.EqualValues(t, 2, result.Tables[0].References[0].Rows)

	parents := testutil.Strings(t, db, `SELECT p.title FROM tasks c JOIN tasks p ON p.id = c.parent_id ORDER BY c.title`)
	assert.Equal(t, []string{"root", "child"}, parents)
	assert.Equal(t, "TEXT", testutil.ColumnType(t, db, "tasks", "parent_id"))

	// NOT NULL survives the recreation.
	_, err = db.Exec(`INSERT INTO tasks (id, title) VALUES ('x', NULL)`)
	assert.Error(t, err)
}

func TestRun_KeepsIndexesAndUniqueConstraints(t *testing.T) {
	db, _, err := run(t, nil, nil,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT UNIQUE, name TEXT)`,
		`CREATE INDEX idx_users_name ON users (name)`,
		`INSERT INTO users (id, email, name) VALUES (1, 'a@example.com', 'a')`,
	)
	require.NoError(t, err)

	names := testutil.Strings(t, db, `SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'users' AND sql IS NOT NULL`)
	assert.Equal(t, []string{"idx_users_name"}, names)

	_, err = db.Exec(`INSERT INTO users (id, email, name) VALUES ('x', 'a@example.com', 'b')`)
	assert.Error(t, err, "unique email must still be enforced")
}

func TestRun_SkipsConvertedTables(t *testing.T) {
	db, result, err := run(t, testutil.UsersGoalsGraph(t), nil,
		`CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT)`,
		`CREATE TABLE goals (id INTEGER PRIMARY KEY, user_id TEXT REFERENCES users (id), title TEXT)`,
		`INSERT INTO users (id, name) VALUES ('u-a', 'a')`,
		`INSERT INTO goals (id, user_id, title) VALUES (10, 'u-a', 'first goal')`,
	)
	require.NoError(t, err)

	require.Len(t, result.Tables, 1)
	assert.Equal(t, "goals", result.Tables[0].Table)
	assert.Equal(t, []string{"u-a"}, testutil.Strings(t, db, `SELECT id FROM users`))
	assert.Equal(t, []string{"u-a"}, testutil.Strings(t, db, `SELECT user_id FROM goals`))
}

func TestRun_FailureRollsBackTable(t *testing.T) {
	same := idgen.Func(func() string { return "same" })

	db, result, err := run(t, testutil.UsersGoalsGraph(t), same, testutil.UsersGoals...)
	require.ErrorIs(t, err, idgen.ErrDuplicateID)
	assert.Contains(t, err.Error(), "users")
	assert.Empty(t, result.Tables)

	assert.Equal(t, "INTEGER", testutil.ColumnType(t, db, "users", "id"))
	assert.Empty(t, testutil.ColumnType(t, db, "users", "id_uuid"))
	assert.Equal(t, []string{"1"}, testutil.Strings(t, db, `SELECT user_id FROM goals`))
}

func TestRun_NullKeysRejectedBeforeChanges(t *testing.T) {
	db, result, err := run(t, testutil.UsersGoalsGraph(t), nil,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE goals (id INT PRIMARY KEY, user_id INTEGER, title TEXT)`,
		`INSERT INTO users (id, name) VALUES (1, 'a')`,
		`INSERT INTO goals (id, user_id, title) VALUES (10, 1, 'g'), (NULL, 1, 'keyless')`,
	)
	require.ErrorIs(t, err, ErrNullKeys)
	assert.Contains(t, err.Error(), "goals")
	assert.Nil(t, result)

	// users comes first in the graph and is still untouched.
	assert.Equal(t, "INTEGER", testutil.ColumnType(t, db, "users", "id"))
	assert.Empty(t, testutil.ColumnType(t, db, "users", "id_uuid"))
}
