package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/thehub/uuidshift/database"
)

func ptrString(s string) *string {
	return &s
}

func TestGenerator_CreateTable(t *testing.T) {
	gen := NewGenerator()

	table := database.Table{
		Name: "scheduled_tasks",
		Columns: []database.Column{
			{Name: "id", Type: "TEXT", IsPrimaryKey: true},
			{Name: "end", Type: "DATETIME"},
			{Name: "user_id", Type: "TEXT", Nullable: true},
			{Name: "created_by_ai", Type: "BOOLEAN", Nullable: true, Default: ptrString("FALSE")},
		},
		Indexes: []database.Index{
			{Name: "sqlite_autoindex_scheduled_tasks_1", Columns: []string{"end", "user_id"}, Unique: true, Origin: database.IndexOriginUnique},
			{Name: "idx_ignored", Columns: []string{"user_id"}, Origin: database.IndexOriginCreate},
		},
		ForeignKeys: []database.ForeignKey{
			{Columns: []string{"user_id"}, ReferencedTable: "users_new", ReferencedColumns: []string{"id"}},
		},
	}

	sql, desc := gen.CreateTable(table)

	expected := `CREATE TABLE "scheduled_tasks" (
  "id" TEXT PRIMARY KEY NOT NULL,
  "end" DATETIME NOT NULL,
  "user_id" TEXT,
  "created_by_ai" BOOLEAN DEFAULT FALSE,
  UNIQUE ("end", "user_id"),
  FOREIGN KEY ("user_id") REFERENCES "users_new" ("id")
)`
	if sql != expected {
		t.Errorf("Unexpected SQL:\n%s\nwant:\n%s", sql, expected)
	}
	if desc != "Create table scheduled_tasks" {
		t.Errorf("Unexpected description: %s", desc)
	}
}

func TestGenerator_AlterStatements(t *testing.T) {
	gen := NewGenerator()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "add column",
			got:  first(gen.AddColumn("users", database.Column{Name: "id_uuid", Type: "TEXT", Nullable: true})),
			want: `ALTER TABLE "users" ADD COLUMN "id_uuid" TEXT`,
		},
		{
			name: "drop column",
			got:  first(gen.DropColumn("users", "id")),
			want: `ALTER TABLE "users" DROP COLUMN "id"`,
		},
		{
			name: "rename column",
			got:  first(gen.RenameColumn("users", "id_uuid", "id")),
			want: `ALTER TABLE "users" RENAME COLUMN "id_uuid" TO "id"`,
		},
		{
			name: "rename table",
			got:  first(gen.RenameTable("users_new", "users")),
			want: `ALTER TABLE "users_new" RENAME TO "users"`,
		},
		{
			name: "drop table",
			got:  first(gen.DropTable("users")),
			want: `DROP TABLE "users"`,
		},
		{
			name: "update where",
			got:  gen.UpdateWhere("goals", "user_id", "user_id"),
			want: `UPDATE "goals" SET "user_id" = ? WHERE "user_id" = ?`,
		},
		{
			name: "insert select",
			got:  gen.InsertSelect("users_new", []string{"id", "name"}, []string{`src."id_uuid"`, `src."name"`}, "users", "src", `src."id_uuid" IS NOT NULL`),
			want: `INSERT INTO "users_new" ("id", "name") SELECT src."id_uuid", src."name" FROM "users" AS src WHERE src."id_uuid" IS NOT NULL`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got  %s\nwant %s", tt.got, tt.want)
			}
		})
	}
}

func first(sql, _ string) string {
	return sql
}

func TestGenerator_QuoteIdentifier(t *testing.T) {
	gen := NewGenerator()

	if got := gen.QuoteIdentifier(`we"ird`); got != `"we""ird"` {
		t.Errorf("QuoteIdentifier = %s", got)
	}
}

func TestGenerator_FormatColumnDefinition(t *testing.T) {
	gen := NewGenerator()

	tests := []struct {
		name string
		col  database.Column
		want string
	}{
		{
			name: "primary key before not null",
			col:  database.Column{Name: "id", Type: "TEXT", IsPrimaryKey: true},
			want: `"id" TEXT PRIMARY KEY NOT NULL`,
		},
		{
			name: "unique not null",
			col:  database.Column{Name: "name", Type: "TEXT", Unique: true},
			want: `"name" TEXT NOT NULL UNIQUE`,
		},
		{
			name: "default and check",
			col:  database.Column{Name: "priority", Type: "INTEGER", Nullable: true, Default: ptrString("1"), Check: `"priority" >= 1`},
			want: `"priority" INTEGER DEFAULT 1 CHECK ("priority" >= 1)`,
		},
		{
			name: "untyped",
			col:  database.Column{Name: "blob", Nullable: true},
			want: `"blob"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gen.FormatColumnDefinition(tt.col); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGenerator_RecreateTable(t *testing.T) {
	db := getTestDB(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	gen := NewGenerator()

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, id_uuid TEXT, name TEXT)`,
		`INSERT INTO users (id, id_uuid, name) VALUES (1, 'u-1', 'a'), (2, 'u-2', 'b')`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("Failed to seed: %v", err)
		}
	}

	table := database.Table{
		Name: "users",
		Columns: []database.Column{
			{Name: "id", Type: "TEXT", IsPrimaryKey: true},
			{Name: "name", Type: "TEXT", Nullable: true},
		},
	}

	steps := gen.RecreateTable(table, []string{`"id_uuid"`, `"name"`})
	if len(steps) != 4 {
		t.Fatalf("Expected 4 steps, got %d", len(steps))
	}
	for _, step := range steps {
		if _, err := db.ExecContext(ctx, step.SQL); err != nil {
			t.Fatalf("%s failed: %v\n%s", step.Description, err, step.SQL)
		}
	}

	var ids []string
	rows, err := db.QueryContext(ctx, "SELECT id FROM users ORDER BY name")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		ids = append(ids, id)
	}

	if strings.Join(ids, ",") != "u-1,u-2" {
		t.Errorf("Unexpected ids after recreate: %v", ids)
	}
}
