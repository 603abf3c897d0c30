// Package sqliteutil holds file-level helpers for SQLite databases: path
// parsing, connection setup and the byte-exact snapshot used as the rollback
// path of every migration run.
package sqliteutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// walSuffix names the write-ahead log that sits next to a database file when
// a previous process exited without checkpointing.
const walSuffix = "-wal"

// IsSQLiteFilePath checks if a string looks like a SQLite file path
func IsSQLiteFilePath(s string) bool {
	s = strings.ToLower(s)

	if s == ":memory:" || strings.HasPrefix(s, "libsql://") {
		return false
	}

	if strings.HasPrefix(s, "sqlite://") || strings.HasPrefix(s, "file:") {
		return true
	}

	return strings.HasSuffix(s, ".db") ||
		strings.HasSuffix(s, ".sqlite") ||
		strings.HasSuffix(s, ".sqlite3")
}

// ExtractSQLiteFilePath extracts the actual file path from a SQLite connection string
func ExtractSQLiteFilePath(connStr string) string {
	for _, prefix := range []string{"sqlite://", "file:"} {
		if strings.HasPrefix(connStr, prefix) {
			path := strings.TrimPrefix(connStr, prefix)
			if idx := strings.Index(path, "?"); idx >= 0 {
				path = path[:idx]
			}
			return path
		}
	}
	return connStr
}

// CheckSQLiteDatabase checks if a SQLite database file exists and is valid.
// Returns (exists, isEmpty, error).
func CheckSQLiteDatabase(connStr string) (exists bool, isEmpty bool, err error) {
	filePath := ExtractSQLiteFilePath(connStr)

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("failed to stat file: %w", err)
	}

	if info.IsDir() {
		return false, false, fmt.Errorf("path is a directory, not a file: %s", filePath)
	}

	if info.Size() == 0 {
		return true, true, nil
	}

	db, err := sql.Open("sqlite", filePath)
	if err != nil {
		return true, false, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	// Ping alone does not read the header, so force a schema read.
	var n int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		return true, false, fmt.Errorf("file exists but is not a valid SQLite database: %w", err)
	}

	return true, false, nil
}

// DSN builds the connection string used for migrations. Foreign-key
// enforcement cannot be switched inside a transaction, so it is disabled for
// the whole connection.
func DSN(path string) string {
	return ExtractSQLiteFilePath(path) + "?_pragma=foreign_keys(0)&_pragma=busy_timeout(5000)"
}

// Open opens the database at path on a single connection and verifies it.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection keeps transactions, savepoints and PRAGMAs on the same
	// session and avoids SQLITE_BUSY between our own statements.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

// BackupPath returns the snapshot location for a database file.
func BackupPath(path, suffix string) string {
	return ExtractSQLiteFilePath(path) + suffix
}

// Snapshot copies the database file byte for byte to dst. It must be called
// while no connection to the database is open. A leftover write-ahead log is
// copied next to dst so the snapshot stays point-in-time.
func Snapshot(src, dst string) error {
	src = ExtractSQLiteFilePath(src)

	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("snapshot %s: %w", src, err)
	}

	if _, err := os.Stat(src + walSuffix); err == nil {
		if err := copyFile(src+walSuffix, dst+walSuffix); err != nil {
			return fmt.Errorf("snapshot %s: %w", src+walSuffix, err)
		}
	} else if err := removeIfExists(dst + walSuffix); err != nil {
		return err
	}

	return nil
}

// Restore copies a snapshot back over the database file, replacing any
// write-ahead log or journal left by the interrupted run.
func Restore(backup, dst string) error {
	dst = ExtractSQLiteFilePath(dst)

	if _, err := os.Stat(backup); err != nil {
		return fmt.Errorf("backup not available: %w", err)
	}

	for _, sidecar := range []string{walSuffix, "-shm", "-journal"} {
		if err := removeIfExists(dst + sidecar); err != nil {
			return err
		}
	}

	if err := copyFile(backup, dst); err != nil {
		return fmt.Errorf("restore %s: %w", dst, err)
	}

	if _, err := os.Stat(backup + walSuffix); err == nil {
		if err := copyFile(backup+walSuffix, dst+walSuffix); err != nil {
			return fmt.Errorf("restore %s: %w", dst+walSuffix, err)
		}
	}

	return nil
}

// copyFile writes src to a temporary sibling of dst, syncs it and renames it
// into place so a reader never sees a half-written copy.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return err
	}

	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
