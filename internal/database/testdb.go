package database

import "testing"

// OpenTestDB opens an in-memory SQLite database with all migrations applied.
// The database is closed when the test finishes.
func OpenTestDB(t *testing.T) DB {
	t.Helper()
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
