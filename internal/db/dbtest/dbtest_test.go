package dbtest

import (
	"testing"
)

func TestNewTestDB_ReturnsWorkingDatabase(t *testing.T) {
	database := NewTestDB(t)

	if err := database.Ping(); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	expectedType := testDBType()
	if database.DBType() != expectedType {
		t.Errorf("DBType() = %q, want %q", database.DBType(), expectedType)
	}
}

func TestNewTestDB_SchemaIsMigrated(t *testing.T) {
	database := NewTestDB(t)

	// Both tables must exist post-migration; a harmless DELETE matching no
	// rows against each should succeed.
	if _, err := database.ExecRaw("DELETE FROM sessions WHERE session_id = ?", "does-not-exist"); err != nil {
		t.Fatalf("sessions table not migrated: %v", err)
	}
	if _, err := database.ExecRaw("DELETE FROM storage_state_records WHERE record_id = ?", "does-not-exist"); err != nil {
		t.Fatalf("storage_state_records table not migrated: %v", err)
	}
}

func TestNewTestDB_IsolatedBetweenTests(t *testing.T) {
	db1 := NewTestDB(t)
	db2 := NewTestDB(t)

	_, err := db1.ExecRaw(
		"INSERT INTO sessions (session_id, owner_id) VALUES (?, ?)",
		"isolation-session", "owner-1",
	)
	if err != nil {
		t.Fatalf("db1 insert error: %v", err)
	}

	if testDBType() == "sqlite" {
		// Each call to NewTestDB creates a separate temp-file database, so
		// the same primary key must be free to reuse in db2.
		_, err := db2.ExecRaw(
			"INSERT INTO sessions (session_id, owner_id) VALUES (?, ?)",
			"isolation-session", "owner-2",
		)
		if err != nil {
			t.Fatalf("db2 insert error (expected isolation, got conflict): %v", err)
		}
	}
}

func TestTestDBType_DefaultIsSQLite(t *testing.T) {
	t.Setenv("VSC_TEST_DB_TYPE", "")
	if testDBType() != "sqlite" {
		t.Errorf("testDBType() = %q, want sqlite", testDBType())
	}
}
