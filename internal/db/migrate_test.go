package db

import (
	"path/filepath"
	"testing"
)

func openBareDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenDB(filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func tableExists(t *testing.T, database *DB, name string) bool {
	t.Helper()
	var count int
	err := database.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("schema query failed: %v", err)
	}
	return count == 1
}

func TestMigrateUpAndDown(t *testing.T) {
	database := openBareDB(t)
	migrations := MigrationsFS()

	if err := database.MigrateUp(migrations); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	version, dirty, err := database.MigrateVersion(migrations)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Fatalf("version = %d dirty = %v, want 2 clean", version, dirty)
	}
	if !tableExists(t, database, "ball_states") || !tableExists(t, database, "camera_stats") {
		t.Fatal("migrated tables missing")
	}

	// Up again is a no-op.
	if err := database.MigrateUp(migrations); err != nil {
		t.Fatalf("repeat MigrateUp failed: %v", err)
	}

	if err := database.MigrateDown(migrations); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, _ = database.MigrateVersion(migrations)
	if version != 1 {
		t.Fatalf("version after down = %d, want 1", version)
	}
	if tableExists(t, database, "camera_stats") {
		t.Error("camera_stats survived rollback")
	}
	if !tableExists(t, database, "ball_states") {
		t.Error("ball_states dropped by rollback of version 2")
	}
}

func TestMigrateToVersion(t *testing.T) {
	database := openBareDB(t)
	migrations := MigrationsFS()

	if err := database.MigrateTo(migrations, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	if tableExists(t, database, "camera_stats") {
		t.Error("camera_stats exists at version 1")
	}
	if !tableExists(t, database, "sessions") {
		t.Error("sessions missing at version 1")
	}

	if err := database.MigrateTo(migrations, 2); err != nil {
		t.Fatalf("MigrateTo(2) failed: %v", err)
	}
	if !tableExists(t, database, "camera_stats") {
		t.Error("camera_stats missing at version 2")
	}
}

func TestBaselineAtVersion(t *testing.T) {
	database := openBareDB(t)

	if err := database.BaselineAtVersion(1); err != nil {
		t.Fatalf("BaselineAtVersion failed: %v", err)
	}
	version, dirty, err := database.MigrateVersion(MigrationsFS())
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("version = %d dirty = %v, want 1 clean", version, dirty)
	}

	if err := database.BaselineAtVersion(2); err == nil {
		t.Error("second baseline should fail")
	}
}

func TestMigrationStatus(t *testing.T) {
	database := openBareDB(t)
	migrations := MigrationsFS()

	if err := database.MigrateUp(migrations); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	status, err := database.MigrationStatus(migrations)
	if err != nil {
		t.Fatalf("MigrationStatus failed: %v", err)
	}
	if status["initialized"] != true {
		t.Errorf("initialized = %v", status["initialized"])
	}
	if status["current_version"] != uint(2) {
		t.Errorf("current_version = %v, want 2", status["current_version"])
	}
	if status["dirty"] != false {
		t.Errorf("dirty = %v", status["dirty"])
	}
}
