package main

import (
	"strings"
	"testing"
)

func TestRollback_findLatestBackup(t *testing.T) {
	exec, _ := mockExecutor(map[string]string{
		"ls -1t":                    "20260820-093015\n",
		"20260820-093015/balltrack": "exists",
	})

	r := &Rollback{Target: "remote.example.com"}
	backupDir, err := r.findLatestBackup(exec)
	if err != nil {
		t.Fatalf("findLatestBackup() error: %v", err)
	}
	if backupDir != "/var/lib/balltrack/backups/20260820-093015" {
		t.Errorf("Unexpected backup dir: %s", backupDir)
	}
}

func TestRollback_findLatestBackup_None(t *testing.T) {
	exec, _ := mockExecutor(map[string]string{
		"ls -1t": "",
	})

	r := &Rollback{Target: "remote.example.com"}
	_, err := r.findLatestBackup(exec)
	if err == nil || !strings.Contains(err.Error(), "no backups found") {
		t.Errorf("Expected no-backups error, got: %v", err)
	}
}

func TestRollback_findLatestBackup_MissingBinary(t *testing.T) {
	exec, _ := mockExecutor(map[string]string{
		"ls -1t":                    "20260820-093015\n",
		"20260820-093015/balltrack": "missing",
	})

	r := &Rollback{Target: "remote.example.com"}
	_, err := r.findLatestBackup(exec)
	if err == nil || !strings.Contains(err.Error(), "binary not found") {
		t.Errorf("Expected missing-binary error, got: %v", err)
	}
}

func TestRollback_restoreBinary(t *testing.T) {
	exec, mock := mockExecutor(nil)

	r := &Rollback{Target: "remote.example.com"}
	if err := r.restoreBinary(exec, "/var/lib/balltrack/backups/20260820-093015"); err != nil {
		t.Fatalf("restoreBinary() error: %v", err)
	}

	if !commandSeen(mock, "cp /var/lib/balltrack/backups/20260820-093015/balltrack /usr/local/bin/balltrack") {
		t.Errorf("Expected restore copy, commands: %+v", mock.Commands)
	}
	if !commandSeen(mock, "chmod 0755 /usr/local/bin/balltrack") {
		t.Errorf("Expected permissions reset, commands: %+v", mock.Commands)
	}
}

func TestRollback_Execute_DryRun(t *testing.T) {
	r := &Rollback{
		Target: "localhost",
		DryRun: true,
	}

	if err := r.Execute(); err != nil {
		t.Fatalf("Execute() with dry-run error: %v", err)
	}
}
