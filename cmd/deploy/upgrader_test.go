package main

import (
	"strings"
	"testing"
)

func TestUpgrader_Upgrade_Remote(t *testing.T) {
	exec, mock := mockExecutor(map[string]string{
		"test -f /etc/systemd/system/balltrack.service": "exists",
		"is-active": "active",
	})

	upgrader := &Upgrader{
		Target:     "remote.example.com",
		SSHUser:    "deploy",
		BinaryPath: writeTestBinary(t, t.TempDir()),
		exec:       exec,
	}

	if err := upgrader.Upgrade(); err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}

	for _, want := range []string{
		"mkdir -p /var/lib/balltrack/backups/",
		"cp /usr/local/bin/balltrack",
		"systemctl stop balltrack.service",
		"mv /tmp/balltrack-copy-",
		"systemctl start balltrack.service",
		"systemctl is-active balltrack.service",
	} {
		if !commandSeen(mock, want) {
			t.Errorf("Expected a command mentioning %q, commands: %+v", want, mock.Commands)
		}
	}
}

func TestUpgrader_Upgrade_NotInstalled(t *testing.T) {
	exec, _ := mockExecutor(map[string]string{
		"test -f /etc/systemd/system/balltrack.service": "not found",
	})

	upgrader := &Upgrader{
		Target:     "remote.example.com",
		BinaryPath: writeTestBinary(t, t.TempDir()),
		exec:       exec,
	}

	err := upgrader.Upgrade()
	if err == nil || !strings.Contains(err.Error(), "not installed") {
		t.Errorf("Expected not-installed error, got: %v", err)
	}
}

func TestUpgrader_Upgrade_NoBackup(t *testing.T) {
	exec, mock := mockExecutor(map[string]string{
		"test -f /etc/systemd/system/balltrack.service": "exists",
		"is-active": "active",
	})

	upgrader := &Upgrader{
		Target:     "remote.example.com",
		BinaryPath: writeTestBinary(t, t.TempDir()),
		NoBackup:   true,
		exec:       exec,
	}

	if err := upgrader.Upgrade(); err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}

	if commandSeen(mock, "backups/") {
		t.Error("Expected no backup commands with NoBackup set")
	}
}

func TestUpgrader_Upgrade_DryRun(t *testing.T) {
	upgrader := &Upgrader{
		Target:     "localhost",
		BinaryPath: writeTestBinary(t, t.TempDir()),
		DryRun:     true,
	}

	if err := upgrader.Upgrade(); err != nil {
		t.Fatalf("Upgrade() with dry-run error: %v", err)
	}
}
