package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/smallsize-vision/balltrack/internal/deploy"
)

// Upgrader handles upgrading an existing balltrack installation. The
// previous binary and database are backed up first so a failed upgrade
// can be rolled back.
type Upgrader struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	BinaryPath    string
	DryRun        bool
	NoBackup      bool

	exec *deploy.Executor
}

func (u *Upgrader) executor() *deploy.Executor {
	if u.exec == nil {
		u.exec = deploy.NewExecutor(u.Target, u.SSHUser, u.SSHKey, u.IdentityAgent, u.DryRun)
		u.exec.SetLogger(debugLogger{})
	}
	return u.exec
}

// Upgrade performs the upgrade.
func (u *Upgrader) Upgrade() error {
	exec := u.executor()

	fmt.Println("Starting upgrade of balltrack...")

	if err := validateLocalBinary(u.BinaryPath); err != nil {
		return fmt.Errorf("binary validation failed: %w", err)
	}

	if installed, err := u.checkInstalled(exec); err != nil {
		return fmt.Errorf("failed to check installation: %w", err)
	} else if !installed {
		return fmt.Errorf("balltrack is not installed. Use 'install' command first")
	}

	if !u.NoBackup {
		if err := u.backupCurrent(exec); err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
	}

	if err := u.stopService(exec); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}

	if err := u.installBinary(exec); err != nil {
		return fmt.Errorf("failed to install new binary: %w", err)
	}

	if err := u.startService(exec); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	if err := u.verifyUpgrade(exec); err != nil {
		return fmt.Errorf("upgrade verification failed: %w", err)
	}

	fmt.Println("\n✓ Upgrade completed successfully!")
	return nil
}

func (u *Upgrader) checkInstalled(exec *deploy.Executor) (bool, error) {
	output, err := exec.Run(fmt.Sprintf("test -f %s && echo 'exists' || echo 'not found'", serviceFile))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(output) == "exists" || u.DryRun, nil
}

func (u *Upgrader) backupCurrent(exec *deploy.Executor) error {
	timestamp := time.Now().Format("20060102-150405")
	backupDir := fmt.Sprintf("%s/%s", backupsDir, timestamp)

	fmt.Printf("Backing up current version to %s...\n", backupDir)

	if _, err := exec.RunSudo(fmt.Sprintf("mkdir -p %s", backupDir)); err != nil {
		return err
	}

	if _, err := exec.RunSudo(fmt.Sprintf("cp %s %s/balltrack", installPath, backupDir)); err != nil {
		return fmt.Errorf("failed to back up binary: %w", err)
	}

	// The database copy is best-effort; a fresh install has no db yet.
	exec.RunSudo(fmt.Sprintf("sh -c 'test -f %s && cp %s %s/balltrack.db || true'", dbFile, dbFile, backupDir))

	// Record the installed version alongside the backup.
	exec.RunSudo(fmt.Sprintf("sh -c '%s -version > %s/version.txt 2>&1 || echo unknown > %s/version.txt'", installPath, backupDir, backupDir))

	fmt.Println("  ✓ Backup created")
	return nil
}

func (u *Upgrader) stopService(exec *deploy.Executor) error {
	fmt.Println("Stopping service...")

	if _, err := exec.RunSudo(fmt.Sprintf("systemctl stop %s.service", serviceName)); err != nil {
		return err
	}

	// Give the daemon time to flush its recording session.
	exec.Run("sleep 2")

	fmt.Println("  ✓ Service stopped")
	return nil
}

func (u *Upgrader) installBinary(exec *deploy.Executor) error {
	fmt.Printf("Installing new binary to %s...\n", installPath)

	if err := exec.CopyFile(u.BinaryPath, installPath); err != nil {
		return fmt.Errorf("failed to copy binary: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("chown root:root %s && chmod 0755 %s", installPath, installPath))
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	fmt.Println("  ✓ Binary installed")
	return nil
}

func (u *Upgrader) startService(exec *deploy.Executor) error {
	fmt.Println("Starting service...")

	if _, err := exec.RunSudo(fmt.Sprintf("systemctl start %s.service", serviceName)); err != nil {
		return err
	}

	exec.Run("sleep 3")

	fmt.Println("  ✓ Service started")
	return nil
}

func (u *Upgrader) verifyUpgrade(exec *deploy.Executor) error {
	fmt.Println("Verifying upgrade...")

	if u.DryRun {
		fmt.Println("  ✓ Service is running")
		return nil
	}

	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s.service", serviceName))
	if err != nil || strings.TrimSpace(output) != "active" {
		return fmt.Errorf("service is not active after upgrade")
	}

	fmt.Println("  ✓ Service is running")
	return nil
}
