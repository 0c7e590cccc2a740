package main

import (
	"fmt"
	"strings"

	"github.com/smallsize-vision/balltrack/internal/deploy"
)

// Rollback restores the most recent backup taken by an upgrade.
type Rollback struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	DryRun        bool

	exec *deploy.Executor
}

func (r *Rollback) executor() *deploy.Executor {
	if r.exec == nil {
		r.exec = deploy.NewExecutor(r.Target, r.SSHUser, r.SSHKey, r.IdentityAgent, r.DryRun)
		r.exec.SetLogger(debugLogger{})
	}
	return r.exec
}

// Execute performs the rollback.
func (r *Rollback) Execute() error {
	exec := r.executor()

	fmt.Println("Starting rollback to previous version...")

	backupDir, err := r.findLatestBackup(exec)
	if err != nil {
		return fmt.Errorf("failed to find backup: %w", err)
	}

	fmt.Printf("Found backup: %s\n", backupDir)

	if !r.DryRun {
		fmt.Print("Are you sure you want to rollback? This will stop the service and restore the backup. [y/N]: ")
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Rollback cancelled")
			return nil
		}
	}

	if err := r.stopService(exec); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}

	if err := r.restoreBinary(exec, backupDir); err != nil {
		return fmt.Errorf("failed to restore binary: %w", err)
	}

	if err := r.restoreDatabase(exec, backupDir); err != nil {
		fmt.Printf("Warning: could not restore database: %v\n", err)
	}

	if err := r.startService(exec); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	if err := r.verifyHealth(exec); err != nil {
		return fmt.Errorf("health check failed after rollback: %w", err)
	}

	fmt.Println("\n✓ Rollback completed successfully!")
	return nil
}

func (r *Rollback) findLatestBackup(exec *deploy.Executor) (string, error) {
	fmt.Println("Looking for backups...")

	if r.DryRun {
		return fmt.Sprintf("%s/<latest>", backupsDir), nil
	}

	// Backup directory names embed the timestamp, so the newest sorts first.
	output, err := exec.RunSudo(fmt.Sprintf("ls -1t %s/ 2>/dev/null | head -1", backupsDir))
	if err != nil {
		return "", fmt.Errorf("no backups found")
	}

	backupName := strings.TrimSpace(output)
	if backupName == "" {
		return "", fmt.Errorf("no backups found in %s/", backupsDir)
	}

	backupDir := fmt.Sprintf("%s/%s", backupsDir, backupName)

	checkOutput, err := exec.RunSudo(fmt.Sprintf("test -f %s/balltrack && echo 'exists' || echo 'missing'", backupDir))
	if err != nil || strings.TrimSpace(checkOutput) != "exists" {
		return "", fmt.Errorf("backup directory exists but binary not found: %s", backupDir)
	}

	return backupDir, nil
}

func (r *Rollback) stopService(exec *deploy.Executor) error {
	fmt.Println("Stopping service...")

	if _, err := exec.RunSudo(fmt.Sprintf("systemctl stop %s.service", serviceName)); err != nil {
		return err
	}

	exec.Run("sleep 2")
	fmt.Println("  ✓ Service stopped")
	return nil
}

func (r *Rollback) restoreBinary(exec *deploy.Executor, backupDir string) error {
	fmt.Printf("Restoring binary from: %s\n", backupDir)

	_, err := exec.RunSudo(fmt.Sprintf("cp %s/balltrack %s", backupDir, installPath))
	if err != nil {
		return fmt.Errorf("failed to restore binary: %w", err)
	}

	_, err = exec.RunSudo(fmt.Sprintf("chown root:root %s && chmod 0755 %s", installPath, installPath))
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	fmt.Println("  ✓ Binary restored")
	return nil
}

func (r *Rollback) restoreDatabase(exec *deploy.Executor, backupDir string) error {
	dbBackup := fmt.Sprintf("%s/balltrack.db", backupDir)

	if r.DryRun {
		fmt.Println("  ⊘ Keeping current database")
		return nil
	}

	checkOutput, err := exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", dbBackup))
	if err != nil || strings.TrimSpace(checkOutput) != "exists" {
		fmt.Println("  ⊘ No database backup found, keeping current database")
		return nil
	}

	fmt.Print("Database backup found. Restore it? This will replace current data. [y/N]: ")
	var confirm string
	fmt.Scanln(&confirm)

	if strings.ToLower(confirm) != "y" {
		fmt.Println("  ⊘ Keeping current database")
		return nil
	}

	fmt.Println("  Restoring database...")

	if _, err := exec.RunSudo(fmt.Sprintf("cp %s %s", dbBackup, dbFile)); err != nil {
		return err
	}

	_, err = exec.RunSudo(fmt.Sprintf("chown %s:%s %s", serviceUser, serviceUser, dbFile))
	if err != nil {
		return err
	}

	fmt.Println("  ✓ Database restored")
	return nil
}

func (r *Rollback) startService(exec *deploy.Executor) error {
	fmt.Println("Starting service...")

	if _, err := exec.RunSudo(fmt.Sprintf("systemctl start %s.service", serviceName)); err != nil {
		return err
	}

	exec.Run("sleep 3")
	fmt.Println("  ✓ Service started")
	return nil
}

func (r *Rollback) verifyHealth(exec *deploy.Executor) error {
	fmt.Println("Verifying service health...")

	if r.DryRun {
		fmt.Println("  ✓ Service is running")
		return nil
	}

	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s.service", serviceName))
	if err != nil || strings.TrimSpace(output) != "active" {
		return fmt.Errorf("service is not active")
	}

	fmt.Println("  ✓ Service is running")
	return nil
}
