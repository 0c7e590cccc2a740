package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/smallsize-vision/balltrack/internal/deploy"
)

const (
	serviceName = "balltrack"
	installPath = "/usr/local/bin/balltrack"
	dataDir     = "/var/lib/balltrack"
	dbFile      = "/var/lib/balltrack/balltrack.db"
	backupsDir  = "/var/lib/balltrack/backups"
	configDir   = "/etc/balltrack"
	tuningFile  = "/etc/balltrack/tuning.json"
	serviceFile = "/etc/systemd/system/balltrack.service"
	serviceUser = "balltrack"

	serviceTemplate = `[Unit]
Description=SSL vision ball tracking service
After=network.target

[Service]
User=balltrack
Group=balltrack
Type=simple
ExecStart=%s
WorkingDirectory=/var/lib/balltrack
Restart=on-failure
RestartSec=5
StandardOutput=journal
StandardError=journal
SyslogIdentifier=balltrack

[Install]
WantedBy=multi-user.target
`
)

// serviceUnit renders the systemd unit. The tuning config flag is only
// present when a config was pushed during install.
func serviceUnit(withTuning bool) string {
	execStart := fmt.Sprintf("%s -db %s", installPath, dbFile)
	if withTuning {
		execStart += fmt.Sprintf(" -config %s", tuningFile)
	}
	return fmt.Sprintf(serviceTemplate, execStart)
}

// validateLocalBinary checks that the binary exists locally and is
// executable before anything is copied to the target.
func validateLocalBinary(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("binary not found: %s", path)
	}
	if err != nil {
		return err
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("binary is not executable: %s", path)
	}
	return nil
}

// Installer handles first-time installation of the balltrack service.
type Installer struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	BinaryPath    string
	TuningPath    string
	DryRun        bool

	exec *deploy.Executor
}

func (i *Installer) executor() *deploy.Executor {
	if i.exec == nil {
		i.exec = deploy.NewExecutor(i.Target, i.SSHUser, i.SSHKey, i.IdentityAgent, i.DryRun)
		i.exec.SetLogger(debugLogger{})
	}
	return i.exec
}

// Install performs the installation.
func (i *Installer) Install() error {
	exec := i.executor()

	fmt.Println("Starting installation of balltrack...")

	if err := i.validateBinary(); err != nil {
		return fmt.Errorf("binary validation failed: %w", err)
	}

	if installed, err := i.checkExisting(exec); err != nil {
		return fmt.Errorf("failed to check existing installation: %w", err)
	} else if installed {
		fmt.Println("balltrack is already installed. Use 'upgrade' command to update.")
		return nil
	}

	if err := i.createServiceUser(exec); err != nil {
		return fmt.Errorf("failed to create service user: %w", err)
	}

	if err := i.createDataDirectory(exec); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := i.installBinary(exec); err != nil {
		return fmt.Errorf("failed to install binary: %w", err)
	}

	if i.TuningPath != "" {
		if err := i.installTuningConfig(exec); err != nil {
			return fmt.Errorf("failed to install tuning config: %w", err)
		}
	}

	if err := i.installService(exec); err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}

	if err := i.startService(exec); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	fmt.Println("\n✓ Installation completed successfully!")
	fmt.Println("\nUseful commands:")
	fmt.Println("  Check status:  balltrack-deploy status")
	fmt.Println("  Health check:  balltrack-deploy health")
	fmt.Println("  View logs:     sudo journalctl -u balltrack.service -f")

	return nil
}

func (i *Installer) validateBinary() error {
	fmt.Printf("Validating binary: %s\n", i.BinaryPath)

	if err := validateLocalBinary(i.BinaryPath); err != nil {
		return err
	}

	fmt.Println("  ✓ Binary validated")
	return nil
}

func (i *Installer) checkExisting(exec *deploy.Executor) (bool, error) {
	fmt.Println("Checking for existing installation...")

	output, err := exec.Run(fmt.Sprintf("test -f %s && echo 'exists' || echo 'not found'", serviceFile))
	if err != nil {
		return false, err
	}

	if strings.TrimSpace(output) == "exists" {
		return true, nil
	}

	fmt.Println("  ✓ No existing installation found")
	return false, nil
}

func (i *Installer) createServiceUser(exec *deploy.Executor) error {
	fmt.Printf("Creating service user '%s'...\n", serviceUser)

	output, err := exec.Run(fmt.Sprintf("id %s 2>/dev/null && echo 'exists' || echo 'not found'", serviceUser))
	if err != nil {
		return err
	}

	if strings.Contains(output, "exists") && !strings.Contains(output, "not found") {
		fmt.Printf("  ✓ User '%s' already exists\n", serviceUser)
		return nil
	}

	_, err = exec.RunSudo(fmt.Sprintf("useradd --system --no-create-home --shell /usr/sbin/nologin %s", serviceUser))
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("  ✓ User '%s' created\n", serviceUser)
	return nil
}

func (i *Installer) createDataDirectory(exec *deploy.Executor) error {
	fmt.Printf("Creating data directory: %s\n", dataDir)

	_, err := exec.RunSudo(fmt.Sprintf("mkdir -p %s && chown %s:%s %s", dataDir, serviceUser, serviceUser, dataDir))
	if err != nil {
		return err
	}

	fmt.Println("  ✓ Data directory created")
	return nil
}

func (i *Installer) installBinary(exec *deploy.Executor) error {
	fmt.Printf("Installing binary to %s...\n", installPath)

	if err := exec.CopyFile(i.BinaryPath, installPath); err != nil {
		return fmt.Errorf("failed to copy binary: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("chown root:root %s && chmod 0755 %s", installPath, installPath))
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	fmt.Println("  ✓ Binary installed")
	return nil
}

func (i *Installer) installTuningConfig(exec *deploy.Executor) error {
	fmt.Printf("Installing tuning config to %s...\n", tuningFile)

	if _, err := exec.RunSudo(fmt.Sprintf("mkdir -p %s", configDir)); err != nil {
		return err
	}

	if err := exec.CopyFile(i.TuningPath, tuningFile); err != nil {
		return fmt.Errorf("failed to copy tuning config: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("chown root:%s %s && chmod 0644 %s", serviceUser, tuningFile, tuningFile))
	if err != nil {
		return fmt.Errorf("failed to set config permissions: %w", err)
	}

	fmt.Println("  ✓ Tuning config installed")
	return nil
}

func (i *Installer) installService(exec *deploy.Executor) error {
	fmt.Println("Installing systemd service...")

	tempFile := "/tmp/balltrack.service"
	if err := exec.WriteFile(tempFile, serviceUnit(i.TuningPath != "")); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("mv %s %s", tempFile, serviceFile))
	if err != nil {
		return fmt.Errorf("failed to install service file: %w", err)
	}

	_, err = exec.RunSudo("systemctl daemon-reload")
	if err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}

	_, err = exec.RunSudo(fmt.Sprintf("systemctl enable %s", serviceName))
	if err != nil {
		return fmt.Errorf("failed to enable service: %w", err)
	}

	fmt.Println("  ✓ Service installed and enabled")
	return nil
}

func (i *Installer) startService(exec *deploy.Executor) error {
	fmt.Printf("Starting %s service...\n", serviceName)

	_, err := exec.RunSudo(fmt.Sprintf("systemctl start %s", serviceName))
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	if i.DryRun {
		fmt.Println("  ✓ Service started")
		return nil
	}

	exec.Run("sleep 2")

	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s", serviceName))
	if err != nil || strings.TrimSpace(output) != "active" {
		return fmt.Errorf("service failed to start properly")
	}

	fmt.Println("  ✓ Service started")
	return nil
}
