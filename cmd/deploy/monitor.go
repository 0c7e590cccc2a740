package main

import (
	"fmt"
	"strings"

	"github.com/smallsize-vision/balltrack/internal/deploy"
	"github.com/smallsize-vision/balltrack/internal/monitor"
)

// Monitor checks service and daemon health on a target host. Systemd
// state comes over ssh; daemon state comes from the monitoring API.
type Monitor struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	APIPort       int

	exec    *deploy.Executor
	apiBase string
}

// HealthStatus represents the health check result.
type HealthStatus struct {
	Healthy bool
	Message string
	Details string
}

func (m *Monitor) executor() *deploy.Executor {
	if m.exec == nil {
		m.exec = deploy.NewExecutor(m.Target, m.SSHUser, m.SSHKey, m.IdentityAgent, false)
		m.exec.SetLogger(debugLogger{})
	}
	return m.exec
}

func (m *Monitor) apiBaseURL() string {
	if m.apiBase != "" {
		return m.apiBase
	}

	host := m.Target
	if host == "" {
		host = "localhost"
	}
	// Strip any user@ prefix from the ssh target.
	if parts := strings.Split(host, "@"); len(parts) > 1 {
		host = parts[1]
	}

	port := m.APIPort
	if port == 0 {
		port = 13342
	}

	return fmt.Sprintf("http://%s:%d", host, port)
}

// GetStatus returns the systemd status output for the service.
func (m *Monitor) GetStatus() (string, error) {
	exec := m.executor()

	output, err := exec.RunSudo(fmt.Sprintf("systemctl status %s.service --no-pager", serviceName))
	if err != nil {
		return "", fmt.Errorf("failed to get service status: %w", err)
	}

	return output, nil
}

// CheckHealth runs the full set of checks: systemd state, recent log
// errors, the daemon's HTTP API, and the database file.
func (m *Monitor) CheckHealth() (*HealthStatus, error) {
	exec := m.executor()

	health := &HealthStatus{Healthy: true}
	var checks []string

	// Service is running.
	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s.service", serviceName))
	if err != nil || strings.TrimSpace(output) != "active" {
		health.Healthy = false
		health.Message = "Service is not running"
		checks = append(checks, "✗ Service: NOT RUNNING")
	} else {
		checks = append(checks, "✓ Service: RUNNING")
	}

	// Start time, to spot crash loops.
	uptimeOutput, err := exec.RunSudo(fmt.Sprintf("systemctl show %s.service --property=ActiveEnterTimestamp --value", serviceName))
	if err == nil {
		checks = append(checks, fmt.Sprintf("✓ Started: %s", strings.TrimSpace(uptimeOutput)))
	}

	// Recent errors in the journal.
	logsOutput, err := exec.RunSudo(fmt.Sprintf("journalctl -u %s.service -n 20 --no-pager", serviceName))
	if err == nil {
		errorCount := strings.Count(strings.ToLower(logsOutput), "error")
		if errorCount > 5 {
			health.Healthy = false
			if health.Message == "" {
				health.Message = fmt.Sprintf("Too many errors in logs (%d)", errorCount)
			}
			checks = append(checks, fmt.Sprintf("✗ Logs: %d errors found", errorCount))
		} else {
			checks = append(checks, fmt.Sprintf("✓ Logs: %d errors (acceptable)", errorCount))
		}
	}

	// Daemon API.
	client := monitor.NewClient(nil, m.apiBaseURL())
	if err := client.Health(); err != nil {
		health.Healthy = false
		if health.Message == "" {
			health.Message = "API endpoint not responding"
		}
		checks = append(checks, "✗ API: NOT RESPONDING")
	} else {
		checks = append(checks, "✓ API: RESPONDING")

		if stats, err := client.Stats(); err == nil {
			checks = append(checks, fmt.Sprintf("  Version: %s, uptime %s", stats.Version, stats.Uptime))
			checks = append(checks, fmt.Sprintf("  Frames processed: %d, balls seen: %d", stats.Manager.FramesProcessed, stats.Manager.BallsSeen))
			if stats.Session != "" {
				checks = append(checks, fmt.Sprintf("  Recording session: %s", stats.Session))
			}
		}
	}

	// Database file.
	dbCheck, err := exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", dbFile))
	if err == nil && strings.TrimSpace(dbCheck) == "exists" {
		sizeOutput, err := exec.RunSudo(fmt.Sprintf("du -h %s | cut -f1", dbFile))
		if err == nil {
			checks = append(checks, fmt.Sprintf("✓ Database: %s", strings.TrimSpace(sizeOutput)))
		} else {
			checks = append(checks, "✓ Database: EXISTS")
		}
	} else {
		health.Healthy = false
		if health.Message == "" {
			health.Message = "Database file not found"
		}
		checks = append(checks, "✗ Database: MISSING")
	}

	health.Details = strings.Join(checks, "\n")

	if health.Healthy {
		health.Message = "All checks passed"
	}

	return health, nil
}
