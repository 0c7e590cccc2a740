// Command deploy installs and manages the balltrack daemon on field
// computers. It drives systemd locally or over ssh to install, upgrade,
// and roll back the service, and probes the daemon's monitoring API for
// health. Host aliases, users, and keys resolve through ~/.ssh/config,
// with command-line flags taking precedence.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/smallsize-vision/balltrack/internal/deploy"
	"github.com/smallsize-vision/balltrack/internal/version"
)

var debugMode bool

// debugLogger adapts the global debug flag to the executor's Logger.
type debugLogger struct{}

func (debugLogger) Debugf(format string, args ...interface{}) {
	if debugMode {
		fmt.Printf("[DEBUG] "+format+"\n", args...)
	}
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "install":
		handleInstall(args)
	case "upgrade":
		handleUpgrade(args)
	case "status":
		handleStatus(args)
	case "health":
		handleHealth(args)
	case "rollback":
		handleRollback(args)
	case "version":
		fmt.Printf("balltrack-deploy %s (%s)\n", version.Version, version.GitSHA)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`balltrack-deploy - Deployment manager for the balltrack daemon

Usage: balltrack-deploy <command> [options]

Commands:
  install    Install the balltrack service on a host
  upgrade    Upgrade balltrack to a newer binary
  status     Show systemd status for the service
  health     Perform a health check against the running daemon
  rollback   Roll back to the previous backed-up version
  version    Show balltrack-deploy version
  help       Show this help message

Common Flags:
  --target <host>      Target host (default: localhost)
                       Can be a hostname, IP, or SSH config host alias
  --ssh-user <user>    SSH user for remote deployment
                       Defaults to ~/.ssh/config or current user
  --ssh-key <path>     SSH private key path
                       Defaults to ~/.ssh/config
  --dry-run            Show what would be done without executing

Examples:
  # Install locally
  balltrack-deploy install --binary ./balltrack-linux-arm64

  # Install on a field PC by SSH config alias, pushing a tuning config
  balltrack-deploy install --target fieldpc --binary ./balltrack-linux-arm64 --config tuning.json

  # Upgrade a remote installation
  balltrack-deploy upgrade --target fieldpc --binary ./balltrack-linux-arm64

  # Health check against the daemon's HTTP API
  balltrack-deploy health --target fieldpc`)
}

// resolveTarget resolves the ssh host, user, key, and agent for a target,
// falling back to ~/.ssh/config and the current user.
func resolveTarget(target, sshUser, sshKey string) (string, string, string, string) {
	host, user, key, agent, err := deploy.ResolveSSHTarget(target, sshUser, sshKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve SSH config: %v\n", err)
		os.Exit(1)
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	return host, user, key, agent
}

func handleInstall(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host for installation")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	binaryPath := fs.String("binary", "", "Path to balltrack binary (required)")
	tuningPath := fs.String("config", "", "Tuning JSON to install as /etc/balltrack/tuning.json")
	dryRun := fs.Bool("dry-run", false, "Show what would be done")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	debugMode = *debug

	if *binaryPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --binary flag is required. Specify the path to the balltrack binary (e.g., --binary ./balltrack-linux-arm64)")
		fs.Usage()
		os.Exit(1)
	}

	host, user, key, agent := resolveTarget(*target, *sshUser, *sshKey)

	installer := &Installer{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: agent,
		BinaryPath:    *binaryPath,
		TuningPath:    *tuningPath,
		DryRun:        *dryRun,
	}

	if err := installer.Install(); err != nil {
		fmt.Fprintf(os.Stderr, "Installation failed: %v\n", err)
		os.Exit(1)
	}
}

func handleUpgrade(args []string) {
	fs := flag.NewFlagSet("upgrade", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	binaryPath := fs.String("binary", "", "Path to new balltrack binary (required)")
	dryRun := fs.Bool("dry-run", false, "Show what would be done")
	noBackup := fs.Bool("no-backup", false, "Skip backup before upgrade")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	debugMode = *debug

	if *binaryPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --binary flag is required. Specify the path to the balltrack binary (e.g., --binary ./balltrack-linux-arm64)")
		fs.Usage()
		os.Exit(1)
	}

	host, user, key, agent := resolveTarget(*target, *sshUser, *sshKey)

	upgrader := &Upgrader{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: agent,
		BinaryPath:    *binaryPath,
		DryRun:        *dryRun,
		NoBackup:      *noBackup,
	}

	if err := upgrader.Upgrade(); err != nil {
		fmt.Fprintf(os.Stderr, "Upgrade failed: %v\n", err)
		os.Exit(1)
	}
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	apiPort := fs.Int("api-port", 13342, "Daemon HTTP port")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	debugMode = *debug

	host, user, key, agent := resolveTarget(*target, *sshUser, *sshKey)

	monitor := &Monitor{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: agent,
		APIPort:       *apiPort,
	}

	status, err := monitor.GetStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get status: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(status)
}

func handleHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	apiPort := fs.Int("api-port", 13342, "Daemon HTTP port")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	debugMode = *debug

	host, user, key, agent := resolveTarget(*target, *sshUser, *sshKey)

	monitor := &Monitor{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: agent,
		APIPort:       *apiPort,
	}

	health, err := monitor.CheckHealth()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(health.Details)
	fmt.Println()
	if health.Healthy {
		fmt.Println("✓", health.Message)
	} else {
		fmt.Println("✗", health.Message)
		os.Exit(1)
	}
}

func handleRollback(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	dryRun := fs.Bool("dry-run", false, "Show what would be done")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	debugMode = *debug

	host, user, key, agent := resolveTarget(*target, *sshUser, *sshKey)

	rollback := &Rollback{
		Target:        host,
		SSHUser:       user,
		SSHKey:        key,
		IdentityAgent: agent,
		DryRun:        *dryRun,
	}

	if err := rollback.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Rollback failed: %v\n", err)
		os.Exit(1)
	}
}
