package db

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand dispatching.
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}
	action := args[0]
	migrations := MigrationsFS()

	// Open without NewDB: migrations manage the schema themselves.
	database, err := OpenDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	switch action {
	case "up":
		handleMigrateUp(database, migrations)

	case "down":
		handleMigrateDown(database, migrations)

	case "status":
		handleMigrateStatus(database, migrations)

	case "version":
		if len(args) < 2 {
			log.Fatal("Usage: balltrack migrate version <version_number>")
		}
		handleMigrateTo(database, migrations, args[1])

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: balltrack migrate force <version_number>")
		}
		handleMigrateForce(database, migrations, args[1])

	case "baseline":
		if len(args) < 2 {
			log.Fatal("Usage: balltrack migrate baseline <version_number>")
		}
		handleMigrateBaseline(database, args[1])

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

func handleMigrateUp(database *DB, migrations fs.FS) {
	log.Printf("Running migrations...")
	if err := database.MigrateUp(migrations); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("All migrations applied")

	version, dirty, _ := database.MigrateVersion(migrations)
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

func handleMigrateDown(database *DB, migrations fs.FS) {
	log.Printf("Rolling back one migration...")
	if err := database.MigrateDown(migrations); err != nil {
		log.Fatalf("Migration down failed: %v", err)
	}
	log.Println("Migration rolled back")

	version, dirty, _ := database.MigrateVersion(migrations)
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

func handleMigrateStatus(database *DB, migrations fs.FS) {
	status, err := database.MigrationStatus(migrations)
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}
	fmt.Printf("Migration status:\n")
	fmt.Printf("  initialized:     %v\n", status["initialized"])
	fmt.Printf("  current version: %v\n", status["current_version"])
	fmt.Printf("  dirty:           %v\n", status["dirty"])
}

func handleMigrateTo(database *DB, migrations fs.FS, arg string) {
	version, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		log.Fatalf("Invalid version number %q: %v", arg, err)
	}
	if err := database.MigrateTo(migrations, uint(version)); err != nil {
		log.Fatalf("Migration to version %d failed: %v", version, err)
	}
	log.Printf("Migrated to version %d", version)
}

func handleMigrateForce(database *DB, migrations fs.FS, arg string) {
	version, err := strconv.Atoi(arg)
	if err != nil {
		log.Fatalf("Invalid version number %q: %v", arg, err)
	}
	if err := database.MigrateForce(migrations, version); err != nil {
		log.Fatalf("Force migration failed: %v", err)
	}
	log.Printf("Forced version to %d", version)
}

func handleMigrateBaseline(database *DB, arg string) {
	version, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		log.Fatalf("Invalid version number %q: %v", arg, err)
	}
	if err := database.BaselineAtVersion(uint(version)); err != nil {
		log.Fatalf("Baseline failed: %v", err)
	}
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp() {
	fmt.Print(`Usage: balltrack migrate <action> [args]

Actions:
  up                  Apply all pending migrations
  down                Roll back the most recent migration
  status              Show current migration status
  version <n>         Migrate up or down to version n
  force <n>           Force version to n without running migrations
  baseline <n>        Mark an existing database as already at version n
  help                Show this help
`)
}
