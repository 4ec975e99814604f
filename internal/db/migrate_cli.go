package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand. Output goes to w.
func RunMigrateCommand(args []string, dbPath string, w io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(w)
		return nil
	}

	// Uses the embedded FS unless DevMode is set.
	migrations, err := getMigrationsFS()
	if err != nil {
		return fmt.Errorf("failed to get migrations filesystem: %w", err)
	}

	// Open without applying migrations; the action decides.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(migrations); err != nil {
			return err
		}
		fmt.Fprintln(w, "All migrations applied")
	case "down":
		if err := database.MigrateDown(migrations); err != nil {
			return err
		}
		fmt.Fprintln(w, "Rolled back one migration")
	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: edgesync migrate version <version_number>")
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := database.MigrateTo(migrations, uint(v)); err != nil {
			return err
		}
		fmt.Fprintf(w, "Migrated to version %d\n", v)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: edgesync migrate force <version_number>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := database.MigrateForce(migrations, v); err != nil {
			return err
		}
		fmt.Fprintf(w, "Migration version forced to %d\n", v)
	case "status":
		// Reported below for every action.
	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	st, err := database.GetMigrationStatus(migrations)
	if err != nil {
		return err
	}
	printStatus(w, st)
	return nil
}

func printStatus(w io.Writer, st MigrationStatus) {
	fmt.Fprintln(w, "=== Migration Status ===")
	fmt.Fprintf(w, "Current version: %d\n", st.Version)
	fmt.Fprintf(w, "Latest version: %d\n", st.Latest)
	fmt.Fprintf(w, "Dirty: %v\n", st.Dirty)
	fmt.Fprintf(w, "Schema migrations table exists: %v\n", st.TableExists)
	if st.PendingSteps > 0 {
		fmt.Fprintf(w, "Outstanding migrations: %d (run: edgesync migrate up)\n", st.PendingSteps)
	}
	if st.Dirty {
		fmt.Fprintln(w, "WARNING: a migration failed mid-execution. Inspect the database, then run: edgesync migrate force <version>")
	}
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: edgesync migrate <action> -db <file>

Actions:
  up                 Apply all pending migrations
  down               Roll back the most recent migration
  status             Show current migration status
  version <N>        Migrate up or down to version N
  force <N>          Set the recorded version without running migrations
  help               Show this help
`)
}
