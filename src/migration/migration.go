package migration

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"git.handmade.network/hmn/tutorials/src/db"
	"git.handmade.network/hmn/tutorials/src/migration/migrations"
	"git.handmade.network/hmn/tutorials/src/migration/types"
	"git.handmade.network/hmn/tutorials/src/oops"
	"git.handmade.network/hmn/tutorials/src/server"
	"git.handmade.network/hmn/tutorials/src/utils"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

var listMigrations bool

func init() {
	migrateCommand := &cobra.Command{
		Use:   "migrate [target migration id]",
		Short: "Run database migrations",
		Run: func(cmd *cobra.Command, args []string) {
			if listMigrations {
				ListMigrations()
				return
			}

			var targetVersion types.MigrationVersion
			if len(args) > 0 {
				var err error
				targetVersion, err = types.ParseMigrationVersion(args[0])
				if err != nil {
					fmt.Printf("ERROR: %v\n", err)
					os.Exit(1)
				}
			}
			Migrate(targetVersion)
		},
	}
	migrateCommand.Flags().BoolVar(&listMigrations, "list", false, "List available migrations")

	makeMigrationCommand := &cobra.Command{
		Use:   "makemigration <name> <description>...",
		Short: "Create a new database migration file",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 {
				fmt.Printf("You must provide a name and a description.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			name := args[0]
			description := strings.Join(args[1:], " ")

			MakeMigration(name, description)
		},
	}

	server.TutorialsCommand.AddCommand(migrateCommand)
	server.TutorialsCommand.AddCommand(makeMigrationCommand)
}

func getSortedMigrationVersions() []types.MigrationVersion {
	var allVersions []types.MigrationVersion
	for migrationTime := range migrations.All {
		allVersions = append(allVersions, migrationTime)
	}
	sort.Slice(allVersions, func(i, j int) bool {
		return allVersions[i].Before(allVersions[j])
	})

	return allVersions
}

func LatestVersion() types.MigrationVersion {
	allVersions := getSortedMigrationVersions()
	return allVersions[len(allVersions)-1]
}

func FirstVersion() types.MigrationVersion {
	return getSortedMigrationVersions()[0]
}

func getCurrentVersion(ctx context.Context, conn db.ConnOrTx) (types.MigrationVersion, error) {
	var currentVersion time.Time
	row := conn.QueryRow(ctx, "SELECT version FROM tutorials_migration")
	err := row.Scan(&currentVersion)
	if err != nil {
		return types.MigrationVersion{}, err
	}
	currentVersion = currentVersion.UTC()

	return types.MigrationVersion(currentVersion), nil
}

func tryGetCurrentVersion(ctx context.Context) types.MigrationVersion {
	defer func() {
		recover()
	}()

	conn := db.NewConn()
	defer conn.Close(ctx)

	currentVersion, _ := getCurrentVersion(ctx, conn)

	return currentVersion
}

func ListMigrations() {
	ctx := context.Background()

	currentVersion := tryGetCurrentVersion(ctx)
	for _, version := range getSortedMigrationVersions() {
		migration := migrations.All[version]
		indicator := "  "
		if version.Equal(currentVersion) {
			indicator = "✔ "
		}
		fmt.Printf("%s%v (%s: %s)\n", indicator, version, migration.Name(), migration.Description())
	}
}

// Migrate brings the configured database to targetVersion, or to the latest
// version if targetVersion is zero.
func Migrate(targetVersion types.MigrationVersion) {
	ctx := context.Background()

	conn := db.NewConn()
	defer conn.Close(ctx)

	if err := MigrateConn(ctx, conn, targetVersion); err != nil {
		fmt.Printf("MIGRATION FAILED: %v\n", err)
		os.Exit(1)
	}
}

var errNoSuchMigration = errors.New("no such migration")

// MigrateConn is Migrate against an existing connection, reporting failure
// instead of exiting.
func MigrateConn(ctx context.Context, conn *pgx.Conn, targetVersion types.MigrationVersion) error {
	// create migration table
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tutorials_migration (
			version		TIMESTAMP WITH TIME ZONE
		)
	`)
	if err != nil {
		return oops.New(err, "failed to create migration table")
	}

	// ensure there is a row
	numRows, err := db.QueryOneScalar[int](ctx, conn, "SELECT COUNT(*) FROM tutorials_migration")
	if err != nil {
		return oops.New(err, "failed to count migration rows")
	}
	if numRows < 1 {
		_, err := conn.Exec(ctx, "INSERT INTO tutorials_migration (version) VALUES ($1)", time.Time{})
		if err != nil {
			return oops.New(err, "failed to insert initial migration row")
		}
	}

	currentVersion, err := getCurrentVersion(ctx, conn)
	if err != nil {
		return oops.New(err, "failed to get current version")
	}
	if currentVersion.IsZero() {
		fmt.Println("This is the first time you have run database migrations.")
	} else {
		fmt.Printf("Current version: %s\n", currentVersion.String())
	}

	steps, err := planSteps(getSortedMigrationVersions(), currentVersion, targetVersion)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		fmt.Println("Already migrated; nothing to do.")
		return nil
	}

	for _, step := range steps {
		migration := migrations.All[step.Version]
		apply := migration.Up
		if step.Rollback {
			fmt.Printf("Rolling back migration %v\n", step.Version)
			apply = migration.Down
		} else {
			fmt.Printf("Applying migration %v (%v)\n", step.Version, migration.Name())
		}
		if err := applyStep(ctx, conn, step.Result, apply); err != nil {
			return oops.New(err, "migration step %v failed", step.Version)
		}
	}
	return nil
}

type migrationStep struct {
	Version  types.MigrationVersion
	Rollback bool
	// The version recorded once the step is done.
	Result types.MigrationVersion
}

// Works out which migrations to apply, or roll back, to get from current to
// target. A zero target means the latest version; a zero current means an
// empty database.
func planSteps(all []types.MigrationVersion, current, target types.MigrationVersion) ([]migrationStep, error) {
	if len(all) == 0 {
		return nil, nil
	}
	if target.IsZero() {
		target = all[len(all)-1]
	}

	currentIndex, targetIndex := -1, -1
	for i, version := range all {
		if current.Equal(version) {
			currentIndex = i
		}
		if target.Equal(version) {
			targetIndex = i
		}
	}
	if targetIndex < 0 {
		return nil, oops.New(errNoSuchMigration, "could not find migration with version %v", target)
	}
	if currentIndex < 0 && !current.IsZero() {
		return nil, oops.New(errNoSuchMigration, "the database is at unknown version %v", current)
	}

	var steps []migrationStep
	for i := currentIndex + 1; i <= targetIndex; i++ {
		steps = append(steps, migrationStep{Version: all[i], Result: all[i]})
	}
	for i := currentIndex; i > targetIndex; i-- {
		var previous types.MigrationVersion
		if i > 0 {
			previous = all[i-1]
		}
		steps = append(steps, migrationStep{Version: all[i], Rollback: true, Result: previous})
	}
	return steps, nil
}

// Runs one migration step in its own transaction and records the version the
// database is at afterwards. Migrations may panic on failure.
func applyStep(ctx context.Context, conn *pgx.Conn, resultVersion types.MigrationVersion, step func(context.Context, pgx.Tx) error) (err error) {
	defer utils.RecoverPanicAsError(&err)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return oops.New(err, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if err := step(ctx, tx); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, "UPDATE tutorials_migration SET version = $1", time.Time(resultVersion))
	if err != nil {
		return oops.New(err, "failed to update version in migrations table")
	}

	return tx.Commit(ctx)
}

//go:embed migrationTemplate.txt
var migrationTemplate string

func MakeMigration(name, description string) {
	result := migrationTemplate
	result = strings.ReplaceAll(result, "%NAME%", name)
	result = strings.ReplaceAll(result, "%DESCRIPTION%", fmt.Sprintf("%#v", description))

	now := time.Now().UTC()
	nowConstructor := fmt.Sprintf("time.Date(%d, %d, %d, %d, %d, %d, 0, time.UTC)", now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second())
	result = strings.ReplaceAll(result, "%DATE%", nowConstructor)

	safeVersion := strings.ReplaceAll(types.MigrationVersion(now).String(), ":", "")
	filename := fmt.Sprintf("%v_%v.go", safeVersion, name)
	path := filepath.Join("src", "migration", "migrations", filename)

	err := os.WriteFile(path, []byte(result), 0644)
	if err != nil {
		panic(fmt.Errorf("failed to write migration file: %w", err))
	}

	fmt.Println("Successfully created migration file:")
	fmt.Println(path)
}
