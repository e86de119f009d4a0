package types

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// A schema change. Up and Down each run in their own transaction, which also
// records the resulting version.
type Migration interface {
	Version() MigrationVersion
	Name() string
	Description() string
	Up(ctx context.Context, tx pgx.Tx) error
	Down(ctx context.Context, tx pgx.Tx) error
}

type MigrationVersion time.Time

// Migration files are named with the version minus its colons.
const fileVersionLayout = "2006-01-02T150405Z"

// ParseMigrationVersion accepts a version either as printed by `migrate
// --list` or as it appears in a migration's file name.
func ParseMigrationVersion(s string) (MigrationVersion, error) {
	for _, layout := range []string{time.RFC3339, fileVersionLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return MigrationVersion(t.UTC()), nil
		}
	}
	return MigrationVersion{}, fmt.Errorf("bad migration version %q", s)
}

func (v MigrationVersion) String() string {
	return time.Time(v).Format(time.RFC3339)
}

func (v MigrationVersion) Before(other MigrationVersion) bool {
	return time.Time(v).Before(time.Time(other))
}

func (v MigrationVersion) Equal(other MigrationVersion) bool {
	return time.Time(v).Equal(time.Time(other))
}

func (v MigrationVersion) IsZero() bool {
	return time.Time(v).IsZero()
}
