package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/tutorials/src/migration/types"
	"git.handmade.network/hmn/tutorials/src/utils"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(AddArtifactFailures{})
}

type AddArtifactFailures struct{}

func (m AddArtifactFailures) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 9, 20, 17, 15, 0, 0, time.UTC))
}

func (m AddArtifactFailures) Name() string {
	return "AddArtifactFailures"
}

func (m AddArtifactFailures) Description() string {
	return "Queue artifacts that failed to render so they can be retried"
}

func (m AddArtifactFailures) Up(ctx context.Context, tx pgx.Tx) error {
	utils.Must1(tx.Exec(ctx,
		`
		CREATE TABLE artifact_failure (
			id SERIAL PRIMARY KEY,
			published_id INT NOT NULL REFERENCES published_content (id) ON DELETE CASCADE,
			kind VARCHAR(8) NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt TIMESTAMP WITH TIME ZONE NOT NULL,
			CONSTRAINT artifact_failure_unique UNIQUE (published_id, kind)
		);
		CREATE INDEX artifact_failure_next_attempt ON artifact_failure (next_attempt);
		`,
	))
	return nil
}

func (m AddArtifactFailures) Down(ctx context.Context, tx pgx.Tx) error {
	utils.Must1(tx.Exec(ctx,
		`
		DROP TABLE artifact_failure;
		`,
	))
	return nil
}
