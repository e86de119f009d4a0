package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/tutorials/src/migration/types"
	"git.handmade.network/hmn/tutorials/src/utils"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(AddPublishedContent{})
}

type AddPublishedContent struct{}

func (m AddPublishedContent) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 9, 8, 9, 30, 0, 0, time.UTC))
}

func (m AddPublishedContent) Name() string {
	return "AddPublishedContent"
}

func (m AddPublishedContent) Description() string {
	return "Add publication snapshots and the content's pointer to its live one"
}

func (m AddPublishedContent) Up(ctx context.Context, tx pgx.Tx) error {
	utils.Must1(tx.Exec(ctx,
		`
		CREATE TABLE published_content (
			id SERIAL PRIMARY KEY,
			content_id INT NOT NULL REFERENCES content (id) ON DELETE CASCADE,
			content_public_slug VARCHAR(80) NOT NULL,
			title VARCHAR(255) NOT NULL,
			content_type INT NOT NULL,
			sha_public CHAR(40) NOT NULL,
			publication_date TIMESTAMP WITH TIME ZONE NOT NULL,
			update_date TIMESTAMP WITH TIME ZONE,
			must_redirect BOOLEAN NOT NULL DEFAULT FALSE,
			source TEXT NOT NULL DEFAULT '',
			validation_id INT REFERENCES validation (id) ON DELETE SET NULL
		);
		CREATE INDEX published_content_content ON published_content (content_id);
		CREATE INDEX published_content_slug ON published_content (content_public_slug);
		CREATE UNIQUE INDEX published_content_one_live ON published_content (content_id) WHERE NOT must_redirect;
		`,
	))
	utils.Must1(tx.Exec(ctx,
		`
		ALTER TABLE content
			ADD COLUMN public_version_id INT REFERENCES published_content (id) ON DELETE SET NULL;
		`,
	))
	utils.Must1(tx.Exec(ctx,
		`
		CREATE TABLE published_artifact_size (
			published_id INT NOT NULL REFERENCES published_content (id) ON DELETE CASCADE,
			kind VARCHAR(8) NOT NULL,
			sha CHAR(40) NOT NULL,
			size BIGINT NOT NULL,
			PRIMARY KEY (published_id, kind)
		);
		`,
	))
	return nil
}

func (m AddPublishedContent) Down(ctx context.Context, tx pgx.Tx) error {
	utils.Must1(tx.Exec(ctx,
		`
		DROP TABLE published_artifact_size;
		ALTER TABLE content DROP COLUMN public_version_id;
		DROP TABLE published_content;
		`,
	))
	return nil
}
