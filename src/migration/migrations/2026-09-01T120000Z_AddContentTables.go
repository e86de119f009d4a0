package migrations

import (
	"context"
	"time"

	"git.handmade.network/hmn/tutorials/src/migration/types"
	"github.com/jackc/pgx/v5"
)

func init() {
	registerMigration(AddContentTables{})
}

type AddContentTables struct{}

func (m AddContentTables) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
}

func (m AddContentTables) Name() string {
	return "AddContentTables"
}

func (m AddContentTables) Description() string {
	return "Add users, draft content, authors, and validations"
}

func (m AddContentTables) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		CREATE TABLE hmn_user (
			id SERIAL PRIMARY KEY,
			username VARCHAR(150) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			date_joined TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			is_staff BOOLEAN NOT NULL DEFAULT FALSE,
			is_validator BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE UNIQUE INDEX hmn_user_username ON hmn_user (LOWER(username));

		CREATE TABLE content (
			id SERIAL PRIMARY KEY,
			slug VARCHAR(80) NOT NULL,
			title VARCHAR(255) NOT NULL,
			type INT NOT NULL,
			licence VARCHAR(80) NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			sha_draft CHAR(40) NOT NULL,
			sha_beta CHAR(40),
			sha_validation CHAR(40),
			sha_public CHAR(40),
			date_created TIMESTAMP WITH TIME ZONE NOT NULL,
			date_updated TIMESTAMP WITH TIME ZONE NOT NULL,
			CONSTRAINT content_slug_unique UNIQUE (slug),
			CONSTRAINT content_type_valid CHECK (type IN (1, 2))
		);

		CREATE TABLE content_author (
			content_id INT NOT NULL REFERENCES content (id) ON DELETE CASCADE,
			user_id INT NOT NULL REFERENCES hmn_user (id) ON DELETE CASCADE,
			position INT NOT NULL,
			date_added TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (content_id, user_id)
		);

		CREATE TABLE validation (
			id SERIAL PRIMARY KEY,
			content_id INT NOT NULL REFERENCES content (id) ON DELETE CASCADE,
			version CHAR(40) NOT NULL,
			status INT NOT NULL,
			validator_id INT REFERENCES hmn_user (id) ON DELETE SET NULL,
			comment_authors TEXT NOT NULL DEFAULT '',
			comment_validator TEXT NOT NULL DEFAULT '',
			date_proposition TIMESTAMP WITH TIME ZONE NOT NULL,
			date_reserve TIMESTAMP WITH TIME ZONE,
			date_validation TIMESTAMP WITH TIME ZONE
		);
		CREATE INDEX validation_content ON validation (content_id);
		-- Pending (1) and PendingReserved (2) are the active states.
		CREATE UNIQUE INDEX validation_one_active ON validation (content_id) WHERE status IN (1, 2);
	`)
	return err
}

func (m AddContentTables) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		DROP TABLE validation;
		DROP TABLE content_author;
		DROP TABLE content;
		DROP TABLE hmn_user;
	`)
	return err
}
