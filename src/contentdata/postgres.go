package contentdata

import (
	"context"
	"errors"
	"time"

	"git.handmade.network/hmn/tutorials/src/db"
	"git.handmade.network/hmn/tutorials/src/models"
	"git.handmade.network/hmn/tutorials/src/oops"
	"github.com/jackc/pgx/v5/pgconn"
)

// A unique constraint rejected the write: a slug already in use, or a second
// active validation for one content.
var ErrDuplicate = errors.New("duplicate row")

type Postgres struct {
	pgQueries
}

var _ Store = (*Postgres)(nil)

func NewPostgres(conn db.ConnOrTx) *Postgres {
	return &Postgres{pgQueries{conn: conn}}
}

func (p *Postgres) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return oops.New(err, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgQueries{conn: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.New(err, "failed to commit transaction")
	}
	return nil
}

type pgQueries struct {
	conn db.ConnOrTx
}

func translate(err error, format string, args ...any) error {
	if errors.Is(err, db.NotFound) {
		return oops.New(models.ErrNotFound, format, args...)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return oops.New(errors.Join(ErrDuplicate, err), format, args...)
	}
	return oops.New(err, format, args...)
}

func expectOne(tag pgconn.CommandTag, notFound error, format string, args ...any) error {
	if tag.RowsAffected() == 0 {
		return oops.New(notFound, format, args...)
	}
	return nil
}

func (q *pgQueries) GetUser(ctx context.Context, id int) (*models.User, error) {
	u, err := db.QueryOne[models.User](ctx, q.conn,
		`
		SELECT $columns
		FROM hmn_user
		WHERE id = $1
		`,
		id,
	)
	if err != nil {
		return nil, translate(err, "failed to fetch user %d", id)
	}
	return u, nil
}

func (q *pgQueries) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	created, err := db.QueryOne[models.User](ctx, q.conn,
		`
		INSERT INTO hmn_user (username, name, date_joined, is_staff, is_validator)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING $columns
		`,
		u.Username, u.Name, time.Now(), u.IsStaff, u.IsValidator,
	)
	if err != nil {
		return nil, translate(err, "failed to create user %s", u.Username)
	}
	return created, nil
}

func (q *pgQueries) CreateContent(ctx context.Context, c models.Content, authorID int) (*models.Content, error) {
	now := time.Now()
	created, err := db.QueryOne[models.Content](ctx, q.conn,
		`
		INSERT INTO content (slug, title, type, licence, description, sha_draft, date_created, date_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING $columns
		`,
		c.Slug, c.Title, int(c.Type), c.Licence, c.Description, c.ShaDraft, now,
	)
	if err != nil {
		return nil, translate(err, "failed to create content %s", c.Slug)
	}
	if err := q.AddAuthor(ctx, created.ID, authorID); err != nil {
		return nil, err
	}
	return created, nil
}

func (q *pgQueries) GetContent(ctx context.Context, id int) (*models.Content, error) {
	c, err := db.QueryOne[models.Content](ctx, q.conn,
		`
		---- Get content
		SELECT $columns
		FROM content
		WHERE id = $1
		`,
		id,
	)
	if err != nil {
		return nil, translate(err, "failed to fetch content %d", id)
	}
	return c, nil
}

func (q *pgQueries) ListContents(ctx context.Context) ([]*models.Content, error) {
	cs, err := db.Query[models.Content](ctx, q.conn,
		`
		SELECT $columns
		FROM content
		ORDER BY id
		`,
	)
	if err != nil {
		return nil, translate(err, "failed to list contents")
	}
	return cs, nil
}

func (q *pgQueries) ContentSlugTaken(ctx context.Context, slug string, exceptID int) (bool, error) {
	taken, err := db.QueryOneScalar[bool](ctx, q.conn,
		`
		SELECT EXISTS (SELECT 1 FROM content WHERE slug = $1 AND id != $2)
		`,
		slug, exceptID,
	)
	if err != nil {
		return false, translate(err, "failed to check content slug %s", slug)
	}
	return taken, nil
}

func (q *pgQueries) AdvanceDraft(ctx context.Context, id int, oldSha, newSha string) error {
	tag, err := q.conn.Exec(ctx,
		`
		---- Advance draft
		UPDATE content
		SET sha_draft = $3, date_updated = $4
		WHERE id = $1 AND sha_draft = $2
		`,
		id, oldSha, newSha, time.Now(),
	)
	if err != nil {
		return translate(err, "failed to advance draft of content %d", id)
	}
	return expectOne(tag, models.ErrConcurrentEdit, "draft of content %d is no longer at %s", id, oldSha)
}

func (q *pgQueries) SetTitleAndSlug(ctx context.Context, id int, title, slug string) error {
	tag, err := q.conn.Exec(ctx,
		`
		UPDATE content
		SET title = $2, slug = $3
		WHERE id = $1
		`,
		id, title, slug,
	)
	if err != nil {
		return translate(err, "failed to rename content %d", id)
	}
	return expectOne(tag, models.ErrNotFound, "no content %d", id)
}

func (q *pgQueries) SetBeta(ctx context.Context, id int, sha *string) error {
	tag, err := q.conn.Exec(ctx, `UPDATE content SET sha_beta = $2 WHERE id = $1`, id, sha)
	if err != nil {
		return translate(err, "failed to set beta of content %d", id)
	}
	return expectOne(tag, models.ErrNotFound, "no content %d", id)
}

func (q *pgQueries) SetValidationSha(ctx context.Context, id int, sha *string) error {
	tag, err := q.conn.Exec(ctx, `UPDATE content SET sha_validation = $2 WHERE id = $1`, id, sha)
	if err != nil {
		return translate(err, "failed to set validation commit of content %d", id)
	}
	return expectOne(tag, models.ErrNotFound, "no content %d", id)
}

func (q *pgQueries) SwapPublicVersion(ctx context.Context, id int, expected, next *int, sha *string) error {
	tag, err := q.conn.Exec(ctx,
		`
		---- Swap public version
		UPDATE content
		SET public_version_id = $3, sha_public = $4
		WHERE id = $1 AND public_version_id IS NOT DISTINCT FROM $2
		`,
		id, expected, next, sha,
	)
	if err != nil {
		return translate(err, "failed to swap public version of content %d", id)
	}
	return expectOne(tag, models.ErrConcurrentPublication, "public version of content %d moved", id)
}

func (q *pgQueries) DeleteContent(ctx context.Context, id int) error {
	// The live publication points back at the content, so break that first.
	_, err := q.conn.Exec(ctx, `UPDATE content SET public_version_id = NULL WHERE id = $1`, id)
	if err != nil {
		return translate(err, "failed to detach publication of content %d", id)
	}
	tag, err := q.conn.Exec(ctx, `DELETE FROM content WHERE id = $1`, id)
	if err != nil {
		return translate(err, "failed to delete content %d", id)
	}
	return expectOne(tag, models.ErrNotFound, "no content %d", id)
}

func (q *pgQueries) ListAuthors(ctx context.Context, contentID int) ([]int, error) {
	ids, err := db.QueryScalar[int](ctx, q.conn,
		`
		SELECT user_id
		FROM content_author
		WHERE content_id = $1
		ORDER BY position
		`,
		contentID,
	)
	if err != nil {
		return nil, translate(err, "failed to list authors of content %d", contentID)
	}
	return ids, nil
}

func (q *pgQueries) AddAuthor(ctx context.Context, contentID, userID int) error {
	_, err := q.conn.Exec(ctx,
		`
		INSERT INTO content_author (content_id, user_id, position, date_added)
		SELECT $1::INT, $2::INT, COALESCE(MAX(position) + 1, 0), $3::TIMESTAMPTZ
		FROM content_author
		WHERE content_id = $1
		ON CONFLICT (content_id, user_id) DO NOTHING
		`,
		contentID, userID, time.Now(),
	)
	if err != nil {
		return translate(err, "failed to add author %d to content %d", userID, contentID)
	}
	return nil
}

func (q *pgQueries) RemoveAuthor(ctx context.Context, contentID, userID int) (int, error) {
	_, err := q.conn.Exec(ctx,
		`DELETE FROM content_author WHERE content_id = $1 AND user_id = $2`,
		contentID, userID,
	)
	if err != nil {
		return 0, translate(err, "failed to remove author %d from content %d", userID, contentID)
	}
	remaining, err := db.QueryOneScalar[int](ctx, q.conn,
		`SELECT COUNT(*) FROM content_author WHERE content_id = $1`,
		contentID,
	)
	if err != nil {
		return 0, translate(err, "failed to count authors of content %d", contentID)
	}
	return remaining, nil
}

func (q *pgQueries) GetValidation(ctx context.Context, id int) (*models.Validation, error) {
	v, err := db.QueryOne[models.Validation](ctx, q.conn,
		`
		SELECT $columns
		FROM validation
		WHERE id = $1
		`,
		id,
	)
	if err != nil {
		return nil, translate(err, "failed to fetch validation %d", id)
	}
	return v, nil
}

func (q *pgQueries) ActiveValidation(ctx context.Context, contentID int) (*models.Validation, error) {
	v, err := db.QueryOne[models.Validation](ctx, q.conn,
		`
		---- Active validation
		SELECT $columns
		FROM validation
		WHERE content_id = $1 AND status = ANY ($2)
		FOR UPDATE
		`,
		contentID, statusInts(models.ActiveValidationStatuses),
	)
	if err != nil {
		return nil, translate(err, "failed to fetch active validation of content %d", contentID)
	}
	return v, nil
}

func (q *pgQueries) ListValidations(ctx context.Context, contentID int) ([]*models.Validation, error) {
	vs, err := db.Query[models.Validation](ctx, q.conn,
		`
		SELECT $columns
		FROM validation
		WHERE content_id = $1
		ORDER BY date_proposition DESC, id DESC
		`,
		contentID,
	)
	if err != nil {
		return nil, translate(err, "failed to list validations of content %d", contentID)
	}
	return vs, nil
}

func (q *pgQueries) CreateValidation(ctx context.Context, v models.Validation) (*models.Validation, error) {
	created, err := db.QueryOne[models.Validation](ctx, q.conn,
		`
		INSERT INTO validation (content_id, version, status, comment_authors, date_proposition)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING $columns
		`,
		v.ContentID, v.Version, int(v.Status), v.CommentAuthor, v.DateProposition,
	)
	if err != nil {
		return nil, translate(err, "failed to create validation for content %d", v.ContentID)
	}
	return created, nil
}

func (q *pgQueries) UpdateValidation(ctx context.Context, v *models.Validation) error {
	tag, err := q.conn.Exec(ctx,
		`
		UPDATE validation
		SET
			status = $2,
			validator_id = $3,
			comment_authors = $4,
			comment_validator = $5,
			date_reserve = $6,
			date_validation = $7
		WHERE id = $1
		`,
		v.ID, int(v.Status), v.ValidatorID, v.CommentAuthor, v.CommentValidator, v.DateReserve, v.DateValidation,
	)
	if err != nil {
		return translate(err, "failed to update validation %d", v.ID)
	}
	return expectOne(tag, models.ErrNotFound, "no validation %d", v.ID)
}

func (q *pgQueries) GetPublished(ctx context.Context, id int) (*models.PublishedContent, error) {
	p, err := db.QueryOne[models.PublishedContent](ctx, q.conn,
		`
		SELECT $columns
		FROM published_content
		WHERE id = $1
		`,
		id,
	)
	if err != nil {
		return nil, translate(err, "failed to fetch publication %d", id)
	}
	return p, nil
}

func (q *pgQueries) ListPublished(ctx context.Context, contentID int) ([]*models.PublishedContent, error) {
	ps, err := db.Query[models.PublishedContent](ctx, q.conn,
		`
		SELECT $columns
		FROM published_content
		WHERE content_id = $1
		ORDER BY id DESC
		`,
		contentID,
	)
	if err != nil {
		return nil, translate(err, "failed to list publications of content %d", contentID)
	}
	return ps, nil
}

func (q *pgQueries) PublicSlugTaken(ctx context.Context, slug string, exceptContentID int) (bool, error) {
	taken, err := db.QueryOneScalar[bool](ctx, q.conn,
		`
		SELECT EXISTS (
			SELECT 1 FROM published_content
			WHERE content_public_slug = $1 AND content_id != $2
		)
		`,
		slug, exceptContentID,
	)
	if err != nil {
		return false, translate(err, "failed to check public slug %s", slug)
	}
	return taken, nil
}

func (q *pgQueries) InsertPublished(ctx context.Context, p models.PublishedContent) (*models.PublishedContent, error) {
	created, err := db.QueryOne[models.PublishedContent](ctx, q.conn,
		`
		---- Insert publication
		INSERT INTO published_content (
			content_id, content_public_slug, title, content_type, sha_public,
			publication_date, update_date, must_redirect, source, validation_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING $columns
		`,
		p.ContentID, p.PublicSlug, p.Title, int(p.Type), p.ShaPublic,
		p.PublicationDate, p.UpdateDate, p.MustRedirect, p.Source, p.ValidationID,
	)
	if err != nil {
		return nil, translate(err, "failed to insert publication of content %d", p.ContentID)
	}
	return created, nil
}

func (q *pgQueries) MarkRedirect(ctx context.Context, id int) error {
	tag, err := q.conn.Exec(ctx, `UPDATE published_content SET must_redirect = TRUE WHERE id = $1`, id)
	if err != nil {
		return translate(err, "failed to supersede publication %d", id)
	}
	return expectOne(tag, models.ErrNotFound, "no publication %d", id)
}

func (q *pgQueries) DeletePublished(ctx context.Context, id int) error {
	tag, err := q.conn.Exec(ctx, `DELETE FROM published_content WHERE id = $1`, id)
	if err != nil {
		return translate(err, "failed to delete publication %d", id)
	}
	return expectOne(tag, models.ErrNotFound, "no publication %d", id)
}

func (q *pgQueries) GetArtifactSize(ctx context.Context, publishedID int, kind models.ArtifactKind) (*models.ArtifactSize, error) {
	s, err := db.QueryOne[models.ArtifactSize](ctx, q.conn,
		`
		SELECT $columns
		FROM published_artifact_size
		WHERE published_id = $1 AND kind = $2
		`,
		publishedID, string(kind),
	)
	if err != nil {
		return nil, translate(err, "failed to fetch %s size of publication %d", kind, publishedID)
	}
	return s, nil
}

func (q *pgQueries) SaveArtifactSize(ctx context.Context, s models.ArtifactSize) error {
	_, err := q.conn.Exec(ctx,
		`
		INSERT INTO published_artifact_size (published_id, kind, sha, size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (published_id, kind) DO UPDATE
			SET sha = EXCLUDED.sha, size = EXCLUDED.size
		`,
		s.PublishedID, string(s.Kind), s.Sha, s.Size,
	)
	if err != nil {
		return translate(err, "failed to save %s size of publication %d", s.Kind, s.PublishedID)
	}
	return nil
}

func (q *pgQueries) DeleteArtifactSize(ctx context.Context, publishedID int, kind models.ArtifactKind) error {
	_, err := q.conn.Exec(ctx,
		`DELETE FROM published_artifact_size WHERE published_id = $1 AND kind = $2`,
		publishedID, string(kind),
	)
	if err != nil {
		return translate(err, "failed to forget %s size of publication %d", kind, publishedID)
	}
	return nil
}

func (q *pgQueries) RecordArtifactFailure(ctx context.Context, f models.ArtifactFailure) error {
	_, err := q.conn.Exec(ctx,
		`
		INSERT INTO artifact_failure (published_id, kind, error, attempts, next_attempt)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (published_id, kind) DO UPDATE
			SET error = EXCLUDED.error, attempts = EXCLUDED.attempts, next_attempt = EXCLUDED.next_attempt
		`,
		f.PublishedID, string(f.Kind), f.Error, f.Attempts, f.NextAttempt,
	)
	if err != nil {
		return translate(err, "failed to record %s failure of publication %d", f.Kind, f.PublishedID)
	}
	return nil
}

func (q *pgQueries) DueArtifactFailures(ctx context.Context, now time.Time, limit int) ([]*models.ArtifactFailure, error) {
	fs, err := db.Query[models.ArtifactFailure](ctx, q.conn,
		`
		---- Due artifact failures
		SELECT $columns
		FROM artifact_failure
		WHERE next_attempt <= $1
		ORDER BY next_attempt
		LIMIT $2
		`,
		now, limit,
	)
	if err != nil {
		return nil, translate(err, "failed to fetch due artifact failures")
	}
	return fs, nil
}

func (q *pgQueries) ListArtifactFailures(ctx context.Context, publishedID int) ([]*models.ArtifactFailure, error) {
	fs, err := db.Query[models.ArtifactFailure](ctx, q.conn,
		`
		SELECT $columns
		FROM artifact_failure
		WHERE published_id = $1
		ORDER BY kind
		`,
		publishedID,
	)
	if err != nil {
		return nil, translate(err, "failed to list artifact failures of publication %d", publishedID)
	}
	return fs, nil
}

func (q *pgQueries) UpdateArtifactFailure(ctx context.Context, f *models.ArtifactFailure) error {
	tag, err := q.conn.Exec(ctx,
		`
		UPDATE artifact_failure
		SET error = $2, attempts = $3, next_attempt = $4
		WHERE id = $1
		`,
		f.ID, f.Error, f.Attempts, f.NextAttempt,
	)
	if err != nil {
		return translate(err, "failed to update artifact failure %d", f.ID)
	}
	return expectOne(tag, models.ErrNotFound, "no artifact failure %d", f.ID)
}

func (q *pgQueries) DeleteArtifactFailure(ctx context.Context, id int) error {
	_, err := q.conn.Exec(ctx, `DELETE FROM artifact_failure WHERE id = $1`, id)
	if err != nil {
		return translate(err, "failed to delete artifact failure %d", id)
	}
	return nil
}

func statusInts(statuses []models.ValidationStatus) []int {
	res := make([]int, len(statuses))
	for i, s := range statuses {
		res[i] = int(s)
	}
	return res
}
