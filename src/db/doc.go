/*
This package contains lowish-level APIs for querying the tutorials database. It maps query results onto Go types while still letting you write plain SQL.

The primary functions are Query and QueryOne, which scan rows into structs, and QueryScalar and QueryOneScalar for single columns.

# Query syntax

Arguments use the usual $1, $2 placeholders and are passed straight through to pgx. To pass a list, use a Postgres array rather than IN:

	ids, err := db.QueryScalar[int](ctx, conn,
		`
		SELECT id
		FROM content
		WHERE slug = ANY($1)
		`,
		[]string{"intro-to-simd", "memory-arenas"},
	)

To query several columns at once, use a struct with `db:"column_name"` tags and the $columns placeholder:

	type Content struct {
		ID       int     `db:"id"`
		Slug     string  `db:"slug"`
		ShaDraft *string `db:"sha_draft"`
	}
	contents, err := db.Query[Content](ctx, conn, `SELECT $columns FROM content`)
	// SELECT id, slug, sha_draft FROM content

When joining, give the columns a table prefix with $columns{prefix}:

	pubs, err := db.Query[models.PublishedContent](ctx, conn, `
		SELECT $columns{pc}
		FROM
			published_content AS pc
			JOIN content AS c ON c.public_version_id = pc.id
	`)
	// SELECT pc.id, pc.content_id, ... FROM ...

Nullable columns map to pointer fields. Named string and int types (statuses,
kinds) are converted from whatever pgx returns.

A query may carry a name for the perf tracer by starting with a line like

	---- Load draft content
*/
package db
