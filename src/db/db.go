package db

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"git.handmade.network/hmn/tutorials/src/oops"
	"github.com/jackc/pgx/v5"
)

/*
A general error to be used when no results are found. This is the error returned
by QueryOne, and can generally be used by other database helpers that fetch a single
result but find nothing.
*/
var NotFound = errors.New("not found")

/*
Performs a SQL query and returns a slice of all the result rows. The query is just plain SQL, but make sure to read the package documentation for details. You must explicitly provide the type argument - this is how it knows what Go type to map the results to, and it cannot be inferred.

Any SQL query may be performed, including INSERT and UPDATE - as long as it returns a result set, you can use this. If the query does not return a result set, or you simply do not care about the result set, call Exec directly on your pgx connection.

T must be a struct with `db` tags. For single columns, use QueryScalar.
*/
func Query[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) ([]*T, error) {
	rows, err := queryRows[T](ctx, conn, query, args)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByNameLax[T])
	if err != nil {
		return nil, oops.New(err, "failed to read rows")
	}
	return result, nil
}

/*
Identical to Query, but returns only the first result row. If there are no
rows in the result set, returns NotFound.
*/
func QueryOne[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (*T, error) {
	rows, err := queryRows[T](ctx, conn, query, args)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByNameLax[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFound
	} else if err != nil {
		return nil, oops.New(err, "failed to read row")
	}
	return result, nil
}

/*
Returns the single column of every row as a plain value. Named int and string
types (statuses, kinds) are fine.
*/
func QueryScalar[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) ([]T, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, oops.New(err, "query failed")
	}
	result, err := pgx.CollectRows(rows, pgx.RowTo[T])
	if err != nil {
		return nil, oops.New(err, "failed to read rows")
	}
	return result, nil
}

/*
Identical to QueryScalar, but returns only the first result value. If there are
no rows in the result set, returns NotFound.
*/
func QueryOneScalar[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (T, error) {
	var zero T
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return zero, oops.New(err, "query failed")
	}
	result, err := pgx.CollectOneRow(rows, pgx.RowTo[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, NotFound
	} else if err != nil {
		return zero, oops.New(err, "failed to read row")
	}
	return result, nil
}

func queryRows[T any](ctx context.Context, conn ConnOrTx, query string, args []any) (pgx.Rows, error) {
	compiled, err := compileQuery(query, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, compiled, args...)
	if err != nil {
		return nil, oops.New(err, "query failed")
	}
	return rows, nil
}

var reColumnsPlaceholder = regexp.MustCompile(`\$columns({(.*?)})?`)

// Replaces $columns with the tagged columns of destType, qualified with the
// prefix given as $columns{prefix}.
func compileQuery(query string, destType reflect.Type) (string, error) {
	if !reColumnsPlaceholder.MatchString(query) {
		return query, nil
	}

	columns, err := columnNames(destType)
	if err != nil {
		return "", err
	}

	return reColumnsPlaceholder.ReplaceAllStringFunc(query, func(placeholder string) string {
		prefix := reColumnsPlaceholder.FindStringSubmatch(placeholder)[2]
		if prefix == "" {
			return strings.Join(columns, ", ")
		}
		qualified := make([]string, len(columns))
		for i, column := range columns {
			qualified[i] = prefix + "." + column
		}
		return strings.Join(qualified, ", ")
	}), nil
}

var columnCache sync.Map // reflect.Type -> []string

// The `db` tags of a model, in field order. Models are flat: nullable columns
// are pointer fields, and nothing nests.
func columnNames(t reflect.Type) ([]string, error) {
	if cached, ok := columnCache.Load(t); ok {
		return cached.([]string), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, oops.New(nil, "$columns can only be used when querying into a struct, not %v", t)
	}

	var columns []string
	for _, field := range reflect.VisibleFields(t) {
		name := field.Tag.Get("db")
		if name == "" || name == "-" || !field.IsExported() {
			continue
		}
		fieldType := field.Type
		if fieldType.Kind() == reflect.Ptr {
			fieldType = fieldType.Elem()
		}
		if fieldType.Kind() == reflect.Struct && !isValueStruct(fieldType) {
			return nil, fmt.Errorf("field '%s' in type %s is a nested struct, which $columns does not expand", field.Name, t)
		}
		columns = append(columns, name)
	}

	columnCache.Store(t, columns)
	return columns, nil
}

// Structs pgx scans as a single value.
func isValueStruct(t reflect.Type) bool {
	return t.PkgPath() == "time" && t.Name() == "Time"
}
