// Package pgstore resolves entities directly from the query side of the
// store: one read view per type (tv_<snake_type>) with the key column(s)
// and a document column. A whole resolution group is fetched with a single
// statement.
package pgstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/hanpama/entityflow/internal/entity"
)

// Querier is the subset of *pgxpool.Pool and *pgx.Conn used by Loader.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type options struct {
	view       string
	keyColumns map[string]string
	dataColumn string
	codec      Codec
}

type Option func(*options)

// WithView sets the view to query, optionally schema qualified. The default
// is tv_<snake_case typename>.
func WithView(name string) Option { return func(o *options) { o.view = name } }

// WithKeyColumn maps a key field to its column. The default is the snake
// case of the field name.
func WithKeyColumn(field, column string) Option {
	return func(o *options) { o.keyColumns[field] = column }
}

// WithDataColumn sets the document column. The default is "data".
func WithDataColumn(name string) Option { return func(o *options) { o.dataColumn = name } }

// WithCodec sets the document codec. The default is JSON.
func WithCodec(c Codec) Option { return func(o *options) { o.codec = c } }

// Loader is the direct resolution strategy: it implements entity.Resolver
// with one SELECT per group.
type Loader struct {
	q   Querier
	opt options
}

var _ entity.Resolver = (*Loader)(nil)

// New returns a Loader reading through q.
func New(q Querier, opts ...Option) *Loader {
	o := options{keyColumns: map[string]string{}, dataColumn: "data", codec: JSON}
	for _, f := range opts {
		f(&o)
	}
	return &Loader{q: q, opt: o}
}

// Resolve fetches every key of the group in one statement. Rows are matched
// back to keys by canonicalizing the returned key columns, so the textual
// form the database returns merges with numeric wire values.
func (l *Loader) Resolve(ctx context.Context, typename string, keys []entity.Key) (map[entity.CanonicalKey]entity.Fetched, error) {
	out := make(map[entity.CanonicalKey]entity.Fetched, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	fields := keyFieldNames(keys[0])
	args := make([]any, len(fields))
	for i, f := range fields {
		vals := make([]string, len(keys))
		for j, k := range keys {
			vals[j] = entity.KeyText(k.Fields[f])
		}
		args[i] = vals
	}

	sql := l.statement(typename, fields)
	rows, err := l.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", l.view(typename))
	}
	defer rows.Close()

	keyText := make([]pgtype.Text, len(fields))
	dest := make([]any, len(fields)+1)
	for i := range keyText {
		dest[i] = &keyText[i]
	}
	for rows.Next() {
		var data []byte
		dest[len(fields)] = &data
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrapf(err, "scan %s", l.view(typename))
		}
		if data == nil || !allValid(keyText) {
			continue
		}
		kfs := make([]entity.KeyField, len(fields))
		for i, f := range fields {
			kfs[i] = entity.KeyField{Name: f, Value: keyText[i].String}
		}
		ck := entity.Canonicalize(typename, kfs)
		doc, derr := l.opt.codec.Decode(data)
		if derr != nil {
			out[ck] = entity.Fetched{Err: derr}
			continue
		}
		out[ck] = entity.Fetched{Document: doc}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", l.view(typename))
	}
	return out, nil
}

// statement builds the group lookup. Key columns are compared as text so a
// single text[] parameter per column serves every column type.
func (l *Loader) statement(typename string, fields []string) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = pgx.Identifier{l.column(f)}.Sanitize() + "::text"
	}
	data := pgx.Identifier{l.opt.dataColumn}.Sanitize()
	view := pgx.Identifier(strings.Split(l.view(typename), ".")).Sanitize()

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, %s FROM %s WHERE ", strings.Join(cols, ", "), data, view)
	if len(cols) == 1 {
		fmt.Fprintf(&b, "%s = ANY($1)", cols[0])
		return b.String()
	}
	params := make([]string, len(cols))
	for i := range cols {
		params[i] = fmt.Sprintf("$%d::text[]", i+1)
	}
	fmt.Fprintf(&b, "(%s) IN (SELECT * FROM unnest(%s))", strings.Join(cols, ", "), strings.Join(params, ", "))
	return b.String()
}

func (l *Loader) view(typename string) string {
	if l.opt.view != "" {
		return l.opt.view
	}
	return "tv_" + snakeCase(typename)
}

func (l *Loader) column(field string) string {
	if c, ok := l.opt.keyColumns[field]; ok {
		return c
	}
	return snakeCase(field)
}

func keyFieldNames(k entity.Key) []string {
	names := make([]string, 0, len(k.Fields))
	for n := range k.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// allValid reports whether no key column of a row is NULL. Such rows can
// not match a requested key.
func allValid(ts []pgtype.Text) bool {
	for _, t := range ts {
		if !t.Valid {
			return false
		}
	}
	return true
}

// snakeCase converts a GraphQL name to the storage naming convention:
// OrderLine -> order_line, displayName -> display_name.
func snakeCase(s string) string {
	var b strings.Builder
	rs := []rune(s)
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(rs[i-1]) || (i+1 < len(rs) && unicode.IsLower(rs[i+1]) && unicode.IsUpper(rs[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
