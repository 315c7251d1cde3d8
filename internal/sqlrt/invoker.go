// Package sqlrt invokes schema operations bound to parameterized queries
// with @sql(query:).
package sqlrt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanpama/typegraph/internal/ctxlog"
	"github.com/hanpama/typegraph/internal/query"
	"github.com/hanpama/typegraph/internal/schema"
	"github.com/hanpama/typegraph/internal/typed"
)

// ErrTooManyRows is returned when a single-valued operation yields more than
// one row.
var ErrTooManyRows = errors.New("sqlrt: query returned more than one row")

// Invoker implements query.Invoker for operations carrying an @sql binding.
//
// Parameters are passed positionally in declaration order; object and list
// values are passed as JSON text. Each row is mapped onto the return type by
// column name: a column matches an attribute when both are equal after
// lowercasing and removing underscores, so account_id fills accountId.
// Columns holding JSON text fill object and list attributes. A scalar return
// type reads the first column.
type Invoker struct {
	schema *schema.Schema
	db     Querier
}

var _ query.Invoker = (*Invoker)(nil)

func NewInvoker(s *schema.Schema, db Querier) *Invoker {
	return &Invoker{schema: s, db: db}
}

func (i *Invoker) Name() string { return "sql" }

func (i *Invoker) CanSupport(_ *schema.Service, op *schema.Operation) bool {
	b, ok := op.Metadata.SQL()
	return ok && b.Query != ""
}

func (i *Invoker) Invoke(ctx context.Context, _ *schema.Service, op *schema.Operation, params []typed.Instance) ([]typed.Instance, error) {
	b, ok := op.Metadata.SQL()
	if !ok {
		panic(fmt.Sprintf("sqlrt: %s has no @sql binding", op.QualifiedName()))
	}
	args := make([]any, len(op.Parameters))
	for idx := range op.Parameters {
		v, err := sqlArg(typed.ToRaw(params[idx]))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op.Parameters[idx].Name, err)
		}
		args[idx] = v
	}

	ctxlog.FromContext(ctx).DebugContext(ctx, "sql invoke", "operation", op.QualifiedName())
	rows, err := i.db.QueryContext(ctx, b.Query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", op.QualifiedName(), err)
	}
	defer rows.Close()

	t := i.schema.MustType(op.Returns.Name)
	var out []any
	for rows.Next() {
		row, err := i.scanRow(rows, t)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", op.QualifiedName(), err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", op.QualifiedName(), err)
	}

	var raw any
	switch {
	case op.Returns.List:
		if out == nil {
			out = []any{}
		}
		raw = out
	case len(out) > 1:
		return nil, fmt.Errorf("%s: %w (%d)", op.QualifiedName(), ErrTooManyRows, len(out))
	case len(out) == 1:
		raw = out[0]
	}
	v, err := typed.FromRaw(i.schema, op.Returns, raw, typed.FromOperation(op.QualifiedName()))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", op.QualifiedName(), err)
	}
	return []typed.Instance{v}, nil
}

func (i *Invoker) scanRow(rows *sql.Rows, t *schema.Type) (any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for j := range vals {
		ptrs[j] = &vals[j]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	if t.Kind != schema.TypeKindObject {
		if len(vals) == 0 {
			return nil, nil
		}
		return i.columnValue(schema.Named(t.Name), vals[0])
	}
	obj := make(map[string]any, len(t.Attributes))
	for j, col := range cols {
		a := attributeFor(t, col)
		if a == nil {
			continue
		}
		v, err := i.columnValue(a.Type, vals[j])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		obj[a.Name] = v
	}
	return obj, nil
}

// columnValue converts a driver value into what typed.FromRaw expects for
// ref.
func (i *Invoker) columnValue(ref schema.TypeRef, v any) (any, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}
	t, _ := i.schema.Type(ref.Name)
	if ref.List || (t != nil && t.Kind == schema.TypeKindObject) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected JSON text for %s, got %T", ref, v)
		}
		var decoded any
		if err := typed.DecodeJSON([]byte(s), &decoded); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ref, err)
		}
		return decoded, nil
	}
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case int64:
		if ref.Name == schema.ScalarBoolean {
			return x != 0, nil
		}
	}
	return v, nil
}

func attributeFor(t *schema.Type, column string) *schema.Attribute {
	if a := t.Attribute(column); a != nil {
		return a
	}
	key := foldName(column)
	for _, a := range t.Attributes {
		if foldName(a.Name) == key {
			return a
		}
	}
	return nil
}

func foldName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

func sqlArg(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return v, nil
}
