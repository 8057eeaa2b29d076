// model.go: Record and repository contracts plus a database/sql implementation
//
// Model-typed parameters are resolved through a Repository registered
// either by name (the `model=` annotation) or by the field's Go type.
// SQLRepository and SQLTable cover the common case of a single SQL table.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package dto

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/agilira/go-errors"
)

// Record is a persisted entity with a key and named attributes.
type Record interface {
	Key() any
	Attributes() map[string]any
}

// Repository finds and makes records of one kind.
// Find and FindBy return a nil record when nothing matches.
type Repository interface {
	Find(ctx context.Context, id any) (Record, error)
	FindBy(ctx context.Context, field string, value any) (Record, error)
	Fillable() []string
	Make(attributes map[string]any) (Record, error)
}

var (
	repoMu       sync.RWMutex
	reposByName  = map[string]Repository{}
	reposByType  = map[reflect.Type]Repository{}
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// RegisterRepository registers repo under a model name.
func RegisterRepository(name string, repo Repository) error {
	if name == "" || repo == nil {
		return errors.New(ErrCodeInvalidConfig, "repository name and implementation are required")
	}
	repoMu.Lock()
	defer repoMu.Unlock()
	reposByName[name] = repo
	return nil
}

// RegisterRepositoryFor registers repo for fields whose type is the type of proto.
func RegisterRepositoryFor(proto Record, repo Repository) error {
	if proto == nil || repo == nil {
		return errors.New(ErrCodeInvalidConfig, "repository prototype and implementation are required")
	}
	repoMu.Lock()
	defer repoMu.Unlock()
	reposByType[reflect.TypeOf(proto)] = repo
	return nil
}

func repositoryFor(p *Param) (Repository, bool) {
	repoMu.RLock()
	defer repoMu.RUnlock()
	if p.Model != "" {
		repo, ok := reposByName[p.Model]
		return repo, ok
	}
	repo, ok := reposByType[p.Type]
	return repo, ok
}

// Row is a generic record backed by a column map.
type Row struct {
	Table  string
	KeyCol string
	Values map[string]any
}

// Key implements Record.
func (r *Row) Key() any {
	return r.Values[r.KeyCol]
}

// Attributes implements Record.
func (r *Row) Attributes() map[string]any {
	out := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		out[k] = v
	}
	return out
}

// SQLRepository reads rows of one table through database/sql.
type SQLRepository struct {
	db       *sql.DB
	table    string
	key      string
	fillable []string
}

// NewSQLRepository creates a repository over table with the given key column.
func NewSQLRepository(db *sql.DB, table, key string, fillable ...string) (*SQLRepository, error) {
	if db == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "database handle is required")
	}
	for _, ident := range append([]string{table, key}, fillable...) {
		if !identPattern.MatchString(ident) {
			return nil, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("invalid identifier %q", ident))
		}
	}
	return &SQLRepository{db: db, table: table, key: key, fillable: fillable}, nil
}

// Find implements Repository.
func (r *SQLRepository) Find(ctx context.Context, id any) (Record, error) {
	return r.FindBy(ctx, r.key, id)
}

// FindBy implements Repository.
func (r *SQLRepository) FindBy(ctx context.Context, field string, value any) (Record, error) {
	if !identPattern.MatchString(field) {
		return nil, errors.New(ErrCodeModelBindingFailed, fmt.Sprintf("invalid field %q", field))
	}
	query := fmt.Sprintf(`SELECT * FROM "%s" WHERE "%s" = ? LIMIT 1`, r.table, field)
	rows, err := r.db.QueryContext(ctx, query, value)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	values, err := scanRow(rows)
	if err != nil {
		return nil, err
	}
	return &Row{Table: r.table, KeyCol: r.key, Values: values}, nil
}

// Fillable implements Repository.
func (r *SQLRepository) Fillable() []string {
	return append([]string(nil), r.fillable...)
}

// Make implements Repository. Only fillable attributes and the key are kept.
func (r *SQLRepository) Make(attributes map[string]any) (Record, error) {
	values := map[string]any{}
	allowed := map[string]bool{r.key: true}
	for _, f := range r.fillable {
		allowed[f] = true
	}
	for k, v := range attributes {
		if allowed[k] || len(r.fillable) == 0 {
			values[k] = v
		}
	}
	return &Row{Table: r.table, KeyCol: r.key, Values: values}, nil
}

func scanRow(rows *sql.Rows) (map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	raw := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(columns))
	for i, column := range columns {
		if b, ok := raw[i].([]byte); ok {
			out[column] = string(b)
			continue
		}
		out[column] = raw[i]
	}
	return out, nil
}

// TableSink receives rows produced by Collection.InsertInto.
type TableSink interface {
	Insert(ctx context.Context, rows []map[string]any) error
}

// SQLTable inserts rows into one table inside a single transaction.
type SQLTable struct {
	DB   *sql.DB
	Name string
}

// Insert implements TableSink. Structured values are stored as JSON text.
func (t SQLTable) Insert(ctx context.Context, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	if t.DB == nil || !identPattern.MatchString(t.Name) {
		return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("invalid table sink %q", t.Name))
	}

	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to begin insert transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		columns := make([]string, 0, len(row))
		for column := range row {
			if !identPattern.MatchString(column) {
				return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("invalid column %q", column))
			}
			columns = append(columns, column)
		}
		sort.Strings(columns)

		quoted := make([]string, len(columns))
		args := make([]any, len(columns))
		for i, column := range columns {
			quoted[i] = `"` + column + `"`
			value, err := sqlValue(row[column])
			if err != nil {
				return err
			}
			args[i] = value
		}
		query := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`, t.Name,
			strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(err, ErrCodeIOError, fmt.Sprintf("failed to insert into %s", t.Name))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to commit insert transaction")
	}
	return nil
}

func sqlValue(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeInvalidPayload, "failed to encode structured column")
		}
		return string(encoded), nil
	}
	return v, nil
}
