package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cellwire/apnd/internal/rowcodec"
)

var errNilStore = errors.New("db store is nil")

// Execute runs a statement that returns no rows.
func (s *Store) Execute(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	if s == nil || s.DB == nil {
		return nil, errNilStore
	}
	if strings.TrimSpace(stmt) == "" {
		return nil, errors.New("statement is required")
	}
	res, err := s.DB.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return res, nil
}

// QueryScalar returns the first column of the first row as text.
//
// sql.ErrNoRows is returned as-is when the query matches nothing. A NULL
// value is returned as "".
func (s *Store) QueryScalar(ctx context.Context, stmt string, args ...any) (string, error) {
	if s == nil || s.DB == nil {
		return "", errNilStore
	}
	var value sql.NullString
	if err := s.DB.QueryRowContext(ctx, stmt, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("query scalar: %w", err)
	}
	return value.String, nil
}

// QueryRows runs a query and renders every row with rowcodec.Join.
//
// Every column is read as text; NULL becomes "". The result is never nil
// on success so callers can range over it without a check.
func (s *Store) QueryRows(ctx context.Context, stmt string, args ...any) ([]string, error) {
	if s == nil || s.DB == nil {
		return nil, errNilStore
	}
	rows, err := s.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query rows columns: %w", err)
	}
	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	out := []string{}
	fields := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			fields[i] = v.String
		}
		out = append(out, rowcodec.Join(fields))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
