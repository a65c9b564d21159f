package batch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jdbcx/jdbcx/internal/model"
	"github.com/jdbcx/jdbcx/internal/query"
	"github.com/jdbcx/jdbcx/internal/result"
)

// Conn is the part of *sql.Conn the executor needs.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

// ConnFunc supplies a new connection, it is called once per connection
// needed.
type ConnFunc func(ctx context.Context) (Conn, error)

// FromDB supplies dedicated connections of db.
func FromDB(db *sql.DB) ConnFunc {
	return func(ctx context.Context) (Conn, error) {
		return db.Conn(ctx)
	}
}

// Stats counts what one group did.
type Stats struct {
	Reads   int64
	Updates int64
	Rows    int64
}

func (s Stats) add(o outcome) Stats {
	if o.isQuery() {
		s.Reads++
	} else {
		s.Updates++
		s.Rows += o.count
	}
	return s
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("reads", s.Reads),
		slog.Int64("updates", s.Updates),
		slog.Int64("rows", s.Rows),
	)
}

// runGroup executes the statements of g in order on conn.
func runGroup(ctx context.Context, conn Conn, g query.Group) ([]outcome, Stats, error) {
	var stats Stats
	stmts, commentOnly := splitStatements(g.Query)
	if commentOnly {
		o := outcome{count: 0}
		return []outcome{o}, stats.add(o), nil
	}

	outcomes := make([]outcome, 0, len(stmts))
	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		o, err := runStatement(ctx, conn, stmt)
		if err != nil {
			return nil, stats, err
		}
		outcomes = append(outcomes, o)
		stats = stats.add(o)
	}
	if stats.Reads+stats.Updates == 0 {
		return nil, stats, model.ErrEmptyGroup
	}
	return outcomes, stats, nil
}

func runStatement(ctx context.Context, conn Conn, stmt statement) (outcome, error) {
	if stmt.query {
		rows, err := conn.QueryContext(ctx, stmt.text)
		if err != nil {
			return outcome{}, fmt.Errorf("%s: %w", abbrev(stmt.text), err)
		}
		r, err := materialize(rows)
		if err != nil {
			return outcome{}, fmt.Errorf("%s: %w", abbrev(stmt.text), err)
		}
		return outcome{rows: &r}, nil
	}

	res, err := conn.ExecContext(ctx, stmt.text)
	if err != nil {
		return outcome{}, fmt.Errorf("%s: %w", abbrev(stmt.text), err)
	}
	if isDDL(stmt.keyword) {
		return outcome{}, nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		slog.DebugContext(ctx, "rows affected not supported", "statement", abbrev(stmt.text), "error", err)
		return outcome{}, nil
	}
	return outcome{count: n}, nil
}

func materialize(rows *sql.Rows) (result.Result, error) {
	defer rows.Close()
	types, err := rows.ColumnTypes()
	if err != nil {
		return result.Result{}, err
	}
	fields := make([]result.Field, len(types))
	for i, ct := range types {
		typ := strings.ToLower(ct.DatabaseTypeName())
		if typ == "" {
			typ = result.TypeAny
		}
		fields[i] = result.Field{Name: ct.Name(), Type: typ}
	}

	r := result.New(fields...)
	for rows.Next() {
		values := make([]any, len(fields))
		ptrs := make([]any, len(fields))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return result.Result{}, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		r.Append(values...)
	}
	return r, rows.Err()
}

func abbrev(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const limit = 64
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
