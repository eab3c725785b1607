package load

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rasnes/covid-duckdb-etl/config"
	"github.com/rasnes/covid-duckdb-etl/transform"
	"github.com/spf13/cast"
)

// Store is a local relational store with one table per country.
type Store interface {
	// EnsureTables creates missing country tables. It is safe to call on
	// every run.
	EnsureTables(ctx context.Context, tables []string) error
	// Append writes validated records to table. Failures are reported in
	// the result, not returned.
	Append(ctx context.Context, table string, records transform.RecordSet, policy ConflictPolicy) LoadResult
	TableStats(ctx context.Context, table string) (TableStats, error)
	Close()
}

// ConflictPolicy decides what happens to a record whose last_updated
// already exists in the table.
type ConflictPolicy string

const (
	// Skip leaves the stored row untouched.
	Skip ConflictPolicy = config.OnConflictSkip
	// Upsert replaces the stored row.
	Upsert ConflictPolicy = config.OnConflictUpsert
)

type LoadStatus int

const (
	Inserted LoadStatus = iota
	SkippedDuplicate
	Failed
)

func (s LoadStatus) String() string {
	switch s {
	case Inserted:
		return "inserted"
	case SkippedDuplicate:
		return "skipped_duplicate"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("LoadStatus(%d)", int(s))
	}
}

// LoadResult is the outcome of appending one record set.
type LoadResult struct {
	Table  string
	Status LoadStatus
	// Rows is the size of the record set offered to the store.
	Rows int
	// Inserted counts rows whose key was new.
	Inserted int
	// Duplicates counts rows whose key already existed; they were skipped
	// or replaced depending on the policy.
	Duplicates int
	Policy     ConflictPolicy
	Reason     error
}

func (r LoadResult) LogAttrs() []any {
	attrs := []any{
		"table", r.Table,
		"status", r.Status.String(),
		"rows", r.Rows,
		"inserted", r.Inserted,
		"duplicates", r.Duplicates,
		"policy", string(r.Policy),
	}
	if r.Reason != nil {
		attrs = append(attrs, "reason", r.Reason.Error())
	}
	return attrs
}

func failed(table string, rows int, policy ConflictPolicy, err error) LoadResult {
	return LoadResult{Table: table, Status: Failed, Rows: rows, Policy: policy, Reason: err}
}

func appended(table string, rows, duplicates int, policy ConflictPolicy) LoadResult {
	res := LoadResult{
		Table:      table,
		Rows:       rows,
		Inserted:   rows - duplicates,
		Duplicates: duplicates,
		Policy:     policy,
		Status:     Inserted,
	}
	if policy == Skip && res.Inserted == 0 {
		res.Status = SkippedDuplicate
	}
	return res
}

func checkPolicy(policy ConflictPolicy) error {
	switch policy {
	case Skip, Upsert:
		return nil
	default:
		return fmt.Errorf("unknown conflict policy %q", policy)
	}
}

var errNoRecords = errors.New("no records to append")

type TableStats struct {
	Table     string
	Rows      int64
	FirstDate sql.Null[time.Time]
	LastDate  sql.Null[time.Time]
}

func scanTableStats(row *sql.Row, table string) (TableStats, error) {
	stats := TableStats{Table: table}
	var first, last any
	if err := row.Scan(&stats.Rows, &first, &last); err != nil {
		return stats, fmt.Errorf("failed to read stats for %s: %w", table, err)
	}

	var err error
	if stats.FirstDate, err = asDate(first); err != nil {
		return stats, fmt.Errorf("failed to read first date of %s: %w", table, err)
	}
	if stats.LastDate, err = asDate(last); err != nil {
		return stats, fmt.Errorf("failed to read last date of %s: %w", table, err)
	}
	return stats, nil
}

// asDate accepts the shapes drivers return for a DATE aggregate: a
// time.Time from DuckDB, text from SQLite.
func asDate(v any) (sql.Null[time.Time], error) {
	switch d := v.(type) {
	case nil:
		return sql.Null[time.Time]{}, nil
	case []byte:
		v = string(d)
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return sql.Null[time.Time]{}, err
	}
	return sql.Null[time.Time]{V: t.UTC(), Valid: true}, nil
}

// NewStore opens the backend selected by store.driver.
func NewStore(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Store.Driver {
	case config.DriverDuckDB, "":
		return NewDuckDB(cfg, logger)
	case config.DriverSQLite:
		return NewSQLite(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
