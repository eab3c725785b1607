package load

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/marcboeker/go-duckdb"
	"github.com/rasnes/covid-duckdb-etl/config"
	"github.com/rasnes/covid-duckdb-etl/template"
	"github.com/rasnes/covid-duckdb-etl/transform"
)

type DuckDB struct {
	Logger    *slog.Logger
	DB        *sql.DB
	Connector *duckdb.Connector
	DBType    string
}

func NewDuckDB(config *config.Config, logger *slog.Logger) (*DuckDB, error) {
	var path string
	var dbType string
	if strings.HasPrefix(config.DuckDB.Path, "md:") {
		motherduckToken := os.Getenv("MOTHERDUCK_TOKEN")
		if motherduckToken == "" {
			return nil, fmt.Errorf("MOTHERDUCK_TOKEN env variable is not set")
		}
		path = fmt.Sprintf("%s?motherduck_token=%s", config.DuckDB.Path, motherduckToken)
		dbType = ":md:"
	} else if config.DuckDB.Path == "" || config.DuckDB.Path == ":memory:" {
		path = ""
		dbType = ":memory:"
	} else {
		path = config.DuckDB.Path
		dbType = path
	}

	var connInitFn func(driver.ExecerContext) error
	if len(config.DuckDB.ConnInitFnQueries) == 0 {
		connInitFn = nil
	} else {
		connInitFn = func(exec driver.ExecerContext) error {
			for _, path := range config.DuckDB.ConnInitFnQueries {
				query, err := readQuery(path)
				if err != nil {
					return err
				}

				_, err = exec.ExecContext(context.Background(), string(query), nil)
				if err != nil {
					return fmt.Errorf("failed to execute query from file %s: %w", path, err)
				}
			}
			return nil
		}
		logger.Debug(fmt.Sprintf("Connection initialization queries: %v", config.DuckDB.ConnInitFnQueries))
	}

	connector, err := duckdb.NewConnector(path, connInitFn)
	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(connector)

	switch dbType {
	case ":memory:":
		logger.Info("Connected to DuckDB in-memory database")
	case ":md:":
		logger.Info("Connected to MotherDuck database")
	default:
		logger.Info(fmt.Sprintf("Connected to local DuckDB database at %s", dbType))
	}

	return &DuckDB{
		Logger:    logger,
		DB:        db,
		Connector: connector,
		DBType:    dbType,
	}, nil
}

func readQuery(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	query, err := io.ReadAll(file)
	if err != nil {
		file.Close() // Ensure the file is closed if reading fails
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file %s: %w", path, err)
	}
	return query, nil
}

func (db *DuckDB) Close() {
	db.DB.Close()
	db.Connector.Close()
}

func (db *DuckDB) EnsureTables(ctx context.Context, tables []string) error {
	for _, table := range tables {
		query, err := template.ExecuteSqlTemplate(template.CreateCovidDailyData, map[string]any{"Table": table})
		if err != nil {
			return err
		}
		if err := db.RunQuery(ctx, query); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	db.Logger.Info("Destination tables are ready", "tables", tables)
	return nil
}

// Append stages records through the DuckDB appender and then moves them
// into table with INSERT OR IGNORE (Skip) or INSERT OR REPLACE (Upsert).
// Staging, counting and inserting share one pinned connection.
func (db *DuckDB) Append(ctx context.Context, table string, records transform.RecordSet, policy ConflictPolicy) LoadResult {
	if err := checkPolicy(policy); err != nil {
		return failed(table, len(records), policy, err)
	}
	if len(records) == 0 {
		return failed(table, 0, policy, errNoRecords)
	}

	conn, err := db.DB.Conn(ctx)
	if err != nil {
		return failed(table, len(records), policy, fmt.Errorf("failed to acquire connection: %w", err))
	}
	defer conn.Close()

	staging := table + "__staging"
	createStaging, err := template.ExecuteSqlTemplate(template.CreateStaging, map[string]any{
		"Table":   table,
		"Staging": staging,
	})
	if err != nil {
		return failed(table, len(records), policy, err)
	}
	if _, err := conn.ExecContext(ctx, createStaging); err != nil {
		return failed(table, len(records), policy, fmt.Errorf("failed to create staging table %s: %w", staging, err))
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+staging); err != nil {
			db.Logger.Warn("Failed to drop staging table", "table", staging, "error", err)
		}
	}()

	err = conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		return appendRows(dc, staging, records)
	})
	if err != nil {
		return failed(table, len(records), policy, err)
	}

	var duplicates int
	countQuery := fmt.Sprintf(
		"SELECT count(*) FROM %s WHERE last_updated IN (SELECT last_updated FROM %s);",
		staging, table,
	)
	if err := conn.QueryRowContext(ctx, countQuery).Scan(&duplicates); err != nil {
		return failed(table, len(records), policy, fmt.Errorf("failed to count existing keys: %w", err))
	}

	verb := "IGNORE"
	if policy == Upsert {
		verb = "REPLACE"
	}
	insertQuery := fmt.Sprintf("INSERT OR %s INTO %s SELECT * FROM %s;", verb, table, staging)
	db.Logger.Debug("Executing DuckDB query", "query", insertQuery)

	if _, err := conn.ExecContext(ctx, insertQuery); err != nil {
		return failed(table, len(records), policy, fmt.Errorf("failed to execute INSERT OR %s INTO statement: %w", verb, err))
	}

	return appended(table, len(records), duplicates, policy)
}

func appendRows(conn driver.Conn, table string, records transform.RecordSet) (err error) {
	appender, err := duckdb.NewAppenderFromConn(conn, "", table)
	if err != nil {
		return fmt.Errorf("failed to create appender for %s: %w", table, err)
	}
	defer func() {
		// Close flushes; its error matters as much as AppendRow's
		if cerr := appender.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to flush appender for %s: %w", table, cerr)
		}
	}()

	for i, r := range records {
		values := r.Values()
		row := make([]driver.Value, len(values))
		for j, v := range values {
			row[j] = v
		}
		if err := appender.AppendRow(row...); err != nil {
			return fmt.Errorf("failed to append row %d to %s: %w", i, table, err)
		}
	}
	return nil
}

func (db *DuckDB) TableStats(ctx context.Context, table string) (TableStats, error) {
	query, err := template.ExecuteSqlTemplate(template.QueryTableStats, map[string]any{"Table": table})
	if err != nil {
		return TableStats{}, err
	}
	return scanTableStats(db.DB.QueryRowContext(ctx, query), table)
}

func (db *DuckDB) RunQuery(ctx context.Context, query string) error {
	_, err := db.DB.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	return nil
}
