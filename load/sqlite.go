package load

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rasnes/covid-duckdb-etl/config"
	"github.com/rasnes/covid-duckdb-etl/template"
	"github.com/rasnes/covid-duckdb-etl/transform"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SQLite is the pure Go alternative to DuckDB, producing the same tables
// in a single SQLite file.
type SQLite struct {
	Logger *slog.Logger
	DB     *gorm.DB
	Path   string
}

// dailyRow maps a cleaned record onto a country table.
type dailyRow struct {
	LastUpdated    time.Time `gorm:"column:last_updated;primaryKey"`
	Country        string    `gorm:"column:country"`
	TotalConfirmed int64     `gorm:"column:total_confirmed"`
	TotalDeaths    int64     `gorm:"column:total_deaths"`
	TotalRecovered int64     `gorm:"column:total_recovered"`
	DeathRate      float64   `gorm:"column:death_rate"`
	RecoveryRate   float64   `gorm:"column:recovery_rate"`
}

func newDailyRow(r transform.DailyRecord) dailyRow {
	return dailyRow{
		LastUpdated:    r.LastUpdated.V,
		Country:        r.Country.V,
		TotalConfirmed: r.TotalConfirmed.V,
		TotalDeaths:    r.TotalDeaths.V,
		TotalRecovered: r.TotalRecovered.V,
		DeathRate:      r.DeathRate.V,
		RecoveryRate:   r.RecoveryRate.V,
	}
}

func NewSQLite(config *config.Config, logger *slog.Logger) (*SQLite, error) {
	path := config.SQLite.Path
	if path == "" {
		return nil, fmt.Errorf("sqlite.path must not be empty")
	}
	// Fail early if the parent directory is missing instead of surfacing
	// sqlite's "out of memory (14)".
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("sqlite directory %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	logger.Info(fmt.Sprintf("Connected to local SQLite database at %s", path))

	return &SQLite{Logger: logger, DB: db, Path: path}, nil
}

func (s *SQLite) Close() {
	if sqlDB, err := s.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *SQLite) EnsureTables(ctx context.Context, tables []string) error {
	for _, table := range tables {
		query, err := template.ExecuteSqlTemplate(template.CreateCovidDailyData, map[string]any{"Table": table})
		if err != nil {
			return err
		}
		if err := s.DB.WithContext(ctx).Exec(query).Error; err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	s.Logger.Info("Destination tables are ready", "tables", tables)
	return nil
}

// Append inserts records in one transaction with ON CONFLICT DO NOTHING
// (Skip) or ON CONFLICT DO UPDATE (Upsert) on last_updated.
func (s *SQLite) Append(ctx context.Context, table string, records transform.RecordSet, policy ConflictPolicy) LoadResult {
	if err := checkPolicy(policy); err != nil {
		return failed(table, len(records), policy, err)
	}
	if len(records) == 0 {
		return failed(table, 0, policy, errNoRecords)
	}

	rows := make([]dailyRow, len(records))
	keys := make([]time.Time, len(records))
	for i, r := range records {
		rows[i] = newDailyRow(r)
		keys[i] = rows[i].LastUpdated
	}

	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: transform.ColLastUpdated}},
		DoNothing: true,
	}
	if policy == Upsert {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: transform.ColLastUpdated}},
			UpdateAll: true,
		}
	}

	var duplicates int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(table).Where("last_updated IN ?", keys).Count(&duplicates).Error; err != nil {
			return fmt.Errorf("failed to count existing keys: %w", err)
		}
		if err := tx.Table(table).Clauses(onConflict).Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return failed(table, len(records), policy, err)
	}

	return appended(table, len(records), int(duplicates), policy)
}

func (s *SQLite) TableStats(ctx context.Context, table string) (TableStats, error) {
	query, err := template.ExecuteSqlTemplate(template.QueryTableStats, map[string]any{"Table": table})
	if err != nil {
		return TableStats{}, err
	}
	return scanTableStats(s.DB.WithContext(ctx).Raw(singleStatement(query)).Row(), table)
}

// singleStatement strips the trailing terminator the driver would otherwise
// read as an empty second statement.
func singleStatement(query string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
}
