package validate

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rasnes/covid-duckdb-etl/transform"
	"github.com/rasnes/covid-duckdb-etl/utils"
)

var (
	// ErrDataQuality is the parent of every hard validation failure.
	ErrDataQuality = errors.New("data quality error")
	ErrNullValues  = fmt.Errorf("%w: null values found", ErrDataQuality)
	ErrPrimaryKey  = fmt.Errorf("%w: primary key check violated", ErrDataQuality)
)

// Check reports whether records can be loaded.
//
// An empty set is not an error: it is logged and reported as invalid so the
// caller skips loading it. Nulls and duplicate last_updated values are hard
// failures.
func Check(records transform.RecordSet, logger *slog.Logger) (bool, error) {
	if len(records) == 0 {
		logger.Info("No data downloaded")
		return false, nil
	}

	for i, r := range records {
		if cols := r.NullColumns(); len(cols) > 0 {
			return false, fmt.Errorf("%w: row %d has no value for %s", ErrNullValues, i, strings.Join(cols, ", "))
		}
	}

	seen := make(map[string]int, len(records))
	for i, r := range records {
		key := r.LastUpdated.V.Format(utils.DateLayout)
		if first, ok := seen[key]; ok {
			return false, fmt.Errorf("%w: %s %s appears in rows %d and %d", ErrPrimaryKey, transform.ColLastUpdated, key, first, i)
		}
		seen[key] = i
	}

	return true, nil
}
