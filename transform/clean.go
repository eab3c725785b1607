package transform

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rasnes/covid-duckdb-etl/extract"
	"github.com/spf13/cast"
)

// ErrSchema is returned when the payload lacks a column the cleaning steps
// depend on, or a cell cannot be coerced to its column type.
var ErrSchema = errors.New("schema error")

const (
	ColLastUpdated    = "last_updated"
	ColCountryCode    = "country_code"
	ColCountry        = "country"
	ColTotalConfirmed = "total_confirmed"
	ColTotalDeaths    = "total_deaths"
	ColTotalRecovered = "total_recovered"
	ColDeathRate      = "death_rate"
	ColRecoveryRate   = "recovery_rate"
)

// Columns is the storage column order of a cleaned record.
var Columns = []string{
	ColLastUpdated,
	ColCountry,
	ColTotalConfirmed,
	ColTotalDeaths,
	ColTotalRecovered,
	ColDeathRate,
	ColRecoveryRate,
}

// DailyRecord is one country's cumulative statistics for one day. Every
// field is nullable so that gaps in the API response survive cleaning and
// can be rejected by validation.
type DailyRecord struct {
	LastUpdated    sql.Null[time.Time]
	Country        sql.Null[string]
	TotalConfirmed sql.Null[int64]
	TotalDeaths    sql.Null[int64]
	TotalRecovered sql.Null[int64]
	DeathRate      sql.Null[float64]
	RecoveryRate   sql.Null[float64]
}

type RecordSet []DailyRecord

// NullColumns lists the columns of r that hold no value, in column order.
func (r DailyRecord) NullColumns() []string {
	var cols []string
	for i, valid := range []bool{
		r.LastUpdated.Valid,
		r.Country.Valid,
		r.TotalConfirmed.Valid,
		r.TotalDeaths.Valid,
		r.TotalRecovered.Valid,
		r.DeathRate.Valid,
		r.RecoveryRate.Valid,
	} {
		if !valid {
			cols = append(cols, Columns[i])
		}
	}
	return cols
}

// Values returns the record in column order. Callers must only use it on
// validated records.
func (r DailyRecord) Values() []any {
	return []any{
		r.LastUpdated.V,
		r.Country.V,
		r.TotalConfirmed.V,
		r.TotalDeaths.V,
		r.TotalRecovered.V,
		r.DeathRate.V,
		r.RecoveryRate.V,
	}
}

// Clean turns a raw trend payload into daily records:
//  1. country_code must be present and is dropped
//  2. total_deaths and total_recovered must be present; death_rate and
//     recovery_rate are derived from them and total_confirmed
//  3. last_updated must be present and is normalized to a calendar date
//
// Counts must be whole, non-negative and within int64.
//
// An empty payload yields an empty record set rather than a missing
// country_code error. This is deliberate: validation decides what an empty
// download means and skips the country without failing the run.
func Clean(payload extract.Payload) (RecordSet, error) {
	if len(payload) == 0 {
		return RecordSet{}, nil
	}

	cols := columnsOf(payload)

	if !cols[ColCountryCode] {
		return nil, fmt.Errorf("%w: no %s column found", ErrSchema, ColCountryCode)
	}

	if !cols[ColTotalDeaths] || !cols[ColTotalRecovered] {
		return nil, fmt.Errorf("%w: no applicable columns for %s and %s, need %s and %s",
			ErrSchema, ColDeathRate, ColRecoveryRate, ColTotalDeaths, ColTotalRecovered)
	}
	for _, col := range []string{ColTotalConfirmed, ColCountry} {
		if !cols[col] {
			return nil, fmt.Errorf("%w: no %s column found", ErrSchema, col)
		}
	}

	if !cols[ColLastUpdated] {
		return nil, fmt.Errorf("%w: no %s column found", ErrSchema, ColLastUpdated)
	}

	records := make(RecordSet, 0, len(payload))
	for i, row := range payload {
		record, err := cleanRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrSchema, i, err)
		}
		records = append(records, record)
	}

	return records, nil
}

func cleanRow(row map[string]any) (DailyRecord, error) {
	var (
		r   DailyRecord
		err error
	)

	if r.Country, err = toString(row[ColCountry]); err != nil {
		return r, fmt.Errorf("%s: %w", ColCountry, err)
	}
	if r.TotalConfirmed, err = toCount(row[ColTotalConfirmed]); err != nil {
		return r, fmt.Errorf("%s: %w", ColTotalConfirmed, err)
	}
	if r.TotalDeaths, err = toCount(row[ColTotalDeaths]); err != nil {
		return r, fmt.Errorf("%s: %w", ColTotalDeaths, err)
	}
	if r.TotalRecovered, err = toCount(row[ColTotalRecovered]); err != nil {
		return r, fmt.Errorf("%s: %w", ColTotalRecovered, err)
	}

	r.DeathRate = ratio(r.TotalDeaths, r.TotalConfirmed)
	r.RecoveryRate = ratio(r.TotalRecovered, r.TotalConfirmed)

	if r.LastUpdated, err = toDate(row[ColLastUpdated]); err != nil {
		return r, fmt.Errorf("%s: %w", ColLastUpdated, err)
	}

	return r, nil
}

func columnsOf(payload extract.Payload) map[string]bool {
	cols := make(map[string]bool)
	for _, row := range payload {
		for k := range row {
			cols[k] = true
		}
	}
	return cols
}

// ratio is null when either side is null or the denominator is zero.
func ratio(num, den sql.Null[int64]) sql.Null[float64] {
	if !num.Valid || !den.Valid || den.V == 0 {
		return sql.Null[float64]{}
	}
	return sql.Null[float64]{V: float64(num.V) / float64(den.V), Valid: true}
}

func toString(v any) (sql.Null[string], error) {
	if v == nil {
		return sql.Null[string]{}, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return sql.Null[string]{}, err
	}
	return sql.Null[string]{V: s, Valid: true}, nil
}

// toCount accepts whole, non-negative numbers that fit in an int64. Strings
// are read as base 10.
func toCount(v any) (sql.Null[int64], error) {
	var n int64
	switch x := v.(type) {
	case nil:
		return sql.Null[int64]{}, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x != math.Trunc(x) {
			return sql.Null[int64]{}, fmt.Errorf("%v is not a whole number", x)
		}
		// float64(math.MaxInt64) rounds up to 2^63
		if x >= math.MaxInt64 || x < math.MinInt64 {
			return sql.Null[int64]{}, fmt.Errorf("%v is out of range", x)
		}
		n = int64(x)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return sql.Null[int64]{}, fmt.Errorf("%q is not a base 10 integer: %w", x, err)
		}
		n = i
	case bool:
		return sql.Null[int64]{}, fmt.Errorf("unexpected boolean %v", x)
	default:
		i, err := cast.ToInt64E(v)
		if err != nil {
			return sql.Null[int64]{}, err
		}
		n = i
	}

	if n < 0 {
		return sql.Null[int64]{}, fmt.Errorf("negative count %d", n)
	}
	return sql.Null[int64]{V: n, Valid: true}, nil
}

// toDate parses a timestamp and drops its time of day, keeping the calendar
// date of the timestamp's own offset.
func toDate(v any) (sql.Null[time.Time], error) {
	if v == nil {
		return sql.Null[time.Time]{}, nil
	}
	s, ok := v.(string)
	if !ok {
		return sql.Null[time.Time]{}, fmt.Errorf("expected a timestamp string, got %T", v)
	}
	if strings.TrimSpace(s) == "" {
		return sql.Null[time.Time]{}, nil
	}

	t, err := cast.ToTimeE(s)
	if err != nil {
		return sql.Null[time.Time]{}, err
	}
	y, m, d := t.Date()
	return sql.Null[time.Time]{V: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}, nil
}
