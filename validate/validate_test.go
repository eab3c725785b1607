package validate

import (
	"bytes"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/rasnes/covid-duckdb-etl/transform"
	"github.com/stretchr/testify/assert"
)

func record(day int) transform.DailyRecord {
	return transform.DailyRecord{
		LastUpdated:    sql.Null[time.Time]{V: time.Date(2021, 9, day, 0, 0, 0, 0, time.UTC), Valid: true},
		Country:        sql.Null[string]{V: "United Kingdom", Valid: true},
		TotalConfirmed: sql.Null[int64]{V: 100, Valid: true},
		TotalDeaths:    sql.Null[int64]{V: 2, Valid: true},
		TotalRecovered: sql.Null[int64]{V: 90, Valid: true},
		DeathRate:      sql.Null[float64]{V: 0.02, Valid: true},
		RecoveryRate:   sql.Null[float64]{V: 0.9, Valid: true},
	}
}

func TestCheck(t *testing.T) {
	withNull := record(21)
	withNull.TotalRecovered = sql.Null[int64]{}

	tests := []struct {
		name        string
		records     transform.RecordSet
		wantValid   bool
		wantErr     error
		errContains string
	}{
		{
			name:      "single valid row",
			records:   transform.RecordSet{record(20)},
			wantValid: true,
		},
		{
			name:      "several days",
			records:   transform.RecordSet{record(18), record(19), record(20)},
			wantValid: true,
		},
		{
			name:      "empty is a soft failure",
			records:   transform.RecordSet{},
			wantValid: false,
		},
		{
			name:        "null value",
			records:     transform.RecordSet{record(20), withNull},
			wantErr:     ErrNullValues,
			errContains: "row 1 has no value for total_recovered",
		},
		{
			name:        "duplicate key",
			records:     transform.RecordSet{record(20), record(21), record(20)},
			wantErr:     ErrPrimaryKey,
			errContains: "last_updated 2021-09-20 appears in rows 0 and 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			valid, err := Check(tt.records, slog.New(slog.NewTextHandler(&buf, nil)))

			assert.Equal(t, tt.wantValid, valid)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrDataQuality)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheck_LogsEmpty(t *testing.T) {
	var buf bytes.Buffer
	valid, err := Check(nil, slog.New(slog.NewTextHandler(&buf, nil)))
	assert.False(t, valid)
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "No data downloaded")
}
