package transform

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rasnes/covid-duckdb-etl/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ukRow() map[string]any {
	return map[string]any{
		"last_updated":    "2021-09-20T00:00:00",
		"country_code":    "GB",
		"country":         "United Kingdom",
		"total_confirmed": float64(100),
		"total_deaths":    float64(2),
		"total_recovered": float64(90),
	}
}

func without(row map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func with(row map[string]any, key string, value any) map[string]any {
	out := without(row)
	out[key] = value
	return out
}

func TestClean_SingleUKDay(t *testing.T) {
	got, err := Clean(extract.Payload{ukRow()})
	require.NoError(t, err)
	require.Len(t, got, 1)

	want := DailyRecord{
		LastUpdated:    sql.Null[time.Time]{V: time.Date(2021, 9, 20, 0, 0, 0, 0, time.UTC), Valid: true},
		Country:        sql.Null[string]{V: "United Kingdom", Valid: true},
		TotalConfirmed: sql.Null[int64]{V: 100, Valid: true},
		TotalDeaths:    sql.Null[int64]{V: 2, Valid: true},
		TotalRecovered: sql.Null[int64]{V: 90, Valid: true},
		DeathRate:      sql.Null[float64]{V: 0.02, Valid: true},
		RecoveryRate:   sql.Null[float64]{V: 0.9, Valid: true},
	}
	assert.Equal(t, want, got[0])
	assert.Empty(t, got[0].NullColumns())
}

func TestClean_RatesForEveryRow(t *testing.T) {
	payload := extract.Payload{
		ukRow(),
		with(with(with(ukRow(), "last_updated", "2021-09-21T00:00:00"), "total_confirmed", float64(400)), "total_deaths", float64(10)),
		with(with(ukRow(), "last_updated", "2021-09-22T00:00:00"), "total_recovered", float64(33)),
	}

	got, err := Clean(payload)
	require.NoError(t, err)
	require.Len(t, got, 3)

	for _, r := range got {
		assert.InDelta(t, float64(r.TotalDeaths.V)/float64(r.TotalConfirmed.V), r.DeathRate.V, 1e-12)
		assert.InDelta(t, float64(r.TotalRecovered.V)/float64(r.TotalConfirmed.V), r.RecoveryRate.V, 1e-12)
	}
	assert.InDelta(t, 0.025, got[1].DeathRate.V, 1e-12)
	assert.InDelta(t, 0.33, got[2].RecoveryRate.V, 1e-12)
}

func TestClean_SchemaErrors(t *testing.T) {
	tests := []struct {
		name        string
		payload     extract.Payload
		errContains string
	}{
		{
			name:        "missing identifier column",
			payload:     extract.Payload{without(ukRow(), "country_code")},
			errContains: "no country_code column found",
		},
		{
			name:        "missing deaths and recovered",
			payload:     extract.Payload{without(ukRow(), "total_deaths", "total_recovered")},
			errContains: "no applicable columns for death_rate and recovery_rate",
		},
		{
			name:        "missing deaths only",
			payload:     extract.Payload{without(ukRow(), "total_deaths")},
			errContains: "no applicable columns",
		},
		{
			name:        "missing confirmed",
			payload:     extract.Payload{without(ukRow(), "total_confirmed")},
			errContains: "no total_confirmed column found",
		},
		{
			name:        "missing timestamp",
			payload:     extract.Payload{without(ukRow(), "last_updated")},
			errContains: "no last_updated column found",
		},
		{
			name:        "fractional count",
			payload:     extract.Payload{with(ukRow(), "total_deaths", 2.5)},
			errContains: "row 0: total_deaths",
		},
		{
			name:        "non-numeric count",
			payload:     extract.Payload{with(ukRow(), "total_confirmed", "many")},
			errContains: "row 0: total_confirmed",
		},
		{
			name:        "count beyond int64",
			payload:     extract.Payload{with(ukRow(), "total_confirmed", 1e19)},
			errContains: "row 0: total_confirmed: 1e+19 is out of range",
		},
		{
			name:        "negative count",
			payload:     extract.Payload{with(ukRow(), "total_deaths", float64(-5))},
			errContains: "row 0: total_deaths: negative count -5",
		},
		{
			name:        "negative string count",
			payload:     extract.Payload{with(ukRow(), "total_recovered", "-5")},
			errContains: "row 0: total_recovered: negative count -5",
		},
		{
			name:        "hex string count",
			payload:     extract.Payload{with(ukRow(), "total_confirmed", "0x10")},
			errContains: "row 0: total_confirmed",
		},
		{
			name:        "unparseable timestamp",
			payload:     extract.Payload{with(ukRow(), "last_updated", "20th of September")},
			errContains: "row 0: last_updated",
		},
		{
			name:        "numeric timestamp",
			payload:     extract.Payload{with(ukRow(), "last_updated", float64(1632096000))},
			errContains: "expected a timestamp string",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Clean(tt.payload)
			assert.ErrorIs(t, err, ErrSchema)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestClean_StringCountsAreDecimal(t *testing.T) {
	got, err := Clean(extract.Payload{with(with(ukRow(), "total_confirmed", "010"), "total_deaths", " 2 ")})
	require.NoError(t, err)
	assert.Equal(t, int64(10), got[0].TotalConfirmed.V)
	assert.Equal(t, int64(2), got[0].TotalDeaths.V)
	assert.InDelta(t, 0.2, got[0].DeathRate.V, 1e-12)
}

func TestClean_ColumnPresentInAnyRow(t *testing.T) {
	// the second row lacks total_deaths, the column still exists
	payload := extract.Payload{
		ukRow(),
		with(without(ukRow(), "total_deaths"), "last_updated", "2021-09-21T00:00:00"),
	}

	got, err := Clean(payload)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"total_deaths", "death_rate"}, got[1].NullColumns())
}

func TestClean_Nulls(t *testing.T) {
	payload := extract.Payload{
		with(ukRow(), "country", nil),
		with(ukRow(), "last_updated", ""),
		with(ukRow(), "total_confirmed", float64(0)),
	}

	got, err := Clean(payload)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"country"}, got[0].NullColumns())
	assert.Equal(t, []string{"last_updated"}, got[1].NullColumns())
	// rates are undefined without confirmed cases
	assert.Equal(t, []string{"death_rate", "recovery_rate"}, got[2].NullColumns())
}

func TestClean_NormalizesDates(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2021-09-20T00:00:00", time.Date(2021, 9, 20, 0, 0, 0, 0, time.UTC)},
		{"2021-09-20T17:45:12", time.Date(2021, 9, 20, 0, 0, 0, 0, time.UTC)},
		{"2021-09-20T23:30:00+08:00", time.Date(2021, 9, 20, 0, 0, 0, 0, time.UTC)},
		{"2021-09-20 06:00:00", time.Date(2021, 9, 20, 0, 0, 0, 0, time.UTC)},
		{"2021-09-20", time.Date(2021, 9, 20, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Clean(extract.Payload{with(ukRow(), "last_updated", tt.input)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got[0].LastUpdated.V)
		})
	}
}

func TestClean_Empty(t *testing.T) {
	got, err := Clean(extract.Payload{})
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestDailyRecord_Values(t *testing.T) {
	got, err := Clean(extract.Payload{ukRow()})
	require.NoError(t, err)

	assert.Equal(t, []any{
		time.Date(2021, 9, 20, 0, 0, 0, 0, time.UTC),
		"United Kingdom",
		int64(100),
		int64(2),
		int64(90),
		0.02,
		0.9,
	}, got[0].Values())
}
