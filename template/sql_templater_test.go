package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecuteSqlTemplate(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		params     map[string]any
		want       string
		wantErr    bool
		errMessage string
	}{
		{
			name:   "create staging",
			file:   CreateStaging,
			params: map[string]any{"Table": "covid_daily_data_uk", "Staging": "covid_daily_data_uk__staging"},
			want:   "CREATE OR REPLACE TABLE covid_daily_data_uk__staging AS\nSELECT * FROM covid_daily_data_uk LIMIT 0;\n",
		},
		{
			name:       "missing parameter",
			file:       CreateStaging,
			params:     map[string]any{"Table": "covid_daily_data_uk"},
			wantErr:    true,
			errMessage: "failed to execute template",
		},
		{
			name:       "unknown template",
			file:       "nonexistent.sql",
			params:     map[string]any{},
			wantErr:    true,
			errMessage: "failed to read template file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExecuteSqlTemplate(tt.file, tt.params)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMessage != "" {
					assert.Contains(t, err.Error(), tt.errMessage)
				}
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, result)
			}
		})
	}
}

func TestExecuteSqlTemplate_CreateTable(t *testing.T) {
	result, err := ExecuteSqlTemplate(CreateCovidDailyData, map[string]any{"Table": "covid_daily_data_my"})
	assert.NoError(t, err)
	assert.Contains(t, result, "CREATE TABLE IF NOT EXISTS covid_daily_data_my (")
	assert.Contains(t, result, "last_updated    DATE PRIMARY KEY")
	for _, col := range []string{"country", "total_confirmed", "total_deaths", "total_recovered", "death_rate", "recovery_rate"} {
		assert.Contains(t, result, col)
	}
}

func TestExecuteSqlTemplate_TableStatsIsSingleStatement(t *testing.T) {
	result, err := ExecuteSqlTemplate(QueryTableStats, map[string]any{"Table": "covid_daily_data_us"})
	assert.NoError(t, err)
	assert.Contains(t, result, "FROM covid_daily_data_us")
	assert.NotContains(t, result, ";")
}

func TestReadSqlTemplate(t *testing.T) {
	content, err := ReadSqlTemplate(QueryTableStats)
	assert.NoError(t, err)
	assert.Contains(t, content, "{{.Table}}")

	_, err = ReadSqlTemplate("nonexistent.sql")
	assert.Error(t, err)
}
