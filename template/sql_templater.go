package template

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed queries/*.sql
var queries embed.FS

const (
	CreateCovidDailyData = "create__covid_daily_data.sql"
	CreateStaging        = "create__staging.sql"
	QueryTableStats      = "query__table_stats.sql"
)

// ExecuteSqlTemplate renders one of the embedded queries with params.
// Identifiers passed in params are inserted verbatim and must be validated
// by the caller.
func ExecuteSqlTemplate(name string, params map[string]any) (string, error) {
	content, err := ReadSqlTemplate(name)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}

// ReadSqlTemplate returns the raw contents of an embedded query
func ReadSqlTemplate(name string) (string, error) {
	content, err := queries.ReadFile("queries/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read template file: %w", err)
	}
	return string(content), nil
}
