package config

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Extract       ExtractConfig
	CoronaTracker CoronaTrackerConfig `mapstructure:"coronatracker"`
	Countries     []CountryConfig     `mapstructure:"countries"`
	Snapshot      SnapshotConfig
	Store         StoreConfig
	DuckDB        DuckDBConfig
	SQLite        SQLiteConfig
	Log           LogConfig
	Env           string
}

type ExtractConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Backoff BackoffConfig
}

type BackoffConfig struct {
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	RetryMax     int           `mapstructure:"retry_max"`
}

type CoronaTrackerConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	LookbackDays int    `mapstructure:"lookback_days"`
}

// CountryConfig describes one data source and where its rows end up.
type CountryConfig struct {
	Code     string `mapstructure:"code"`
	Name     string `mapstructure:"name"`
	Table    string `mapstructure:"table"`
	Snapshot string `mapstructure:"snapshot"`
}

type SnapshotConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	OnConflict string `mapstructure:"on_conflict"`
}

type DuckDBConfig struct {
	Path              string   `mapstructure:"path"`
	ConnInitFnQueries []string `mapstructure:"conn_init_fn_queries"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"

	OnConflictSkip   = "skip"
	OnConflictUpsert = "upsert"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// DefaultCountries are the three sources the job has always collected.
func DefaultCountries() []CountryConfig {
	return []CountryConfig{
		{Code: "GB", Name: "United Kingdom", Table: "covid_daily_data_uk", Snapshot: "data_uk.json"},
		{Code: "US", Name: "United States", Table: "covid_daily_data_us", Snapshot: "data_us.json"},
		{Code: "MY", Name: "Malaysia", Table: "covid_daily_data_my", Snapshot: "data_my.json"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("extract.timeout", 30*time.Second)
	v.SetDefault("extract.backoff.retry_wait_min", time.Second)
	v.SetDefault("extract.backoff.retry_wait_max", 30*time.Second)
	v.SetDefault("extract.backoff.retry_max", 0)
	v.SetDefault("coronatracker.base_url", "http://api.coronatracker.com/v5/analytics/trend/country")
	v.SetDefault("coronatracker.lookback_days", 0)
	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.dir", ".")
	v.SetDefault("store.driver", DriverDuckDB)
	v.SetDefault("store.on_conflict", OnConflictSkip)
	v.SetDefault("duckdb.path", "covid_daily_data.duckdb")
	v.SetDefault("sqlite.path", "covid_daily_data.sqlite")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	countries := make([]map[string]any, 0, 3)
	for _, c := range DefaultCountries() {
		countries = append(countries, map[string]any{
			"code":     c.Code,
			"name":     c.Name,
			"table":    c.Table,
			"snapshot": c.Snapshot,
		})
	}
	v.SetDefault("countries", countries)
}

// NewConfig loads the configuration from the provided base config reader
// and merges it with the environment-specific configuration.
// Keys can be overridden with COVID_ prefixed environment variables,
// e.g. COVID_DUCKDB_PATH.
func NewConfig(baseConfigReader io.Reader, envConfigReader io.Reader, env string) (*Config, error) {
	if env == "" { // Use the provided 'env' or default to "dev"
		env = "dev"
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("COVID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if baseConfigReader != nil {
		if err := v.ReadConfig(baseConfigReader); err != nil {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Merge with environment-specific configuration (only if provided)
	if envConfigReader != nil {
		if err := v.MergeConfig(envConfigReader); err != nil {
			return nil, fmt.Errorf("error merging %s config: %w", env, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	config.Env = env
	for i := range config.Countries {
		config.Countries[i].Code = strings.ToUpper(strings.TrimSpace(config.Countries[i].Code))
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate reports every problem found rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Countries) == 0 {
		errs = append(errs, errors.New("at least one country must be configured"))
	}
	codes := make(map[string]bool)
	tables := make(map[string]bool)
	for i, country := range c.Countries {
		if country.Code == "" {
			errs = append(errs, fmt.Errorf("countries[%d]: code is required", i))
		} else if codes[country.Code] {
			errs = append(errs, fmt.Errorf("countries[%d]: duplicate code %s", i, country.Code))
		}
		codes[country.Code] = true

		if !identifier.MatchString(country.Table) {
			errs = append(errs, fmt.Errorf("countries[%d]: table %q is not a valid identifier", i, country.Table))
		} else if tables[country.Table] {
			errs = append(errs, fmt.Errorf("countries[%d]: duplicate table %s", i, country.Table))
		}
		tables[country.Table] = true

		if c.Snapshot.Enabled && strings.TrimSpace(country.Snapshot) == "" {
			errs = append(errs, fmt.Errorf("countries[%d]: snapshot file name is required", i))
		}
	}

	if c.CoronaTracker.BaseURL == "" {
		errs = append(errs, errors.New("coronatracker.base_url must not be empty"))
	}
	if c.CoronaTracker.LookbackDays < 0 {
		errs = append(errs, errors.New("coronatracker.lookback_days must be >= 0"))
	}
	if c.Extract.Backoff.RetryMax < 0 {
		errs = append(errs, errors.New("extract.backoff.retry_max must be >= 0"))
	}

	switch c.Store.Driver {
	case DriverDuckDB, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of %s, %s: got %q", DriverDuckDB, DriverSQLite, c.Store.Driver))
	}
	switch c.Store.OnConflict {
	case OnConflictSkip, OnConflictUpsert:
	default:
		errs = append(errs, fmt.Errorf("store.on_conflict must be one of %s, %s: got %q", OnConflictSkip, OnConflictUpsert, c.Store.OnConflict))
	}

	return errors.Join(errs...)
}
