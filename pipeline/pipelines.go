package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/rasnes/covid-duckdb-etl/config"
	"github.com/rasnes/covid-duckdb-etl/extract"
	"github.com/rasnes/covid-duckdb-etl/load"
	"github.com/rasnes/covid-duckdb-etl/transform"
	"github.com/rasnes/covid-duckdb-etl/utils"
	"github.com/rasnes/covid-duckdb-etl/validate"
)

type Pipeline struct {
	Store        load.Store
	Client       *extract.CoronaTrackerClient
	Snapshots    *extract.SnapshotWriter // nil when snapshots are disabled
	Logger       *slog.Logger
	Countries    []config.CountryConfig
	Policy       load.ConflictPolicy
	LookbackDays int
	RunID        string
	timeProvider utils.TimeProvider
}

// CountryReport is what happened to one country during a run.
type CountryReport struct {
	Country  config.CountryConfig
	Records  int
	Snapshot string
	// Valid is false when the country returned no data and was not loaded.
	Valid bool
	Load  load.LoadResult
}

type RunReport struct {
	RunID     string
	StartDate string
	EndDate   string
	Countries []CountryReport
}

// Count returns how many countries ended with the given load status.
// Countries that were never loaded are not counted.
func (r RunReport) Count(status load.LoadStatus) int {
	n := 0
	for _, c := range r.Countries {
		if c.Valid && c.Load.Status == status {
			n++
		}
	}
	return n
}

func NewPipeline(config *config.Config, logger *slog.Logger, timeProvider utils.TimeProvider) (*Pipeline, error) {
	runID := ulid.Make().String()
	logger = logger.With("run_id", runID)

	store, err := load.NewStore(config, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating %s store: %w", config.Store.Driver, err)
	}

	p, err := newPipeline(config, logger, timeProvider, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	p.RunID = runID
	return p, nil
}

func newPipeline(config *config.Config, logger *slog.Logger, timeProvider utils.TimeProvider, store load.Store) (*Pipeline, error) {
	httpClient, err := extract.NewCoronaTrackerClient(config, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating coronatracker HTTP client: %w", err)
	}

	var snapshots *extract.SnapshotWriter
	if config.Snapshot.Enabled {
		snapshots = extract.NewSnapshotWriter(config.Snapshot, logger)
	}

	policy := load.ConflictPolicy(config.Store.OnConflict)
	if policy == "" {
		policy = load.Skip
	}

	return &Pipeline{
		Store:        store,
		Client:       httpClient,
		Snapshots:    snapshots,
		Logger:       logger,
		Countries:    config.Countries,
		Policy:       policy,
		LookbackDays: config.CoronaTracker.LookbackDays,
		timeProvider: timeProvider,
	}, nil
}

func (p *Pipeline) Close() {
	p.Store.Close()
}

func (p *Pipeline) Tables() []string {
	tables := make([]string, len(p.Countries))
	for i, c := range p.Countries {
		tables[i] = c.Table
	}
	return tables
}

func (p *Pipeline) EnsureTables(ctx context.Context) error {
	if err := p.Store.EnsureTables(ctx, p.Tables()); err != nil {
		return fmt.Errorf("error creating destination tables: %w", err)
	}
	return nil
}

// Status returns row counts and date ranges of every country table.
func (p *Pipeline) Status(ctx context.Context) ([]load.TableStats, error) {
	stats := make([]load.TableStats, 0, len(p.Countries))
	for _, table := range p.Tables() {
		s, err := p.Store.TableStats(ctx, table)
		if err != nil {
			return stats, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// Run executes one batch: fetch, snapshot, clean and validate every
// country, then load the valid ones. Each stage completes for all countries
// before the next starts, so a fatal error in any country stops the run
// before anything is written to the store.
func (p *Pipeline) Run(ctx context.Context) (RunReport, error) {
	start, end := utils.DateWindow(p.timeProvider.Now(), p.LookbackDays)
	report := RunReport{
		RunID:     p.RunID,
		StartDate: start,
		EndDate:   end,
		Countries: make([]CountryReport, len(p.Countries)),
	}
	for i, c := range p.Countries {
		report.Countries[i].Country = c
	}

	p.Logger.Info(fmt.Sprintf("Fetching %d countries from %s to %s", len(p.Countries), start, end))

	bodies := make([][]byte, len(p.Countries))
	payloads := make([]extract.Payload, len(p.Countries))
	for i, c := range p.Countries {
		body, err := p.Client.GetCountryTrend(ctx, c.Code, start, end)
		if err != nil {
			return report, fmt.Errorf("error fetching %s: %w", c.Name, err)
		}
		payload, err := extract.ParseTrend(body)
		if err != nil {
			return report, fmt.Errorf("error parsing %s: %w", c.Name, err)
		}
		bodies[i] = body
		payloads[i] = payload
	}

	if p.Snapshots != nil {
		for i, c := range p.Countries {
			path, err := p.Snapshots.Write(c, bodies[i])
			if err != nil {
				p.Logger.Warn("Error writing raw snapshot", "country", c.Code, "error", err)
				continue
			}
			report.Countries[i].Snapshot = path
		}
	}

	recordSets := make([]transform.RecordSet, len(p.Countries))
	for i, c := range p.Countries {
		records, err := transform.Clean(payloads[i])
		if err != nil {
			return report, fmt.Errorf("error cleaning %s: %w", c.Name, err)
		}
		recordSets[i] = records
		report.Countries[i].Records = len(records)
	}

	for i, c := range p.Countries {
		valid, err := validate.Check(recordSets[i], p.Logger.With("country", c.Code))
		if err != nil {
			return report, fmt.Errorf("error validating %s: %w", c.Name, err)
		}
		report.Countries[i].Valid = valid
	}

	if err := p.EnsureTables(ctx); err != nil {
		return report, err
	}

	for i, c := range p.Countries {
		if !report.Countries[i].Valid {
			continue
		}
		res := p.Store.Append(ctx, c.Table, recordSets[i], p.Policy)
		report.Countries[i].Load = res

		switch res.Status {
		case load.Failed:
			p.Logger.Error(fmt.Sprintf("Failed to load %s", c.Name), res.LogAttrs()...)
		case load.SkippedDuplicate:
			p.Logger.Info(fmt.Sprintf("Rows for %s already loaded", c.Name), res.LogAttrs()...)
		default:
			p.Logger.Info(fmt.Sprintf("Loaded %s", c.Name), res.LogAttrs()...)
		}
	}

	return report, nil
}
