package cmd

import (
	"fmt"

	"github.com/rasnes/covid-duckdb-etl/load"
	"github.com/rasnes/covid-duckdb-etl/pipeline"
	"github.com/rasnes/covid-duckdb-etl/utils"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetches, cleans, validates and appends today's statistics for every country",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}

			var timeProvider utils.TimeProvider = utils.RealTimeProvider{}
			if date != "" {
				fixed, err := utils.ParseRunDate(date)
				if err != nil {
					return err
				}
				timeProvider = fixed
			}

			p, err := pipeline.NewPipeline(cfg, log, timeProvider)
			if err != nil {
				log.Error(fmt.Sprintf("Error creating pipeline: %v", err))
				return err
			}
			defer p.Close()

			report, err := p.Run(cmd.Context())
			if err != nil {
				p.Logger.Error(fmt.Sprintf("Error running pipeline: %v", err))
				return err
			}

			p.Logger.Info("Batch job completed without errors",
				"start_date", report.StartDate,
				"end_date", report.EndDate,
				"inserted", report.Count(load.Inserted),
				"skipped_duplicate", report.Count(load.SkippedDuplicate),
				"failed", report.Count(load.Failed),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "run as if today were this date (YYYY-MM-DD)")
	return cmd
}
