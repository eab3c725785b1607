package cmd

import (
	"fmt"
	"io"

	"github.com/rasnes/covid-duckdb-etl/load"
	"github.com/rasnes/covid-duckdb-etl/pipeline"
	"github.com/rasnes/covid-duckdb-etl/utils"
	"github.com/spf13/cobra"
)

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "Creates the country tables without fetching anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}

			p, err := pipeline.NewPipeline(cfg, log, utils.RealTimeProvider{})
			if err != nil {
				log.Error(fmt.Sprintf("Error creating pipeline: %v", err))
				return err
			}
			defer p.Close()

			return p.EnsureTables(cmd.Context())
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Prints row counts and date ranges of the country tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}

			p, err := pipeline.NewPipeline(cfg, log, utils.RealTimeProvider{})
			if err != nil {
				log.Error(fmt.Sprintf("Error creating pipeline: %v", err))
				return err
			}
			defer p.Close()

			if err := p.EnsureTables(cmd.Context()); err != nil {
				return err
			}
			stats, err := p.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func printStats(w io.Writer, stats []load.TableStats) {
	fmt.Fprintf(w, "%-28s %8s  %-10s  %-10s\n", "TABLE", "ROWS", "FIRST", "LAST")
	for _, s := range stats {
		first, last := "-", "-"
		if s.FirstDate.Valid {
			first = s.FirstDate.V.Format(utils.DateLayout)
		}
		if s.LastDate.Valid {
			last = s.LastDate.V.Format(utils.DateLayout)
		}
		fmt.Fprintf(w, "%-28s %8d  %-10s  %-10s\n", s.Table, s.Rows, first, last)
	}
}
