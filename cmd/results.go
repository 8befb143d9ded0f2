package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opdbt/opdbt/internal/config"
	"github.com/opdbt/opdbt/internal/report"
	"github.com/opdbt/opdbt/internal/tui"
)

var (
	resultsRunID string
	resultsPlain bool
)

var resultsCmd = &cobra.Command{
	Use:   "results [report.json]",
	Short: "Browse the results of a run",
	Long: `Open a run report in the interactive browser. Without arguments the most
recent report in the report directory is shown; --run fetches a report by id
from the MongoDB report store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, config.KeyOutputDir)
		if err != nil {
			return err
		}

		rep, err := findReport(cmd, cfg, args)
		if err != nil {
			return err
		}

		if resultsPlain {
			fmt.Print(report.FormatText(rep))
			return nil
		}
		return tui.Browse(rep)
	},
}

func findReport(cmd *cobra.Command, cfg *config.Config, args []string) (*report.RunReport, error) {
	if len(args) == 1 {
		return report.ReadJSON(args[0])
	}

	if resultsRunID != "" {
		if cfg.Report.MongoURI == "" {
			return nil, fmt.Errorf("--run needs report.mongo_uri in the config")
		}
		store, err := report.NewMongoStore(cmd.Context(), cfg.Report.MongoURI, cfg.Report.MongoDatabase)
		if err != nil {
			return nil, err
		}
		defer store.Close(cmd.Context())
		return store.Get(cmd.Context(), resultsRunID)
	}

	path, err := report.Latest(cfg.ReportDir())
	if err != nil {
		return nil, err
	}
	return report.ReadJSON(path)
}

func init() {
	f := resultsCmd.Flags()
	f.String(config.KeyOutputDir, "", "output directory of the run")
	f.StringVar(&resultsRunID, "run", "", "run id to fetch from the report store")
	f.BoolVar(&resultsPlain, "plain", false, "print the report instead of opening the browser")
	rootCmd.AddCommand(resultsCmd)
}
