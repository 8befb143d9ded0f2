package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opdbt/opdbt/internal/config"
	"github.com/opdbt/opdbt/internal/engine"
	"github.com/opdbt/opdbt/internal/report"
	"github.com/opdbt/opdbt/internal/tui"
)

var (
	runGroups []string
	runRule   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load the collection and run the transformation rules",
	Long: `Load every collected file of the input directory, run the reshape phase
and each configured execution group, then write the derived tables and a
run report. Per-file and per-rule problems are reported, not fatal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd,
			config.KeyInputDir, config.KeyOutputDir, config.KeySeparator, config.KeySchemaDetection,
			config.KeySkipValidation, config.KeyConsolidate, config.KeyRulesFile)
		if err != nil {
			return err
		}

		logger, closeLog := newLogger(cfg, os.Stderr)
		defer closeLog()

		e := engine.New(cfg, logger)
		res, err := e.Run(cmd.Context(), engine.RunOptions{Groups: runGroups, Rule: runRule})
		if err != nil {
			return err
		}

		fmt.Print(report.FormatText(res.Report))
		fmt.Println()
		fmt.Println(tui.Summary(res.Report.Summary))
		if res.ReportPath != "" {
			fmt.Printf("Report saved to: %s\n", res.ReportPath)
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.String(config.KeyInputDir, "", "directory holding the collected files")
	f.String(config.KeyOutputDir, "", "directory for derived tables (default: input dir)")
	f.String(config.KeySeparator, "", "field separator of the collected files (default \"|\")")
	f.String(config.KeySchemaDetection, "", "schema detection mode (AUTO, FILLGAP, OFF)")
	f.Bool(config.KeySkipValidation, false, "load files without structural validation")
	f.Bool(config.KeyConsolidate, false, "concatenate files of the same table")
	f.String(config.KeyRulesFile, "", "rule definition file (JSON)")
	f.StringSliceVar(&runGroups, "group", nil, "execution groups to run, in order (default: from config)")
	f.StringVar(&runRule, "rule", "", "run only this rule id")
	rootCmd.AddCommand(runCmd)
}
