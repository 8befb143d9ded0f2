package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opdbt/opdbt/internal/config"
	"github.com/opdbt/opdbt/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the rule definition file",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules by execution group and priority",
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := loadRules(cmd)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "GROUP\tPRIORITY\tRULE\tSTATUS\tTYPE\tACTION")
		for _, r := range sortedRules(rs) {
			typ, act := r.Action.Kind()
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", r.ExecutionGroup, r.Priority, r.ID, r.Status, typ, act)
		}
		return w.Flush()
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the rule file and report unsupported actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := loadRules(cmd)
		if err != nil {
			return err
		}

		unsupported := 0
		disabled := 0
		for _, r := range sortedRules(rs) {
			if !r.Enabled() {
				disabled++
			}
			if u, ok := r.Action.(rules.UnsupportedAction); ok {
				typ, act := u.Kind()
				fmt.Printf("  [UNSUPPORTED] %s: type %q action %q\n", r.ID, typ, act)
				unsupported++
			}
		}
		fmt.Printf("%d rules, %d disabled, %d unsupported\n", len(rs), disabled, unsupported)
		return nil
	},
}

func loadRules(cmd *cobra.Command) (rules.RuleSet, error) {
	cfg, err := loadConfig(cmd, config.KeyRulesFile)
	if err != nil {
		return nil, err
	}
	if cfg.RulesFile == "" {
		return nil, fmt.Errorf("no rules file configured (use --rules)")
	}
	return rules.Load(cfg.RulesFile)
}

func sortedRules(rs rules.RuleSet) []*rules.Rule {
	list := make([]*rules.Rule, 0, len(rs))
	for _, r := range rs {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.ExecutionGroup != b.ExecutionGroup {
			return a.ExecutionGroup < b.ExecutionGroup
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
	return list
}

func init() {
	rulesCmd.PersistentFlags().String(config.KeyRulesFile, "", "rule definition file (JSON)")
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rootCmd.AddCommand(rulesCmd)
}
