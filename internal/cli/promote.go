package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgov/internal/promote"
)

func init() {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote recurring concepts to identity",
		Long: "Lifts recurring high-importance semantic records into the " +
			"identity layer, routed by tag to identity, preferences or decisions.",
		Run: runPromote,
	}

	cmd.Flags().Int("window-days", promote.DefaultWindowDays, "Consider semantic records within this window")
	cmd.Flags().Float64("min-importance", promote.DefaultMinImportance, "Minimum best importance per group")
	cmd.Flags().Int("min-recurrence", promote.DefaultMinRecurrence, "Minimum occurrences per group")
	cmd.Flags().Int("min-distinct-days", promote.DefaultMinDays, "Require recurrence across distinct days")
	cmd.Flags().Int("min-age-days", promote.DefaultMinAgeDays, "Minimum age of the earliest evidence")
	cmd.Flags().Int("max-groups", promote.DefaultMaxGroups, "Bound concept groups processed per run")

	RootCmd.AddCommand(cmd)
}

func runPromote(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open workspace", err)
	}
	cfg := loadConfig(st)

	windowDays, _ := cmd.Flags().GetInt("window-days")
	minImportance, _ := cmd.Flags().GetFloat64("min-importance")
	minRecurrence, _ := cmd.Flags().GetInt("min-recurrence")
	minDays, _ := cmd.Flags().GetInt("min-distinct-days")
	minAge, _ := cmd.Flags().GetInt("min-age-days")
	maxGroups, _ := cmd.Flags().GetInt("max-groups")

	if !cmd.Flags().Changed("window-days") && cfg.Promote.WindowDays > 0 {
		windowDays = cfg.Promote.WindowDays
	}
	if !cmd.Flags().Changed("min-importance") && cfg.Promote.MinImportance > 0 {
		minImportance = cfg.Promote.MinImportance
	}
	if !cmd.Flags().Changed("min-recurrence") && cfg.Promote.MinRecurrence > 0 {
		minRecurrence = cfg.Promote.MinRecurrence
	}
	if !cmd.Flags().Changed("max-groups") && cfg.Promote.MaxGroups > 0 {
		maxGroups = cfg.Promote.MaxGroups
	}

	withLock(st, "promote", func() error {
		report, err := promote.Run(st, promote.Config{
			WindowDays:    windowDays,
			MinImportance: minImportance,
			MinRecurrence: minRecurrence,
			MinDays:       minDays,
			MinAgeDays:    minAge,
			MaxGroups:     maxGroups,
			DryRun:        dryRunFlag,
		}, log)
		if err != nil {
			return err
		}
		fmt.Printf("promote %s\n", report.Summary())
		return nil
	})
}
