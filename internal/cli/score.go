package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgov/internal/scorer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Rescore record importance",
		Long: "Recomputes importance from goal, recurrence, utility, preference " +
			"and novelty signals, with durability-aware recency decay.",
		Run: runScore,
	}

	cmd.Flags().Int("window-days", scorer.DefaultWindowDays, "Rescore records within this window")
	cmd.Flags().Int("half-life-days", scorer.DefaultHalfLifeDays, "Recency decay half life")
	cmd.Flags().Float64("alpha", scorer.DefaultAlpha, "Smoothing factor for importance updates")
	cmd.Flags().Int("max-updates", scorer.DefaultMaxUpdates, "Bounded updates per run")
	cmd.Flags().String("alias-file", "concept_aliases.json", "Concept alias table, relative to the workspace config dir")

	RootCmd.AddCommand(cmd)
}

func runScore(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open workspace", err)
	}
	cfg := loadConfig(st)

	windowDays, _ := cmd.Flags().GetInt("window-days")
	halfLife, _ := cmd.Flags().GetInt("half-life-days")
	alpha, _ := cmd.Flags().GetFloat64("alpha")
	maxUpdates, _ := cmd.Flags().GetInt("max-updates")
	aliasFile, _ := cmd.Flags().GetString("alias-file")

	if !cmd.Flags().Changed("window-days") && cfg.Score.WindowDays > 0 {
		windowDays = cfg.Score.WindowDays
	}
	if !cmd.Flags().Changed("half-life-days") && cfg.Score.HalfLifeDays > 0 {
		halfLife = cfg.Score.HalfLifeDays
	}
	if !cmd.Flags().Changed("alpha") && cfg.Score.Alpha > 0 {
		alpha = cfg.Score.Alpha
	}
	if !cmd.Flags().Changed("max-updates") && cfg.Score.MaxUpdates > 0 {
		maxUpdates = cfg.Score.MaxUpdates
	}

	withLock(st, "score", func() error {
		aliases := scorer.LoadAliases(filepath.Join(st.ConfigDir(), aliasFile))
		report, err := scorer.Run(st, aliases, scorer.Config{
			WindowDays:   windowDays,
			HalfLifeDays: halfLife,
			Alpha:        alpha,
			MaxUpdates:   maxUpdates,
			DryRun:       dryRunFlag,
		}, log)
		if err != nil {
			return err
		}
		fmt.Printf("score %s\n", report.Summary())
		return nil
	})
}
