package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgov/internal/consolidate"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run daily consolidation",
		Long: "Merges exact-duplicate semantic records and marks records whose " +
			"valid_until date has passed as historical.",
		Run: runConsolidate,
	}

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open workspace", err)
	}

	withLock(st, "consolidate", func() error {
		report, err := consolidate.Daily(st, time.Now().UTC(), dryRunFlag, log)
		if err != nil {
			return err
		}
		fmt.Printf("consolidate deduped=%d expired=%d dry_run=%t\n",
			report.Deduped, report.Expired, report.DryRun)
		return nil
	})
}
