// Package cli implements the memgov CLI commands.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rcliao/memgov/internal/config"
	"github.com/rcliao/memgov/internal/store"
)

var (
	workspaceFlag string
	dryRunFlag    bool
	verboseFlag   bool

	log = logrus.New()
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memgov",
	Short: "Memory drift detection and consolidation",
	Long: "memgov governs a layered record store for a conversational agent: " +
		"it detects drift between memory records, consolidates contradictions, " +
		"rescores importance, and promotes recurring concepts to identity.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if verboseFlag {
			log.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace root (default: $MEMGOV_WORKSPACE or .)")
	RootCmd.PersistentFlags().BoolVar(&dryRunFlag, "dry-run", false, "Report intended actions without writing")
	RootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose logging")
}

func workspacePath() string {
	if workspaceFlag != "" {
		return workspaceFlag
	}
	if env := os.Getenv("MEMGOV_WORKSPACE"); env != "" {
		return env
	}
	return "."
}

func openStore() (*store.Store, error) {
	st := store.New(workspacePath())
	if err := st.EnsureLayout(); err != nil {
		return nil, err
	}
	return st, nil
}

func loadConfig(st *store.Store) config.Config {
	cfg, err := config.Load(st.ConfigDir())
	if err != nil {
		exitErr("load config", err)
	}
	return cfg
}

// withLock runs fn under the cadence run lock. A held lock is a clean skip,
// not an error: the command prints the skip marker and exits zero.
func withLock(st *store.Store, job string, fn func() error) {
	lock, err := st.AcquireLock()
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			fmt.Printf("%s skipped=lock_held\n", job)
			return
		}
		exitErr("acquire lock", err)
	}
	defer lock.Release()

	if err := fn(); err != nil {
		exitErr(job, err)
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
