package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgov/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

type layerStats struct {
	Files   int            `json:"files"`
	Records int            `json:"records"`
	Status  map[string]int `json:"status"`
}

type storeStats struct {
	Layers     map[string]layerStats `json:"layers"`
	AuditLines int                   `json:"audit_lines"`
	Reviews    int                   `json:"pending_reviews"`
}

func runStats(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open workspace", err)
	}

	stats := storeStats{Layers: map[string]layerStats{}}
	for _, layer := range []string{model.LayerIdentity, model.LayerSemantic, model.LayerEpisodic} {
		files, warnings, err := st.LoadLayer(layer)
		if err != nil {
			exitErr("load layer "+layer, err)
		}
		for _, w := range warnings {
			log.WithField("file", w.File).Warn(w.Error())
		}
		ls := layerStats{Files: len(files), Status: map[string]int{}}
		for _, f := range files {
			ls.Records += len(f.Records)
			for _, r := range f.Records {
				ls.Status[r.Status]++
			}
		}
		stats.Layers[layer] = ls
	}

	lines, err := st.ReadAuditLines()
	if err != nil {
		exitErr("read audit log", err)
	}
	stats.AuditLines = len(lines)

	reviews, err := st.LoadReviewQueue()
	if err != nil {
		exitErr("read review queue", err)
	}
	stats.Reviews = len(reviews)

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
