package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgov/internal/candidate"
	"github.com/rcliao/memgov/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Inspect candidate pair generation",
		Long: "Runs the candidate pipeline without classifying, printing the " +
			"surviving pairs as JSON. Useful for tuning filters and checking " +
			"recall against a labeled pair file.",
		Run: runCandidates,
	}

	cmd.Flags().Int("max-candidates", candidate.DefaultMaxCandidates, "Candidate pair budget")
	cmd.Flags().Int("window-days", candidate.DefaultWindowDays, "Recent window in days")
	cmd.Flags().Bool("sliding-window", false, "Compare all pairs across the full window")
	cmd.Flags().String("check-recall", "", "JSON file of known related id pairs to check recall against")

	RootCmd.AddCommand(cmd)
}

type candidateOutput struct {
	NewID  string   `json:"new_id"`
	OldID  string   `json:"old_id"`
	Score  float64  `json:"score"`
	Reason []string `json:"reasons"`
}

func runCandidates(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open workspace", err)
	}

	maxCandidates, _ := cmd.Flags().GetInt("max-candidates")
	windowDays, _ := cmd.Flags().GetInt("window-days")
	sliding, _ := cmd.Flags().GetBool("sliding-window")
	recallFile, _ := cmd.Flags().GetString("check-recall")

	files, warnings, err := st.LoadLayer(model.LayerSemantic)
	if err != nil {
		exitErr("load semantic layer", err)
	}
	for _, w := range warnings {
		log.WithField("file", w.File).Warn(w.Error())
	}
	var records []*model.Record
	for _, f := range files {
		records = append(records, f.Records...)
	}

	gen := candidate.New(candidate.Config{
		WindowDays:    windowDays,
		MaxCandidates: maxCandidates,
		SlidingWindow: sliding,
	}, nil, log)
	pairs, err := gen.Generate(cmd.Context(), records, time.Time{})
	if err != nil {
		exitErr("generate candidates", err)
	}

	out := make([]candidateOutput, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, candidateOutput{
			NewID:  p.Newer.ID,
			OldID:  p.Older.ID,
			Score:  p.Score,
			Reason: p.Reasons,
		})
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))

	if recallFile != "" {
		known, err := loadKnownPairs(recallFile)
		if err != nil {
			exitErr("load known pairs", err)
		}
		stats := candidate.CheckRecall(pairs, known)
		fmt.Printf("recall=%.3f found=%d missed=%d records=%d candidates=%d\n",
			stats.Recall, stats.Found, stats.Missed, len(records), len(pairs))
	}
}

func loadKnownPairs(path string) ([][2]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}
