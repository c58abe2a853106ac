package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgov/internal/candidate"
	"github.com/rcliao/memgov/internal/classify"
	"github.com/rcliao/memgov/internal/consolidate"
	"github.com/rcliao/memgov/internal/index"
	"github.com/rcliao/memgov/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Detect and consolidate memory drift",
		Long: "Generates candidate record pairs, classifies their relationship, " +
			"and applies confidence-tiered consolidation decisions to the store.",
		Run: runDrift,
	}

	cmd.Flags().Bool("use-llm", true, "Classify with the local LLM service")
	cmd.Flags().Bool("no-llm", false, "Force rule-based classification only")
	cmd.Flags().Bool("fallback-on-error", true, "Fall back to rules when the LLM service is unavailable")
	cmd.Flags().Float64("min-confidence", 0.5, "Drop classifications below this confidence")
	cmd.Flags().Duration("llm-timeout", 30*time.Second, "Per-request classifier timeout")
	cmd.Flags().String("model", classify.DefaultModel, "Classifier model name")
	cmd.Flags().Int("max-candidates", 200, "Candidate pair budget")
	cmd.Flags().Int("window-days", candidate.DefaultWindowDays, "Recent window in days")
	cmd.Flags().Bool("sliding-window", false, "Compare all pairs across the full window")
	cmd.Flags().Float64("similarity-threshold", 0, "Semantic prefilter threshold (0 disables)")

	RootCmd.AddCommand(cmd)
}

func runDrift(cmd *cobra.Command, args []string) {
	st, err := openStore()
	if err != nil {
		exitErr("open workspace", err)
	}
	cfg := loadConfig(st)

	useLLM, _ := cmd.Flags().GetBool("use-llm")
	noLLM, _ := cmd.Flags().GetBool("no-llm")
	fallback, _ := cmd.Flags().GetBool("fallback-on-error")
	minConf, _ := cmd.Flags().GetFloat64("min-confidence")
	timeout, _ := cmd.Flags().GetDuration("llm-timeout")
	modelName, _ := cmd.Flags().GetString("model")
	maxCandidates, _ := cmd.Flags().GetInt("max-candidates")
	windowDays, _ := cmd.Flags().GetInt("window-days")
	sliding, _ := cmd.Flags().GetBool("sliding-window")
	simThreshold, _ := cmd.Flags().GetFloat64("similarity-threshold")

	// Config file values apply where the flag was left at its default.
	if !cmd.Flags().Changed("use-llm") {
		useLLM = cfg.UseLLM()
	}
	if !cmd.Flags().Changed("fallback-on-error") {
		fallback = cfg.FallbackOnError()
	}
	if !cmd.Flags().Changed("model") && cfg.Drift.Model != "" {
		modelName = cfg.Drift.Model
	}
	if !cmd.Flags().Changed("llm-timeout") && cfg.Drift.LLMTimeout > 0 {
		timeout = cfg.Drift.LLMTimeout
	}
	if !cmd.Flags().Changed("min-confidence") && cfg.Drift.MinConfidence > 0 {
		minConf = cfg.Drift.MinConfidence
	}
	if !cmd.Flags().Changed("max-candidates") && cfg.Drift.MaxCandidates > 0 {
		maxCandidates = cfg.Drift.MaxCandidates
	}
	if !cmd.Flags().Changed("window-days") && cfg.Drift.WindowDays > 0 {
		windowDays = cfg.Drift.WindowDays
	}
	if !cmd.Flags().Changed("similarity-threshold") && cfg.Drift.SimilarityThreshold > 0 {
		simThreshold = cfg.Drift.SimilarityThreshold
	}
	if noLLM {
		useLLM = false
	}

	withLock(st, "drift", func() error {
		files, warnings, err := st.LoadLayer(model.LayerSemantic)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			log.WithField("file", w.File).Warn(w.Error())
		}
		var records []*model.Record
		for _, f := range files {
			records = append(records, f.Records...)
		}
		log.WithField("records", len(records)).Debug("semantic layer loaded")

		var searcher candidate.Searcher
		if simThreshold > 0 {
			idx, err := index.Open(filepath.Join(st.StateDir(), "semantic-index.db"))
			if err != nil {
				log.WithError(err).Warn("semantic index unavailable, using lexical fallback")
			} else {
				defer idx.Close()
				if err := idx.Rebuild(cmd.Context(), records); err != nil {
					log.WithError(err).Warn("index rebuild failed, using lexical fallback")
				} else {
					searcher = idx
				}
			}
		}

		gen := candidate.New(candidate.Config{
			WindowDays:          windowDays,
			OlderWindowDays:     cfg.Drift.OlderWindowDays,
			SimilarityThreshold: simThreshold,
			MaxCandidates:       maxCandidates,
			SlidingWindow:       sliding,
		}, searcher, log)
		pairs, err := gen.Generate(cmd.Context(), records, time.Time{})
		if err != nil {
			return err
		}
		log.WithField("pairs", len(pairs)).Info("candidates generated")

		var classifier classify.Classifier
		if useLLM {
			classifier = classify.NewLLMClassifier(modelName, timeout, log)
		} else {
			classifier = classify.NewRuleClassifier()
		}
		cached := classify.NewCachedClassifier(classifier, 0, 0)

		engine := consolidate.NewEngine(st, cached, log)
		report, err := engine.Run(cmd.Context(), files, pairs, consolidate.Options{
			DryRun:          dryRunFlag,
			FallbackOnError: fallback,
			MinConfidence:   minConf,
		})
		if err != nil {
			return err
		}
		fmt.Printf("drift %s\n", report.Summary())
		return nil
	})
}
