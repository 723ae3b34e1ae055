package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/medical-control-plane/backend/internal/evaluation"
	"github.com/medical-control-plane/backend/internal/intent"
	"github.com/medical-control-plane/backend/internal/llm"
	"github.com/medical-control-plane/backend/pkg/config"
	"github.com/medical-control-plane/backend/pkg/logger"
)

var (
	datasetPath string
	useLLM      bool
	asJSON      bool
	minAccuracy float64
)

var rootCmd = &cobra.Command{
	Use:   "medcp-eval",
	Short: "Evaluate the intent classifier against a labelled dataset",
	Long: `Runs every query in a JSON dataset through the intent classifier and
reports accuracy, per-intent precision and recall, and emergency recall.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&datasetPath, "dataset", "d", "", "path to the evaluation dataset (JSON)")
	rootCmd.Flags().BoolVar(&useLLM, "llm", false, "enable the LLM fallback stage when an API key is configured")
	rootCmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	rootCmd.Flags().Float64Var(&minAccuracy, "min-accuracy", 0, "exit non-zero when accuracy falls below this fraction")
	rootCmd.MarkFlagRequired("dataset")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, "stdout"); err != nil {
		return err
	}
	defer logger.Sync()

	dataset, err := evaluation.LoadDatasetFile(datasetPath)
	if err != nil {
		return err
	}

	var completer intent.Completer
	if useLLM {
		client := llm.NewClient(llm.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		})
		if client.Configured() {
			completer = client
		} else {
			fmt.Fprintln(cmd.ErrOrStderr(), "LLM API key not configured; running keyword and NLU stages only")
		}
	}

	classifier := intent.NewClassifier(intent.Config{
		NLUConfidenceFloor: cfg.Intent.NLUConfidenceFloor,
		ToolConfidence:     cfg.Intent.ToolConfidence,
	}, completer)

	report := evaluation.NewEvaluator(classifier).Run(context.Background(), dataset)

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, evaluation.GenerateReport(report))
	}

	if minAccuracy > 0 && report.Accuracy < minAccuracy {
		return fmt.Errorf("accuracy %.3f is below the required %.3f", report.Accuracy, minAccuracy)
	}
	return nil
}
