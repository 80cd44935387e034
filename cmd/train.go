package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhollis/veil/internal/train"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Build a model resource from redacted document pairs",
	Long: `Run the training pipeline: load (original, redacted) pairs,
recover labeled spans, split into train/dev sets, and build a versioned
model resource for the configured recognizer provider.

For the ollama provider the resource is a few-shot manifest written to
recognizer.ollama.resource. For the sidecar provider the examples are
posted to the sidecar's /train endpoint.

Examples:
  veil train --data pairs.json
  veil train --data pairs.json --split 0.1 --seed 7`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.Flags().String("data", "", "training pairs file (JSON array)")
	trainCmd.Flags().StringP("output", "o", "", "output directory for training artifacts")
	trainCmd.Flags().Float64("split", 0.2, "fraction of examples held out as the dev set")
	trainCmd.Flags().Int64("seed", 42, "shuffle seed for the train/dev split")
	trainCmd.Flags().Int("few-shot", 8, "few-shot examples embedded in the ollama resource")

	_ = viper.BindPFlag("training.data", trainCmd.Flags().Lookup("data"))
	_ = viper.BindPFlag("training.output", trainCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("training.split", trainCmd.Flags().Lookup("split"))
	_ = viper.BindPFlag("training.seed", trainCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("training.few_shot", trainCmd.Flags().Lookup("few-shot"))
}

func runTrain(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Training.Data == "" {
		return fmt.Errorf("no training data: pass --data or set training.data in the config")
	}

	result, err := train.Run(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Training complete\n")
	fmt.Fprintf(out, "  Pairs:     %d (%d extracted, %d skipped)\n",
		result.Report.Pairs, result.Report.Extracted, result.Report.Skipped)
	fmt.Fprintf(out, "  Artifacts: %s, %s\n", result.TrainPath, result.DevPath)
	fmt.Fprintf(out, "  Resource:  %s (version %s)\n", result.Resource, result.Version)
	return nil
}
