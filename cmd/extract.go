package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mhollis/veil/internal/extract"
	"github.com/mhollis/veil/internal/redact"
	"github.com/mhollis/veil/internal/train"
)

var extractOutput string

var extractCmd = &cobra.Command{
	Use:   "extract <pairs.json>",
	Short: "Extract labeled spans from redacted document pairs",
	Long: `Align original documents against their placeholder-redacted
counterparts and recover the labeled character spans. The input is a
JSON array of {"text": ..., "redacted_text": ...} pairs; the output is
JSONL, one example per line.

Pairs that cannot be aligned (foreign edits, adjacent placeholders) are
skipped with a warning rather than failing the run.

Examples:
  veil extract pairs.json
  veil extract pairs.json -o examples.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "examples.jsonl", "output JSONL file")
}

func runExtract(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pairs, err := train.LoadPairs(args[0])
	if err != nil {
		return err
	}

	placeholders, err := redact.ParsePlaceholders(cfg.Placeholders)
	if err != nil {
		return fmt.Errorf("placeholder configuration: %w", err)
	}

	examples, report := train.BuildExamples(pairs, extract.New(placeholders), logger)
	if err := train.WriteExamples(extractOutput, examples); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d of %d pairs (%d skipped) -> %s\n",
		report.Extracted, report.Pairs, report.Skipped, extractOutput)
	return nil
}
