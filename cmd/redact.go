package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhollis/veil/internal/output"
)

var redactCmd = &cobra.Command{
	Use:   "redact [flags] [file...]",
	Short: "Redact PII from text or files",
	Long: `Redact PII from inline text, files, or stdin.

With --text, the given string is redacted. With file arguments, each file
is redacted as one document (a batch, processed concurrently). With
neither, stdin is read as a single document.

Examples:
  veil redact --text "Contact Sarah Thompson at sarah@company.com"
  veil redact letter.txt notes.txt
  cat letter.txt | veil redact
  veil redact --text "call 0422 111 222" --format json
  veil redact letter.txt --output letter_redacted.txt`,
	RunE: runRedact,
}

func init() {
	redactCmd.Flags().StringP("text", "t", "", "text to redact")
	redactCmd.Flags().StringP("output", "o", "", "write redacted output to file instead of stdout")

	rootCmd.AddCommand(redactCmd)
}

func runRedact(cmd *cobra.Command, args []string) error {
	text, _ := cmd.Flags().GetString("text")
	outPath, _ := cmd.Flags().GetString("output")

	if text != "" && len(args) > 0 {
		return fmt.Errorf("--text and file arguments are mutually exclusive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger()

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	dst := cmd.OutOrStdout()
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		dst = f
	}
	writer := output.New(dst, output.ParseFormat(viper.GetString("format")))

	ctx := cmd.Context()

	// Multiple files form a batch; everything else is one document.
	if len(args) > 1 {
		texts := make([]string, len(args))
		for i, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			texts[i] = string(data)
		}
		return writer.WriteBatch(engine.RedactBatch(ctx, texts))
	}

	switch {
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		text = string(data)
	case text == "":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	result, err := engine.Redact(ctx, text)
	if err != nil {
		return err
	}
	return writer.WriteResult(result)
}
