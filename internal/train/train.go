// Package train turns paired (original, redacted) documents into training
// examples and builds a versioned model resource for the configured
// recognizer backend.
//
// Pairs that cannot be aligned are skipped and logged, never fatal: one
// bad document in a corpus should not sink a training run.
package train

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mhollis/veil/internal/config"
	"github.com/mhollis/veil/internal/extract"
	"github.com/mhollis/veil/internal/recognizer/ollama"
	"github.com/mhollis/veil/internal/recognizer/sidecar"
	"github.com/mhollis/veil/internal/redact"
)

// Pair is one training document pair as stored in the corpus file.
type Pair struct {
	Text     string `json:"text"`
	Redacted string `json:"redacted_text"`
}

// Report summarizes example preparation.
type Report struct {
	Pairs     int // pairs read from the corpus
	Extracted int // pairs converted into examples
	Skipped   int // pairs dropped due to alignment failures
}

// Result is the outcome of a training run.
type Result struct {
	Version   string // model resource version (the resource handle)
	Resource  string // where the resource lives (path or sidecar URL)
	TrainPath string // written training split
	DevPath   string // written dev split
	Report    Report
}

// LoadPairs reads a JSON array of document pairs.
func LoadPairs(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read training data: %w", err)
	}
	var pairs []Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("parse training data: %w", err)
	}
	return pairs, nil
}

// BuildExamples aligns each pair and collects the training examples.
// Alignment failures are logged and counted, not propagated.
func BuildExamples(pairs []Pair, x *extract.Extractor, logger *slog.Logger) ([]extract.Example, Report) {
	report := Report{Pairs: len(pairs)}
	examples := make([]extract.Example, 0, len(pairs))

	for i, pair := range pairs {
		spans, err := x.Extract(pair.Text, pair.Redacted)
		if err != nil {
			var alignErr *extract.AlignmentError
			if errors.As(err, &alignErr) {
				logger.Warn("skipping unalignable training pair", "index", i, "error", alignErr)
				report.Skipped++
				continue
			}
			logger.Error("unexpected extraction failure", "index", i, "error", err)
			report.Skipped++
			continue
		}
		examples = append(examples, extract.Example{Text: pair.Text, Spans: spans})
		report.Extracted++
	}
	return examples, report
}

// Split shuffles examples with the given seed and carves off devFraction
// of them as the dev set. The same seed always yields the same split.
func Split(examples []extract.Example, devFraction float64, seed int64) (trainSet, devSet []extract.Example) {
	shuffled := make([]extract.Example, len(examples))
	copy(shuffled, examples)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if devFraction < 0 {
		devFraction = 0
	}
	if devFraction > 0.5 {
		devFraction = 0.5
	}
	n := int(float64(len(shuffled)) * devFraction)
	return shuffled[n:], shuffled[:n]
}

// WriteExamples writes examples as JSONL, one example per line.
func WriteExamples(path string, examples []extract.Example) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, ex := range examples {
		if err := enc.Encode(ex); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadExamples reads a JSONL examples file written by WriteExamples.
func ReadExamples(path string) ([]extract.Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var examples []extract.Example
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ex extract.Example
		if err := json.Unmarshal([]byte(line), &ex); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		examples = append(examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return examples, nil
}

// Run executes the full training pipeline: load pairs, extract examples,
// split, write artifacts, and build the backend's model resource.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Result, error) {
	pairs, err := LoadPairs(cfg.Training.Data)
	if err != nil {
		return nil, err
	}

	placeholders, err := redact.ParsePlaceholders(cfg.Placeholders)
	if err != nil {
		return nil, fmt.Errorf("placeholder configuration: %w", err)
	}

	examples, report := BuildExamples(pairs, extract.New(placeholders), logger)
	if len(examples) == 0 {
		return nil, errors.New("no training pairs could be aligned")
	}
	logger.Info("prepared training examples",
		"pairs", report.Pairs, "extracted", report.Extracted, "skipped", report.Skipped)

	trainSet, devSet := Split(examples, cfg.Training.Split, cfg.Training.Seed)

	outDir := cfg.Training.Output
	if outDir == "" {
		outDir = "models"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	result := &Result{
		TrainPath: filepath.Join(outDir, "train.jsonl"),
		DevPath:   filepath.Join(outDir, "dev.jsonl"),
		Report:    report,
	}
	if err := WriteExamples(result.TrainPath, trainSet); err != nil {
		return nil, err
	}
	if err := WriteExamples(result.DevPath, devSet); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Recognizer.Provider) {
	case "ollama":
		resource := cfg.Recognizer.Ollama.Resource
		if resource == "" {
			resource = filepath.Join(outDir, "pii.json")
		}
		version, err := buildOllamaResource(resource, cfg, trainSet)
		if err != nil {
			return nil, err
		}
		result.Version = version
		result.Resource = resource

	case "sidecar":
		client, err := sidecar.New(
			cfg.Recognizer.Sidecar.URL,
			time.Duration(cfg.Recognizer.Sidecar.TimeoutSeconds)*time.Second,
			logger,
		)
		if err != nil {
			return nil, err
		}
		version, err := client.Train(ctx, trainSet)
		if err != nil {
			return nil, err
		}
		result.Version = version
		result.Resource = cfg.Recognizer.Sidecar.URL

	default:
		return nil, fmt.Errorf("unknown recognizer provider: %s", cfg.Recognizer.Provider)
	}

	logger.Info("training completed", "version", result.Version, "resource", result.Resource)
	return result, nil
}

// buildOllamaResource writes a model resource manifest embedding few-shot
// examples drawn from the training split. Examples with spans come first;
// each span is converted back to its verbatim value.
func buildOllamaResource(path string, cfg *config.Config, trainSet []extract.Example) (string, error) {
	labels := make([]string, 0, len(redact.AllLabels()))
	for _, l := range redact.AllLabels() {
		labels = append(labels, string(l))
	}

	manifest := ollama.Manifest{
		Version:   uuid.NewString(),
		BaseModel: cfg.Recognizer.Ollama.Model,
		Labels:    labels,
	}
	if manifest.BaseModel == "" {
		manifest.BaseModel = "llama3.2"
	}

	limit := cfg.Training.FewShot
	if limit <= 0 {
		limit = 8
	}
	for _, ex := range trainSet {
		if len(ex.Spans) == 0 {
			continue
		}
		shot := ollama.Shot{Text: ex.Text}
		for _, sp := range ex.Spans {
			shot.Entities = append(shot.Entities, ollama.Entity{
				Text:  ex.Text[sp.Start:sp.End],
				Label: string(sp.Label),
			})
		}
		manifest.Examples = append(manifest.Examples, shot)
		if len(manifest.Examples) >= limit {
			break
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode model resource: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create resource dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write model resource: %w", err)
	}
	return manifest.Version, nil
}
