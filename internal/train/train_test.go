package train

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mhollis/veil/internal/config"
	"github.com/mhollis/veil/internal/extract"
	"github.com/mhollis/veil/internal/recognizer/ollama"
	"github.com/mhollis/veil/internal/redact"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBuildExamples(t *testing.T) {
	pairs := []Pair{
		{Text: "Contact Sarah today", Redacted: "Contact [NAME] today"},
		{Text: "hello world", Redacted: "goodbye world"}, // unalignable
		{Text: "nothing redacted", Redacted: "nothing redacted"},
	}

	examples, report := BuildExamples(pairs, extract.New(nil), testLogger())
	if report.Pairs != 3 || report.Extracted != 2 || report.Skipped != 1 {
		t.Errorf("report = %+v, want 3/2/1", report)
	}
	if len(examples) != 2 {
		t.Fatalf("examples = %d, want 2", len(examples))
	}
	if len(examples[0].Spans) != 1 || examples[0].Spans[0].Label != redact.LabelName {
		t.Errorf("examples[0] = %+v", examples[0])
	}
	if len(examples[1].Spans) != 0 {
		t.Errorf("examples[1] = %+v, want no spans", examples[1])
	}
}

func TestSplitDeterministic(t *testing.T) {
	examples := make([]extract.Example, 20)
	for i := range examples {
		examples[i] = extract.Example{Text: string(rune('a' + i))}
	}

	train1, dev1 := Split(examples, 0.2, 42)
	train2, dev2 := Split(examples, 0.2, 42)

	if len(dev1) != 4 || len(train1) != 16 {
		t.Fatalf("Split() = %d train / %d dev, want 16/4", len(train1), len(dev1))
	}
	for i := range train1 {
		if train1[i].Text != train2[i].Text {
			t.Fatalf("same seed produced different splits")
		}
	}
	for i := range dev1 {
		if dev1[i].Text != dev2[i].Text {
			t.Fatalf("same seed produced different splits")
		}
	}

	// Train and dev never share an example.
	seen := make(map[string]bool, len(dev1))
	for _, ex := range dev1 {
		seen[ex.Text] = true
	}
	for _, ex := range train1 {
		if seen[ex.Text] {
			t.Errorf("example %q appears in both splits", ex.Text)
		}
	}
}

func TestSplitClampsFraction(t *testing.T) {
	examples := make([]extract.Example, 10)
	tests := []struct {
		fraction float64
		wantDev  int
	}{
		{fraction: -1, wantDev: 0},
		{fraction: 0, wantDev: 0},
		{fraction: 0.9, wantDev: 5}, // clamped to 0.5
	}
	for _, tt := range tests {
		trainSet, devSet := Split(examples, tt.fraction, 1)
		if len(devSet) != tt.wantDev {
			t.Errorf("Split(%v) dev = %d, want %d", tt.fraction, len(devSet), tt.wantDev)
		}
		if len(trainSet)+len(devSet) != len(examples) {
			t.Errorf("Split(%v) dropped examples", tt.fraction)
		}
	}
}

func TestExamplesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.jsonl")
	in := []extract.Example{
		{Text: "Contact Sarah", Spans: []extract.LabeledSpan{{Start: 8, End: 13, Label: redact.LabelName}}},
		{Text: "no spans here"},
	}

	if err := WriteExamples(path, in); err != nil {
		t.Fatalf("WriteExamples() error = %v", err)
	}
	out, err := ReadExamples(path)
	if err != nil {
		t.Fatalf("ReadExamples() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("ReadExamples() = %d examples, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Text != in[i].Text || len(out[i].Spans) != len(in[i].Spans) {
			t.Errorf("example %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestLoadPairs(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid corpus", func(t *testing.T) {
		path := filepath.Join(dir, "pairs.json")
		data, _ := json.Marshal([]Pair{{Text: "a", Redacted: "a"}})
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		pairs, err := LoadPairs(path)
		if err != nil {
			t.Fatalf("LoadPairs() error = %v", err)
		}
		if len(pairs) != 1 {
			t.Errorf("LoadPairs() = %d pairs, want 1", len(pairs))
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadPairs(filepath.Join(dir, "absent.json")); err == nil {
			t.Error("LoadPairs() error = nil, want read failure")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadPairs(path); err == nil {
			t.Error("LoadPairs() error = nil, want parse failure")
		}
	})
}

func TestRunOllamaProvider(t *testing.T) {
	dir := t.TempDir()

	pairs := []Pair{
		{Text: "Contact Sarah today", Redacted: "Contact [NAME] today"},
		{Text: "mail a@b.co please", Redacted: "mail [EMAIL] please"},
		{Text: "hello world", Redacted: "something else"}, // skipped
	}
	pairsPath := filepath.Join(dir, "pairs.json")
	data, _ := json.Marshal(pairs)
	if err := os.WriteFile(pairsPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Recognizer.Provider = "ollama"
	cfg.Recognizer.Ollama.Model = "llama3.2"
	cfg.Recognizer.Ollama.Resource = filepath.Join(dir, "models", "pii.json")
	cfg.Training.Data = pairsPath
	cfg.Training.Output = filepath.Join(dir, "out")
	cfg.Training.Split = 0 // keep everything in the training set
	cfg.Training.Seed = 42
	cfg.Training.FewShot = 8

	result, err := Run(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Version == "" {
		t.Error("Run() produced empty resource version")
	}
	if result.Report.Extracted != 2 || result.Report.Skipped != 1 {
		t.Errorf("report = %+v, want 2 extracted / 1 skipped", result.Report)
	}

	manifest, err := ollama.LoadManifest(result.Resource)
	if err != nil {
		t.Fatalf("LoadManifest(%s) error = %v", result.Resource, err)
	}
	if manifest.Version != result.Version {
		t.Errorf("manifest version = %q, want %q", manifest.Version, result.Version)
	}
	if manifest.BaseModel != "llama3.2" {
		t.Errorf("manifest base model = %q", manifest.BaseModel)
	}
	if len(manifest.Examples) != 2 {
		t.Errorf("manifest examples = %d, want 2 few-shot entries", len(manifest.Examples))
	}

	trainSet, err := ReadExamples(result.TrainPath)
	if err != nil {
		t.Fatalf("ReadExamples() error = %v", err)
	}
	if len(trainSet) != 2 {
		t.Errorf("train split = %d examples, want 2", len(trainSet))
	}
	devSet, err := ReadExamples(result.DevPath)
	if err != nil {
		t.Fatalf("ReadExamples() error = %v", err)
	}
	if len(devSet) != 0 {
		t.Errorf("dev split = %d examples, want 0", len(devSet))
	}
}
