package main

import (
	"os"
	"path/filepath"
	"testing"

	bpnetapi "github.com/basarnoyan1/bpnet-lite/pkg/bpnet"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fit.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFitRequestFromConfig(t *testing.T) {
	path := writeConfig(t, `{
		"name": "ctcf",
		"seed": 42,
		"n_filters": 16,
		"n_layers": 4,
		"n_outputs": 2,
		"n_control_tracks": 0,
		"alpha": 0.5,
		"trimming": 47,
		"profile_output_bias": false,
		"train_data": "train.json",
		"valid_data": "valid.json",
		"train_examples": 128,
		"valid_examples": 16,
		"seq_length": 512,
		"mean_reads": 80,
		"max_epochs": 3,
		"batch_size": 8,
		"validation_iter": 10,
		"early_stopping": 5,
		"learning_rate": 0.005
	}`)

	req, err := loadFitRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	want := bpnetapi.FitRequest{
		Name:               "ctcf",
		Seed:               42,
		Filters:            16,
		Layers:             4,
		Outputs:            2,
		ControlTracks:      0,
		Alpha:              0.5,
		Trimming:           47,
		DisableProfileBias: true,
		DisableCountBias:   false,
		TrainPath:          "train.json",
		ValidPath:          "valid.json",
		TrainExamples:      128,
		ValidExamples:      16,
		SeqLength:          512,
		MeanReads:          80,
		MaxEpochs:          3,
		BatchSize:          8,
		ValidationIter:     10,
		EarlyStopping:      5,
		LearningRate:       0.005,
	}
	if req != want {
		t.Fatalf("config request mismatch:\n got %+v\nwant %+v", req, want)
	}
}

func TestLoadFitRequestFromConfigEmpty(t *testing.T) {
	path := writeConfig(t, `{}`)

	req, err := loadFitRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if req != (bpnetapi.FitRequest{}) {
		t.Fatalf("empty config should load a zero request, got %+v", req)
	}
}

func TestLoadOrDefaultFitRequestMissingFile(t *testing.T) {
	if _, err := loadOrDefaultFitRequest(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestOverrideFromFlags(t *testing.T) {
	req := bpnetapi.FitRequest{
		Name:          "ctcf",
		Seed:          42,
		Filters:       16,
		Layers:        4,
		LearningRate:  0.005,
		TrainExamples: 128,
	}

	set := map[string]bool{"seed": true, "lr": true, "train-examples": true}
	overrideFromFlags(&req, set, map[string]any{
		"name":           "ignored",
		"seed":           int64(7),
		"filters":        32,
		"lr":             0.01,
		"train-examples": 64,
	})

	if req.Name != "ctcf" {
		t.Fatalf("unset flag must not override name, got %q", req.Name)
	}
	if req.Filters != 16 {
		t.Fatalf("unset flag must not override filters, got %d", req.Filters)
	}
	if req.Seed != 7 {
		t.Fatalf("seed override = %d, want 7", req.Seed)
	}
	if req.LearningRate != 0.01 {
		t.Fatalf("lr override = %v, want 0.01", req.LearningRate)
	}
	if req.TrainExamples != 64 {
		t.Fatalf("train-examples override = %d, want 64", req.TrainExamples)
	}
}
