package data

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDatasetFileRoundTrip(t *testing.T) {
	want, err := Generate(simConfig())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "train.json")
	if err := WriteDataset(path, want); err != nil {
		t.Fatalf("write dataset: %v", err)
	}

	got, ok, err := ReadDataset(path)
	if err != nil {
		t.Fatalf("read dataset: %v", err)
	}
	if !ok {
		t.Fatal("expected dataset to exist")
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestDatasetFileRoundTripWithoutControls(t *testing.T) {
	cfg := simConfig()
	cfg.ControlTracks = 0
	want, err := Generate(cfg)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "train.json")
	if err := WriteDataset(path, want); err != nil {
		t.Fatalf("write dataset: %v", err)
	}

	got, ok, err := ReadDataset(path)
	if err != nil {
		t.Fatalf("read dataset: %v", err)
	}
	if !ok {
		t.Fatal("expected dataset to exist")
	}
	if got.HasControls() {
		t.Fatal("expected no control tracks")
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestReadDatasetMissing(t *testing.T) {
	d, ok, err := ReadDataset(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("read dataset: %v", err)
	}
	if ok || d != nil {
		t.Fatalf("expected missing dataset, got ok=%v d=%v", ok, d)
	}
}

func TestReadDatasetRejectsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, _, err := ReadDataset(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestReadDatasetRejectsVersion(t *testing.T) {
	d, err := Generate(simConfig())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "train.json")
	if err := WriteDataset(path, d); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var f map[string]any
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	f["version"] = 99
	raw, err = json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, _, err := ReadDataset(path); err == nil {
		t.Fatal("expected version error")
	}
}

func TestReadDatasetRejectsShapeMismatch(t *testing.T) {
	d, err := Generate(simConfig())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "train.json")
	if err := WriteDataset(path, d); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var f datasetFile
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	f.Seq = f.Seq[:len(f.Seq)-1]
	raw, err = json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, _, err := ReadDataset(path); err == nil {
		t.Fatal("expected shape error")
	}
}
