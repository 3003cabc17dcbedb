package data

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/basarnoyan1/bpnet-lite/internal/tensor"
)

const datasetFileVersion = 1

// datasetFile is the on-disk layout: explicit shapes plus the flat
// row-major values of each member tensor.
type datasetFile struct {
	Version       int       `json:"version"`
	Examples      int       `json:"examples"`
	Length        int       `json:"length"`
	OutLength     int       `json:"out_length"`
	Outputs       int       `json:"n_outputs"`
	ControlTracks int       `json:"n_control_tracks"`
	Seq           []float64 `json:"seq"`
	Controls      []float64 `json:"controls,omitempty"`
	Profile       []float64 `json:"profile"`
}

// WriteDataset stores the set at path as JSON.
func WriteDataset(path string, d *Dataset) error {
	if err := d.Check(); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	f := datasetFile{
		Version:       datasetFileVersion,
		Examples:      d.Seq.Batch,
		Length:        d.Seq.Length,
		OutLength:     d.Profile.Length,
		Outputs:       d.Profile.Channels,
		ControlTracks: d.Controls.Channels,
		Seq:           d.Seq.Data,
		Controls:      d.Controls.Data,
		Profile:       d.Profile.Data,
	}
	encoded, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	encoded = append(encoded, '\n')
	return os.WriteFile(path, encoded, 0o644)
}

// ReadDataset loads a set written by WriteDataset. A missing file is
// reported through the boolean, not as an error.
func ReadDataset(path string) (*Dataset, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var f datasetFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	if f.Version != datasetFileVersion {
		return nil, false, fmt.Errorf("dataset %s: unsupported version %d", path, f.Version)
	}

	d := &Dataset{
		Seq:     tensor.Seq{Data: f.Seq, Batch: f.Examples, Channels: 4, Length: f.Length},
		Profile: tensor.Seq{Data: f.Profile, Batch: f.Examples, Channels: f.Outputs, Length: f.OutLength},
	}
	if f.ControlTracks > 0 {
		d.Controls = tensor.Seq{Data: f.Controls, Batch: f.Examples, Channels: f.ControlTracks, Length: f.Length}
	}
	if err := d.Check(); err != nil {
		return nil, false, fmt.Errorf("dataset %s: %w", path, err)
	}
	return d, true, nil
}
