package tower

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/basarnoyan1/bpnet-lite/internal/model"
)

const (
	checkpointSchemaVersion = 1
	checkpointCodecVersion  = 1
	weightFormat            = "f64le"
)

// ErrVersionMismatch reports a checkpoint written by an incompatible
// schema or codec.
var ErrVersionMismatch = errors.New("checkpoint version mismatch")

// EncodedParam carries one named weight slice as a base64 blob of
// little-endian float64 values.
type EncodedParam struct {
	Name string `json:"name"`
	Fmt  string `json:"fmt"`
	Data string `json:"data"`
}

// Checkpoint is the on-disk form of a Tower.
type Checkpoint struct {
	model.VersionedRecord
	Config Config         `json:"config"`
	Params []EncodedParam `json:"params"`
}

// Snapshot captures the configuration and current weights.
func (t *Tower) Snapshot() Checkpoint {
	ck := Checkpoint{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: checkpointSchemaVersion,
			CodecVersion:  checkpointCodecVersion,
		},
		Config: t.cfg,
	}
	for _, p := range t.Parameters() {
		ck.Params = append(ck.Params, EncodedParam{
			Name: p.Name,
			Fmt:  weightFormat,
			Data: encodeFloats(p.Value),
		})
	}
	return ck
}

// Save writes the tower to path as indented JSON.
func (t *Tower) Save(path string) error {
	data, err := json.MarshalIndent(t.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// Load reads a checkpoint written by Save and rebuilds the tower.
func Load(path string) (*Tower, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return FromCheckpoint(ck)
}

// FromCheckpoint rebuilds a tower from an in-memory checkpoint.
func FromCheckpoint(ck Checkpoint) (*Tower, error) {
	if ck.SchemaVersion != checkpointSchemaVersion || ck.CodecVersion != checkpointCodecVersion {
		return nil, ErrVersionMismatch
	}
	t, err := New(ck.Config)
	if err != nil {
		return nil, err
	}
	params := t.Parameters()
	byName := make(map[string]Param, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	seen := make(map[string]bool, len(params))
	for _, ep := range ck.Params {
		p, ok := byName[ep.Name]
		if !ok {
			return nil, fmt.Errorf("checkpoint carries unknown parameter %s", ep.Name)
		}
		if ep.Fmt != weightFormat {
			return nil, fmt.Errorf("unsupported weight format %q for %s", ep.Fmt, ep.Name)
		}
		vals, err := decodeFloats(ep.Data)
		if err != nil {
			return nil, fmt.Errorf("decode weights for %s: %w", ep.Name, err)
		}
		if len(vals) != len(p.Value) {
			return nil, fmt.Errorf("parameter %s has %d values, want %d", ep.Name, len(vals), len(p.Value))
		}
		copy(p.Value, vals)
		seen[ep.Name] = true
	}
	for _, p := range params {
		if !seen[p.Name] {
			return nil, fmt.Errorf("checkpoint is missing parameter %s", p.Name)
		}
	}
	return t, nil
}

func encodeFloats(vals []float64) string {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeFloats(s string) ([]float64, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("weight blob length %d is not a multiple of 8", len(buf))
	}
	vals := make([]float64, len(buf)/8)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vals, nil
}
