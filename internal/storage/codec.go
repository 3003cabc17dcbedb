package storage

import (
	"encoding/json"
	"errors"

	"github.com/basarnoyan1/bpnet-lite/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeTicks(ticks []model.TickRecord) ([]byte, error) {
	return json.Marshal(ticks)
}

func DecodeTicks(data []byte) ([]model.TickRecord, error) {
	var ticks []model.TickRecord
	if err := json.Unmarshal(data, &ticks); err != nil {
		return nil, err
	}
	for _, tick := range ticks {
		if err := checkVersion(tick.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return ticks, nil
}

func EncodeArtifacts(artifacts []model.ArtifactRecord) ([]byte, error) {
	return json.Marshal(artifacts)
}

func DecodeArtifacts(data []byte) ([]model.ArtifactRecord, error) {
	var artifacts []model.ArtifactRecord
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return nil, err
	}
	for _, artifact := range artifacts {
		if err := checkVersion(artifact.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return artifacts, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
