package main

import (
	"encoding/json"
	"fmt"
	"os"

	bpnetapi "github.com/basarnoyan1/bpnet-lite/pkg/bpnet"
)

// loadOrDefaultFitRequest returns a zero request when no config path is set.
// Unset config keys stay zero and pick up the client defaults.
func loadOrDefaultFitRequest(path string) (bpnetapi.FitRequest, error) {
	if path == "" {
		return bpnetapi.FitRequest{}, nil
	}
	req, err := loadFitRequestFromConfig(path)
	if err != nil {
		return bpnetapi.FitRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

func loadFitRequestFromConfig(path string) (bpnetapi.FitRequest, error) {
	var req bpnetapi.FitRequest

	raw, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return req, err
	}

	req.Name = asString(doc["name"], req.Name)
	req.Seed = asInt64(doc["seed"], req.Seed)
	req.Filters = asInt(doc["n_filters"], req.Filters)
	req.Layers = asInt(doc["n_layers"], req.Layers)
	req.Outputs = asInt(doc["n_outputs"], req.Outputs)
	req.ControlTracks = asInt(doc["n_control_tracks"], req.ControlTracks)
	req.Alpha = asFloat64(doc["alpha"], req.Alpha)
	req.Trimming = asInt(doc["trimming"], req.Trimming)
	req.DisableProfileBias = !asBool(doc["profile_output_bias"], true)
	req.DisableCountBias = !asBool(doc["count_output_bias"], true)
	req.TrainPath = asString(doc["train_data"], req.TrainPath)
	req.ValidPath = asString(doc["valid_data"], req.ValidPath)
	req.TrainExamples = asInt(doc["train_examples"], req.TrainExamples)
	req.ValidExamples = asInt(doc["valid_examples"], req.ValidExamples)
	req.SeqLength = asInt(doc["seq_length"], req.SeqLength)
	req.MeanReads = asInt(doc["mean_reads"], req.MeanReads)
	req.MaxEpochs = asInt(doc["max_epochs"], req.MaxEpochs)
	req.BatchSize = asInt(doc["batch_size"], req.BatchSize)
	req.ValidationIter = asInt(doc["validation_iter"], req.ValidationIter)
	req.EarlyStopping = asInt(doc["early_stopping"], req.EarlyStopping)
	req.LearningRate = asFloat64(doc["learning_rate"], req.LearningRate)

	return req, nil
}

// overrideFromFlags applies explicitly set command line flags on top of a
// request loaded from a config file.
func overrideFromFlags(req *bpnetapi.FitRequest, set map[string]bool, values map[string]any) {
	for name := range set {
		v, ok := values[name]
		if !ok {
			continue
		}
		switch name {
		case "name":
			if s, ok := v.(string); ok {
				req.Name = s
			}
		case "seed":
			if n, ok := v.(int64); ok {
				req.Seed = n
			}
		case "filters":
			if n, ok := v.(int); ok {
				req.Filters = n
			}
		case "layers":
			if n, ok := v.(int); ok {
				req.Layers = n
			}
		case "outputs":
			if n, ok := v.(int); ok {
				req.Outputs = n
			}
		case "control-tracks":
			if n, ok := v.(int); ok {
				req.ControlTracks = n
			}
		case "alpha":
			if f, ok := v.(float64); ok {
				req.Alpha = f
			}
		case "trimming":
			if n, ok := v.(int); ok {
				req.Trimming = n
			}
		case "no-profile-bias":
			if b, ok := v.(bool); ok {
				req.DisableProfileBias = b
			}
		case "no-count-bias":
			if b, ok := v.(bool); ok {
				req.DisableCountBias = b
			}
		case "train-data":
			if s, ok := v.(string); ok {
				req.TrainPath = s
			}
		case "valid-data":
			if s, ok := v.(string); ok {
				req.ValidPath = s
			}
		case "train-examples":
			if n, ok := v.(int); ok {
				req.TrainExamples = n
			}
		case "valid-examples":
			if n, ok := v.(int); ok {
				req.ValidExamples = n
			}
		case "seq-length":
			if n, ok := v.(int); ok {
				req.SeqLength = n
			}
		case "mean-reads":
			if n, ok := v.(int); ok {
				req.MeanReads = n
			}
		case "max-epochs":
			if n, ok := v.(int); ok {
				req.MaxEpochs = n
			}
		case "batch-size":
			if n, ok := v.(int); ok {
				req.BatchSize = n
			}
		case "validation-iter":
			if n, ok := v.(int); ok {
				req.ValidationIter = n
			}
		case "early-stopping":
			if n, ok := v.(int); ok {
				req.EarlyStopping = n
			}
		case "lr":
			if f, ok := v.(float64); ok {
				req.LearningRate = f
			}
		}
	}
}

func asString(v any, def string) string {
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func asInt(v any, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func asInt64(v any, def int64) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return def
	}
}

func asFloat64(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func asBool(v any, def bool) bool {
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
