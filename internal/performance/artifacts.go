package performance

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteSummary writes the aggregate validation measures to path as
// indented JSON.
func WriteSummary(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// ReadSummary loads a summary written by WriteSummary. A missing file
// is reported through the boolean, not as an error.
func ReadSummary(path string) (Summary, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, false, fmt.Errorf("decode summary %s: %w", path, err)
	}
	return s, true, nil
}
