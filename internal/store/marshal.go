package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/nodejit/internal/compiler"
	"github.com/roach88/nodejit/internal/ir"
)

// marshalWarnings converts cycle warnings to canonical JSON TEXT, so equal
// warning lists are stored byte-identically.
func marshalWarnings(warnings []compiler.CycleWarning) (string, error) {
	list := make([]any, len(warnings))
	for i, w := range warnings {
		path := make([]any, len(w.Path))
		for j, p := range w.Path {
			path[j] = p
		}
		list[i] = map[string]any{
			"path":    path,
			"message": w.Message,
			"level":   w.Level,
		}
	}
	data, err := ir.MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("marshal warnings: %w", err)
	}
	return string(data), nil
}

// unmarshalWarnings parses the TEXT written by marshalWarnings. It never
// returns nil.
func unmarshalWarnings(data string) ([]compiler.CycleWarning, error) {
	warnings := []compiler.CycleWarning{}
	if data == "" || data == "[]" {
		return warnings, nil
	}
	if err := json.Unmarshal([]byte(data), &warnings); err != nil {
		return nil, fmt.Errorf("unmarshal warnings: %w", err)
	}
	return warnings, nil
}
