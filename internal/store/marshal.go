package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/emergent/loom/internal/canonical"
	"github.com/emergent/loom/internal/diff"
)

// marshalProperties converts a property tree to canonical JSON TEXT for
// storage. Uses RFC 8785 canonical JSON so stored bytes are deterministic
// and content hashes can be recomputed from the column verbatim.
func marshalProperties(props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}
	data, err := canonical.MarshalCanonical(props)
	if err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}
	return string(data), nil
}

// unmarshalProperties parses canonical JSON TEXT back into a property tree.
// Numbers decode as json.Number: integer literals keep their exact digits
// through canonical hashing, so values beyond 2^53 round-trip without
// float64 precision loss.
func unmarshalProperties(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	return props, nil
}

// marshalLabels converts labels to JSON TEXT, or empty string when there
// are none (stored as NULL). Go's json.Marshal sorts map keys, so output
// is deterministic.
func marshalLabels(labels map[string]string) (string, error) {
	if len(labels) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(labels); err != nil {
		return "", fmt.Errorf("marshal labels: %w", err)
	}
	return string(bytes.TrimSpace(buf.Bytes())), nil
}

// unmarshalLabels parses JSON TEXT to a label map. Empty input yields nil.
func unmarshalLabels(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var labels map[string]string
	if err := json.Unmarshal([]byte(data), &labels); err != nil {
		return nil, fmt.Errorf("unmarshal labels: %w", err)
	}
	return labels, nil
}

// marshalSummary converts a change summary to JSON TEXT. Summary slices
// are kept sorted by the diff package, so output is deterministic.
func marshalSummary(s diff.Summary) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	return string(data), nil
}

// unmarshalSummary parses JSON TEXT to a change summary.
func unmarshalSummary(data string) (diff.Summary, error) {
	if data == "" || data == "{}" {
		return diff.Summary{}, nil
	}
	var s diff.Summary
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return diff.Summary{}, fmt.Errorf("unmarshal summary: %w", err)
	}
	return s, nil
}
