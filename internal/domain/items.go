package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Items is the provider's `items.item` node. Upstream serializes it as an
// object when a page holds one record, as an array otherwise, and as an
// empty string or null when the page is empty. Decoding normalizes all of
// those to a flat record slice so nothing downstream branches on shape.
type Items struct {
	records []map[string]any
}

// ItemsOf builds an Items value from already-normalized records.
func ItemsOf(records ...map[string]any) Items {
	return Items{records: records}
}

// Records returns the normalized record slice; never nil for a decoded value
// with at least one record, possibly nil when empty.
func (it Items) Records() []map[string]any {
	return it.records
}

// Len returns the number of normalized records.
func (it Items) Len() int {
	return len(it.records)
}

// UnmarshalJSON accepts object, array, empty string, and null shapes.
func (it *Items) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`)) {
		it.records = nil
		return nil
	}
	switch trimmed[0] {
	case '[':
		var many []map[string]any
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return fmt.Errorf("op=items.decode: %w", err)
		}
		it.records = many
		return nil
	case '{':
		var one map[string]any
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return fmt.Errorf("op=items.decode: %w", err)
		}
		it.records = []map[string]any{one}
		return nil
	default:
		return fmt.Errorf("op=items.decode: unexpected items shape %q: %w", snippetOf(trimmed, 32), ErrValidation)
	}
}

// MarshalJSON always emits the array shape.
func (it Items) MarshalJSON() ([]byte, error) {
	if it.records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(it.records)
}

func snippetOf(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
