// Package hashutil implements the two hash primitives the whole system
// reduces to (§4.1): canonical JSON serialization and SHA-256 hashing.
package hashutil

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonical serializes v as JSON with object keys sorted lexicographically
// at every nesting level and compact separators (no whitespace). It is the
// only serialization used to produce hash input anywhere in the system;
// pretty-printed variants are for human logs only (§9).
//
// v is first marshaled normally, then decoded into generic maps/slices and
// re-marshaled: encoding/json always emits map[string]X keys in sorted
// order, so routing through a generic representation is enough to make key
// order deterministic regardless of the original struct's field order.
// json.Number preserves each number's original text so that re-encoding
// never perturbs integers or trailing zeros.
func Canonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: initial marshal: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var generic interface{}
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode for sorting: %w", err)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonical: final marshal: %w", err)
	}

	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}
