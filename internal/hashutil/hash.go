package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
)

// Hash returns the lowercase-hex SHA-256 digest of b. This and Hcat are the
// only two hash primitives used anywhere in the system (§4.1); every higher
// layer must reduce to them.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Hcat hashes the concatenation of two hex digests, left then right.
func Hcat(left, right string) string {
	return Hash([]byte(left + right))
}

// HashJSON canonicalizes v and returns its hash.
func HashJSON(v interface{}) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return Hash(b), nil
}

// NormalizeFloat applies the measurement-data float rule of §3/§9: a value
// whose absolute value is zero collapses to integer 0, any other float is
// rounded to 6 decimal places. Applying this before canonicalization is what
// guarantees identical hashes across platforms with different float
// formatting.
func NormalizeFloat(v float64) interface{} {
	if v == 0 {
		return 0
	}
	const scale = 1e6
	rounded := math.Round(v*scale) / scale
	return rounded
}

// NormalizeData walks a measurement's semi-structured data map and applies
// NormalizeFloat to every float64 scalar, leaving other scalar types (bool,
// string, integers already decoded as json.Number) untouched. Nested maps
// and slices are normalized recursively so the rule applies uniformly no
// matter how the ingress payload was shaped.
func NormalizeData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		return NormalizeFloat(t)
	case map[string]interface{}:
		return NormalizeData(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return t
	}
}
