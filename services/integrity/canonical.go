// Package integrity implements the deterministic serialization, signing and hashing
// rules shared by the ledger, the snapshot store and external verifiers.
package integrity

import (
	"bytes"
	"encoding/json"

	"github.com/arcturusdc/orbit/services"
)

// Canonicalize encodes v as JSON with object keys sorted at every depth,
// no insignificant whitespace and HTML escaping disabled.
// Values that cannot be represented (NaN, Inf, cycles, channels) fail with a serialization error.
func Canonicalize(v interface{}) ([]byte, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}
	return encodeTree(tree)
}

// canonicalizeWithout canonicalizes v after dropping the named top-level keys
func canonicalizeWithout(v interface{}, exclude ...string) ([]byte, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}
	if obj, ok := tree.(map[string]interface{}); ok {
		for _, key := range exclude {
			delete(obj, key)
		}
	}
	return encodeTree(tree)
}

// toTree round-trips v through encoding/json into maps, slices and json.Number leaves.
// Map keys are re-sorted by the encoder, so insertion order never reaches the output.
func toTree(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, services.WrapSerialization("failed to marshal payload", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, services.WrapSerialization("failed to decode payload", err)
	}
	return tree, nil
}

func encodeTree(tree interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, services.WrapSerialization("failed to encode canonical form", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
