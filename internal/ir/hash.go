package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainRequest  = "formsync/request/v1"
	DomainDocument = "formsync/document/v1"
)

// hashWithDomain computes SHA-256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RequestID computes a stable identity for a reference-data request.
// params is the ordered list of name/value pairs; order is significant.
func RequestID(endpoint string, params [][2]string) (string, error) {
	pairs := make([]any, len(params))
	for i, p := range params {
		pairs[i] = []any{p[0], p[1]}
	}
	canonical, err := MarshalCanonical(map[string]any{
		"endpoint": endpoint,
		"params":   pairs,
	})
	if err != nil {
		return "", fmt.Errorf("RequestID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRequest, canonical), nil
}

// DocumentHash computes the definition hash of a compiled document.
// Two compilations of the same CUE source produce the same hash.
func DocumentHash(spec DocumentSpec) (string, error) {
	// Round-trip through encoding/json to get a generic tree; the IR has no floats.
	raw, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("DocumentHash: marshal: %w", err)
	}
	var tree map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return "", fmt.Errorf("DocumentHash: decode: %w", err)
	}
	canonical, err := MarshalCanonical(normalizeTree(tree))
	if err != nil {
		return "", fmt.Errorf("DocumentHash: canonical: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// normalizeTree converts json.Number leaves to int64 so MarshalCanonical accepts them.
func normalizeTree(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if elem == nil {
				continue
			}
			out[k] = normalizeTree(elem)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, elem := range val {
			if elem == nil {
				continue
			}
			out = append(out, normalizeTree(elem))
		}
		return out
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		return val.String()
	default:
		return val
	}
}

// MustRequestID is RequestID for inputs known to be valid. Panics on error.
func MustRequestID(endpoint string, params [][2]string) string {
	id, err := RequestID(endpoint, params)
	if err != nil {
		panic(err)
	}
	return id
}
