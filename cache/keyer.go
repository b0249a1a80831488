package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Keyer derives a cache key from a composite key such as
// ("todos", map[string]any{"page": 2}).
//
// Contract:
// - Determinism: same parts must produce the same key, regardless of map
// iteration order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(parts ...any) (string, error)
}

// DefaultKeyer derives keys of the form <root>:<hash>, where root is the
// first part and hash is the first 16 hex characters of SHA-256 over the
// canonical JSON of the remaining parts. A single string part is returned
// unchanged so plain keys stay opaque.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key derives a key from parts. Sharing the root keeps related keys under a
// common prefix, so a family can be invalidated together.
func (k *DefaultKeyer) Key(parts ...any) (string, error) {
	if len(parts) == 0 {
		return "", ErrInvalidKey
	}

	root, ok := parts[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: first key part must be a string, got %T", ErrInvalidKey, parts[0])
	}
	if err := ValidateKey(root); err != nil {
		return "", err
	}
	if len(parts) == 1 {
		return root, nil
	}

	canonical, err := canonicalize(parts[1:])
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize key: %w", err)
	}

	hash := sha256.Sum256(canonical)
	key := root + ":" + hex.EncodeToString(hash[:8])
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// canonicalize produces a deterministic JSON representation of v.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, '}'), nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}
		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, ']'), nil
}

var _ Keyer = (*DefaultKeyer)(nil)
