// Package cache provides the keyed state store behind query results.
//
// It holds one Entry per key with key-scoped merge updates, the staleness
// arithmetic used to decide when a key should be refetched, and helpers for
// validating and deriving keys.
package cache
