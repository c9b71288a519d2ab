package omap

import (
	"context"
)

// KV is one key/value pair of an object's omap.
type KV struct {
	Key   string
	Value []byte
}

// Mutation is one atomic update against a single object. The clear, if
// requested, is applied before the key updates and before the header
// set; it never fails the mutation even when the object does not exist
// yet.
type Mutation struct {
	Priority  int
	Clear     bool
	SetHeader bool
	Header    []byte
	ToSet     map[string][]byte
	ToRemove  []string
}

// Store is an unordered string->bytes key/value map per object, with a
// separate header bytes field. A single Mutate call is applied
// atomically; distinct Mutate calls against one object are applied in
// the order they reach the store. Callers that depend on cross-call
// ordering must serialize their own submissions; the open file table
// does so through its io loop.
type Store interface {
	Mutate(ctx context.Context, oid string, m *Mutation) error
	// GetHeader returns the header bytes, nil if the object or its
	// header does not exist.
	GetHeader(ctx context.Context, oid string) ([]byte, error)
	// GetVals returns one key-sorted page of key/value pairs strictly
	// after startAfter, capped at max and at the store's page limit.
	// The second return reports whether more pairs remain.
	GetVals(ctx context.Context, oid string, startAfter string, max uint64) ([]KV, bool, error)
}
