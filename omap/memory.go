package omap

import (
	"context"
	"sort"
	"sync"
)

const defaultPageSize = 1 << 10

// MemStore is an in-process Store used by tests and by single-process
// deployments that do not need durability.
type MemStore struct {
	// PageSize caps GetVals pages; tests shrink it to exercise
	// pagination. Zero means the default.
	PageSize int

	// MutateHook, when set, runs before a mutation is applied. A
	// non-nil return aborts the mutation and is returned to the
	// caller. Tests use it to inject write failures and simulated
	// crashes between sub-operations.
	MutateHook func(oid string, m *Mutation) error

	mu      sync.Mutex
	objects map[string]*memObject
}

type memObject struct {
	header []byte
	vals   map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]*memObject)}
}

func (s *MemStore) Mutate(ctx context.Context, oid string, m *Mutation) error {
	if s.MutateHook != nil {
		if err := s.MutateHook(oid, m); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.objects[oid]
	if obj == nil {
		obj = &memObject{vals: make(map[string][]byte)}
		s.objects[oid] = obj
	}

	if m.Clear {
		obj.vals = make(map[string][]byte)
	}
	if m.SetHeader {
		obj.header = append([]byte(nil), m.Header...)
	}
	for k, v := range m.ToSet {
		obj.vals[k] = append([]byte(nil), v...)
	}
	for _, k := range m.ToRemove {
		delete(obj.vals, k)
	}
	return nil
}

func (s *MemStore) GetHeader(ctx context.Context, oid string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.objects[oid]
	if obj == nil {
		return nil, nil
	}
	return append([]byte(nil), obj.header...), nil
}

func (s *MemStore) GetVals(ctx context.Context, oid string, startAfter string, max uint64) ([]KV, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj := s.objects[oid]
	if obj == nil {
		return nil, false, nil
	}

	keys := make([]string, 0, len(obj.vals))
	for k := range obj.vals {
		if k > startAfter {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := uint64(s.PageSize)
	if limit == 0 {
		limit = defaultPageSize
	}
	if max < limit {
		limit = max
	}

	more := uint64(len(keys)) > limit
	if more {
		keys = keys[:limit]
	}
	ret := make([]KV, 0, len(keys))
	for _, k := range keys {
		ret = append(ret, KV{Key: k, Value: append([]byte(nil), obj.vals[k]...)})
	}
	return ret, more, nil
}

// SeedHeader and SeedValue write object state directly, bypassing
// Mutate. Tests use them to fabricate on-disk states such as a
// mid-commit crash or a corrupt value.
func (s *MemStore) SeedHeader(oid string, header []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.objects[oid]
	if obj == nil {
		obj = &memObject{vals: make(map[string][]byte)}
		s.objects[oid] = obj
	}
	obj.header = append([]byte(nil), header...)
}

func (s *MemStore) SeedValue(oid string, key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.objects[oid]
	if obj == nil {
		obj = &memObject{vals: make(map[string][]byte)}
		s.objects[oid] = obj
	}
	obj.vals[key] = append([]byte(nil), value...)
}

// Dump returns a copy of the object's header and values.
func (s *MemStore) Dump(oid string) ([]byte, map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := s.objects[oid]
	if obj == nil {
		return nil, nil
	}
	vals := make(map[string][]byte, len(obj.vals))
	for k, v := range obj.vals {
		vals[k] = append([]byte(nil), v...)
	}
	return append([]byte(nil), obj.header...), vals
}
