package edgestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a Store kept in process memory. Scan order is stable
// (sorted by canonical key) so pagination behaves like the real store.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*memoryTable

	// WriteHook, when set, runs before every BatchWrite and may fail it.
	// Tests use it to inject transient faults.
	WriteHook func(table string, batch Batch) error
}

type memoryTable struct {
	keyAttrs []string
	items    map[string]Item
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store with no tables.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memoryTable)}
}

// CreateTable registers a table and the attribute names forming its key.
func (s *MemoryStore) CreateTable(name string, keyAttrs ...string) {
	if len(keyAttrs) == 0 {
		panic("edgestore: table needs at least one key attribute")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = &memoryTable{keyAttrs: keyAttrs, items: make(map[string]Item)}
}

// Len returns the number of items in a table.
func (s *MemoryStore) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[table]; ok {
		return len(t.items)
	}
	return 0
}

func (s *MemoryStore) BatchWrite(ctx context.Context, table string, batch Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Len() > MaxBatchSize {
		return fmt.Errorf("edgestore: batch of %d exceeds limit %d", batch.Len(), MaxBatchSize)
	}
	if hook := s.WriteHook; hook != nil {
		if err := hook(table, batch); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return fmt.Errorf("edgestore: unknown table %q", table)
	}
	for _, item := range batch.Puts {
		key, err := t.canonicalKey(item)
		if err != nil {
			return err
		}
		t.items[key] = cloneItem(item)
	}
	for _, key := range batch.Deletes {
		canonical, err := t.canonicalKey(key)
		if err != nil {
			return err
		}
		delete(t.items, canonical)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, table string, key Item) (Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("edgestore: unknown table %q", table)
	}
	canonical, err := t.canonicalKey(key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[canonical]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *MemoryStore) Scan(ctx context.Context, req ScanRequest) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[req.Table]
	if !ok {
		return Page{}, fmt.Errorf("edgestore: unknown table %q", req.Table)
	}

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if req.StartKey != nil {
		after, err := t.canonicalKey(req.StartKey)
		if err != nil {
			return Page{}, err
		}
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}

	limit := len(keys) - start
	if req.Limit > 0 && int(req.Limit) < limit {
		limit = int(req.Limit)
	}

	page := Page{Items: make([]Item, 0, limit)}
	for _, k := range keys[start : start+limit] {
		page.Items = append(page.Items, cloneItem(t.items[k]))
	}
	page.ConsumedCapacity = float64(len(page.Items))

	if start+limit < len(keys) && len(page.Items) > 0 {
		last := page.Items[len(page.Items)-1]
		lastKey := make(Item, len(t.keyAttrs))
		for _, attr := range t.keyAttrs {
			lastKey[attr] = last[attr]
		}
		page.LastKey = lastKey
	}
	return page, nil
}

func (t *memoryTable) canonicalKey(item Item) (string, error) {
	parts := make([]string, 0, len(t.keyAttrs))
	for _, attr := range t.keyAttrs {
		v, ok := item[attr]
		if !ok {
			return "", fmt.Errorf("edgestore: item missing key attribute %q", attr)
		}
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	return strings.Join(parts, "\x00"), nil
}

func cloneItem(item Item) Item {
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneAny(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneAny(e)
		}
		return out
	default:
		return v
	}
}
