package storeapi

import (
	"context"
	"sort"
	"sync"
)

type memRow struct {
	qualifiers [][]byte
	values     [][]byte
}

// MemStore is an in-memory Store used by unit tests across the engine; it
// is not a performance-oriented implementation.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]map[string]memRow // familyKey(table, family) -> string(rowKey) -> row
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string]memRow)}
}

func familyKey(table, family string) string { return table + "\x00" + family }

func (m *MemStore) family(table, family string) map[string]memRow {
	k := familyKey(table, family)
	f, ok := m.data[k]
	if !ok {
		f = make(map[string]memRow)
		m.data[k] = f
	}
	return f
}

func (m *MemStore) Get(_ context.Context, table string, key []byte, family string) (Row, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.family(table, family)[string(key)]
	if !ok {
		return Row{}, false, nil
	}
	return Row{Key: key, Qualifiers: row.qualifiers, Values: row.values}, true, nil
}

func (m *MemStore) MultiGet(ctx context.Context, table string, keys [][]byte, family string) ([]Row, []bool, error) {
	rows := make([]Row, len(keys))
	found := make([]bool, len(keys))
	for i, k := range keys {
		r, ok, err := m.Get(ctx, table, k, family)
		if err != nil {
			return nil, nil, err
		}
		rows[i], found[i] = r, ok
	}
	return rows, found, nil
}

func (m *MemStore) Scan(_ context.Context, table string, startKey, stopKey []byte, family string, fn func(Row) error) error {
	m.mu.RLock()
	fam := m.family(table, family)
	keys := make([]string, 0, len(fam))
	for k := range fam {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m.mu.RUnlock()

	for _, k := range keys {
		if k < string(startKey) {
			continue
		}
		if stopKey != nil && k >= string(stopKey) {
			break
		}
		m.mu.RLock()
		row, ok := fam[k]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn(Row{Key: []byte(k), Qualifiers: row.qualifiers, Values: row.values}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) Put(_ context.Context, table string, key []byte, family string, qualifier, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fam := m.family(table, family)
	row := fam[string(key)]
	for i, q := range row.qualifiers {
		if string(q) == string(qualifier) {
			row.values[i] = value
			fam[string(key)] = row
			return nil
		}
	}
	row.qualifiers = append(row.qualifiers, qualifier)
	row.values = append(row.values, value)
	fam[string(key)] = row
	return nil
}

func (m *MemStore) Delete(_ context.Context, table string, key []byte, family string, qualifier []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fam := m.family(table, family)
	if qualifier == nil {
		delete(fam, string(key))
		return nil
	}
	row, ok := fam[string(key)]
	if !ok {
		return nil
	}
	for i, q := range row.qualifiers {
		if string(q) == string(qualifier) {
			row.qualifiers = append(row.qualifiers[:i], row.qualifiers[i+1:]...)
			row.values = append(row.values[:i], row.values[i+1:]...)
			fam[string(key)] = row
			return nil
		}
	}
	return nil
}
