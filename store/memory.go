package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type tableName struct{ schema, table string }

func (n tableName) String() string { return n.schema + "." + n.table }

// cell is one counted (value, visibility) pair within a family.
type cell struct{ value, visibility string }

type memTable struct {
	rows  int64
	cells map[string]map[cell]int64 // family -> cell -> count
}

// MemoryStore is the in-process reference implementation of Store.
// Deterministic and dependency-free on the hot path; Snapshot/Restore
// persist its contents as msgpack for restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[tableName]*memTable
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[tableName]*memTable)}
}

func (s *MemoryStore) Create(_ context.Context, schema, table string) error {
	n := tableName{schema, table}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[n]; ok {
		return fmt.Errorf("create %s: %w", n, ErrTableExists)
	}
	s.tables[n] = &memTable{cells: make(map[string]map[cell]int64)}
	return nil
}

func (s *MemoryStore) Drop(_ context.Context, schema, table string) error {
	n := tableName{schema, table}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[n]; !ok {
		return fmt.Errorf("drop %s: %w", n, ErrTableNotFound)
	}
	delete(s.tables, n)
	return nil
}

func (s *MemoryStore) Rename(_ context.Context, schema, oldName, newName string) error {
	from, to := tableName{schema, oldName}, tableName{schema, newName}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[from]
	if !ok {
		return fmt.Errorf("rename %s: %w", from, ErrTableNotFound)
	}
	if _, ok := s.tables[to]; ok {
		return fmt.Errorf("rename to %s: %w", to, ErrTableExists)
	}
	s.tables[to] = t
	delete(s.tables, from)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, schema, table string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[tableName{schema, table}]
	return ok, nil
}

func (s *MemoryStore) Writer(schema, table string) Writer {
	return &memoryWriter{s: s, name: tableName{schema, table}}
}

func (s *MemoryStore) Reader() Reader { return &memoryReader{s: s} }

type increment struct {
	value, family, visibility string
}

type memoryWriter struct {
	s    *MemoryStore
	name tableName
	buf  []increment
	rows int64
}

func (w *memoryWriter) IncrementCardinality(value, family, visibility string) {
	w.buf = append(w.buf, increment{value: value, family: family, visibility: visibility})
}

func (w *memoryWriter) IncrementRowCount() { w.rows++ }

func (w *memoryWriter) Flush(_ context.Context) error {
	if len(w.buf) == 0 && w.rows == 0 {
		return nil
	}
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	t, ok := w.s.tables[w.name]
	if !ok {
		return fmt.Errorf("flush %s: %w", w.name, ErrTableNotFound)
	}
	for _, inc := range w.buf {
		fam := t.cells[inc.family]
		if fam == nil {
			fam = make(map[cell]int64)
			t.cells[inc.family] = fam
		}
		fam[cell{inc.value, inc.visibility}]++
	}
	t.rows += w.rows
	w.buf = w.buf[:0]
	w.rows = 0
	return nil
}

func (w *memoryWriter) Close(ctx context.Context) error { return w.Flush(ctx) }

type memoryReader struct {
	s *MemoryStore
}

func (r *memoryReader) GetCardinality(_ context.Context, key CacheKey) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.cardinalityLocked(key)
}

func (r *memoryReader) SumCardinalities(_ context.Context, keys []CacheKey) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var sum int64
	for _, key := range keys {
		n, err := r.s.cardinalityLocked(key)
		if err != nil {
			return 0, err
		}
		sum += n
	}
	return sum, nil
}

func (r *memoryReader) GetCardinalities(_ context.Context, keys []CacheKey) (map[CacheKey]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[CacheKey]int64, len(keys))
	for _, key := range keys {
		n, err := r.s.cardinalityLocked(key)
		if err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, nil
}

func (r *memoryReader) NumRows(_ context.Context, schema, table string) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tables[tableName{schema, table}]
	if !ok {
		return 0, fmt.Errorf("rows %s.%s: %w", schema, table, ErrTableNotFound)
	}
	return t.rows, nil
}

// cardinalityLocked assumes s.mu is held (read or write).
func (s *MemoryStore) cardinalityLocked(key CacheKey) (int64, error) {
	t, ok := s.tables[tableName{key.Schema, key.Table}]
	if !ok {
		return 0, fmt.Errorf("read %s.%s: %w", key.Schema, key.Table, ErrTableNotFound)
	}
	var sum int64
	for c, count := range t.cells[key.Family] {
		if key.Auths.Visible(c.visibility) && key.Range.Contains(c.value) {
			sum += count
		}
	}
	return sum, nil
}

type snapshotCell struct {
	Family     string `msgpack:"family"`
	Value      string `msgpack:"value"`
	Visibility string `msgpack:"visibility"`
	Count      int64  `msgpack:"count"`
}

type snapshotTable struct {
	Schema string         `msgpack:"schema"`
	Table  string         `msgpack:"table"`
	Rows   int64          `msgpack:"rows"`
	Cells  []snapshotCell `msgpack:"cells"`
}

// Snapshot serializes the full store contents. The result round-trips
// through Restore; no ordering is guaranteed across snapshots.
func (s *MemoryStore) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tables := make([]snapshotTable, 0, len(s.tables))
	for n, t := range s.tables {
		st := snapshotTable{Schema: n.schema, Table: n.table, Rows: t.rows}
		for fam, cells := range t.cells {
			for c, count := range cells {
				st.Cells = append(st.Cells, snapshotCell{
					Family:     fam,
					Value:      c.value,
					Visibility: c.visibility,
					Count:      count,
				})
			}
		}
		tables = append(tables, st)
	}
	return msgpack.Marshal(tables)
}

// Restore replaces the store contents with a previous Snapshot.
func (s *MemoryStore) Restore(data []byte) error {
	var tables []snapshotTable
	if err := msgpack.Unmarshal(data, &tables); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	next := make(map[tableName]*memTable, len(tables))
	for _, st := range tables {
		t := &memTable{rows: st.Rows, cells: make(map[string]map[cell]int64)}
		for _, sc := range st.Cells {
			fam := t.cells[sc.Family]
			if fam == nil {
				fam = make(map[cell]int64)
				t.cells[sc.Family] = fam
			}
			fam[cell{sc.Value, sc.Visibility}] = sc.Count
		}
		next[tableName{st.Schema, st.Table}] = t
	}
	s.mu.Lock()
	s.tables = next
	s.mu.Unlock()
	return nil
}
