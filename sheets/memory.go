package sheets

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend keeps tables in process memory. It backs local development
// and tests.
type MemoryBackend struct {
	mu     sync.Mutex
	seq    int
	tables map[string]*MemoryTable
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: map[string]*MemoryTable{}}
}

func (b *MemoryBackend) Open(_ context.Context, id string) (Table, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tables[id]
	if !ok || t.isGone() {
		return nil, fmt.Errorf("open %q: %w", id, ErrStoreNotFound)
	}
	return t, nil
}

func (b *MemoryBackend) Create(_ context.Context, title string) (Table, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	t := &MemoryTable{id: fmt.Sprintf("mem-%d", b.seq), title: title}
	b.tables[t.id] = t
	return t, nil
}

// Tables returns every table created so far, including removed ones.
func (b *MemoryBackend) Tables() []*MemoryTable {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*MemoryTable, 0, len(b.tables))
	for i := 1; i <= b.seq; i++ {
		if t, ok := b.tables[fmt.Sprintf("mem-%d", i)]; ok {
			out = append(out, t)
		}
	}
	return out
}

// MemoryTable is a Table held in memory.
type MemoryTable struct {
	id    string
	title string

	mu   sync.Mutex
	rows [][]interface{}
	gone bool
}

func (t *MemoryTable) ID() string    { return t.id }
func (t *MemoryTable) Title() string { return t.title }

func (t *MemoryTable) HasHeader(context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rows) == 0 || len(t.rows[0]) == 0 {
		return false, nil
	}
	return fmt.Sprint(t.rows[0][0]) != "", nil
}

func (t *MemoryTable) WriteHeader(_ context.Context, header []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := make([]interface{}, len(header))
	for i, h := range header {
		row[i] = h
	}
	if len(t.rows) == 0 {
		t.rows = append(t.rows, row)
	} else {
		t.rows[0] = row
	}
	return nil
}

func (t *MemoryTable) AppendRow(_ context.Context, row []interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gone {
		return fmt.Errorf("append to %q: %w", t.id, ErrStoreGone)
	}
	t.rows = append(t.rows, append([]interface{}(nil), row...))
	return nil
}

// Rows returns a copy of every row, header included.
func (t *MemoryTable) Rows() [][]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]interface{}, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]interface{}(nil), r...)
	}
	return out
}

// Remove simulates the spreadsheet being deleted out from under the service.
func (t *MemoryTable) Remove() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gone = true
}

func (t *MemoryTable) isGone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gone
}
