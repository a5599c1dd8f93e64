package memory

import (
	"context"
	"sync"

	"orti/internal/sheets"
)

// Reader serves static tables. Used by tests and by JSON uploads that
// already carry their cells.
type Reader struct {
	mu     sync.Mutex
	tables []sheets.Table
	err    error
	reads  int
}

var _ sheets.TableReader = (*Reader)(nil)

func New(tables ...sheets.Table) *Reader {
	return &Reader{tables: tables}
}

// Failing returns a reader whose every read fails with err.
func Failing(err error) *Reader {
	return &Reader{err: err}
}

func (r *Reader) ReadTables(_ context.Context) ([]sheets.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	out := make([]sheets.Table, len(r.tables))
	for i, t := range r.tables {
		rows := make([][]string, len(t.Rows))
		for j, row := range t.Rows {
			rows[j] = append([]string(nil), row...)
		}
		out[i] = sheets.Table{Name: t.Name, Rows: rows}
	}
	return out, nil
}

// Reads reports how many times ReadTables was called.
func (r *Reader) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}
