// Package memory is an in-process TransactionExporter, used for dry runs
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"famfin/internal/sheets"
)

type Store struct {
	mu   sync.Mutex
	rows []sheets.Row
}

var _ sheets.TransactionExporter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// AppendRows stores the rows and returns a synthetic range reference.
func (s *Store) AppendRows(_ context.Context, rows []sheets.Row) (sheets.ExportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(rows) == 0 {
		return sheets.ExportResult{}, nil
	}
	start := len(s.rows) + 1
	s.rows = append(s.rows, rows...)
	return sheets.ExportResult{
		Rows:   len(rows),
		Ranges: []string{fmt.Sprintf("mem:%d-%d", start, len(s.rows))},
	}, nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []sheets.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.Row(nil), s.rows...)
}
