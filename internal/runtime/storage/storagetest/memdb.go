// Package storagetest provides an in-memory transaction source that
// understands the statements issued by storage.Files.
package storagetest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/drblury/relayflow/internal/runtime/storage"
)

// MemDB satisfies storage.Beginner. Writes become visible to other
// transactions on commit.
type MemDB struct {
	// BeginErr and CommitErr, when set, fail every Begin or Commit.
	BeginErr  error
	CommitErr error

	mu        sync.Mutex
	files     map[int64]storage.File
	nextID    int64
	schema    bool
	commits   int
	rollbacks int
}

// New returns an empty database.
func New() *MemDB {
	return &MemDB{files: make(map[int64]storage.File)}
}

func (m *MemDB) Begin(context.Context) (pgx.Tx, error) {
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	return &memTx{db: m}, nil
}

// File returns a committed file.
func (m *MemDB) File(id int64) (storage.File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	return f, ok
}

// Len reports the number of committed files.
func (m *MemDB) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// HasSchema reports whether EnsureSchema has been committed.
func (m *MemDB) HasSchema() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schema
}

// Counts returns the number of commits and rollbacks seen so far.
func (m *MemDB) Counts() (commits, rollbacks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits, m.rollbacks
}

type memTx struct {
	pgx.Tx

	db      *MemDB
	pending []storage.File
	schema  bool
	closed  bool
}

func (t *memTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if t.closed {
		return pgconn.CommandTag{}, pgx.ErrTxClosed
	}
	if strings.Contains(sql, "CREATE TABLE") {
		t.schema = true
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("storagetest: unsupported statement %q", sql)
}

func (t *memTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if t.closed {
		return row{err: pgx.ErrTxClosed}
	}
	sql = strings.TrimSpace(sql)
	switch {
	case strings.HasPrefix(sql, "INSERT INTO files"):
		t.db.mu.Lock()
		t.db.nextID++
		id := t.db.nextID
		t.db.mu.Unlock()

		f := storage.File{
			ID:        id,
			UserID:    args[0].(int64),
			Name:      args[1].(string),
			Data:      args[2].([]byte),
			CreatedAt: time.Now().UTC(),
		}
		t.pending = append(t.pending, f)
		return row{vals: []any{f.ID, f.CreatedAt}}
	case strings.HasPrefix(sql, "SELECT") && strings.Contains(sql, "FROM files"):
		id := args[0].(int64)
		f, ok := t.lookup(id)
		if !ok {
			return row{err: pgx.ErrNoRows}
		}
		return row{vals: []any{f.ID, f.UserID, f.Name, f.Data, f.CreatedAt}}
	}
	return row{err: fmt.Errorf("storagetest: unsupported query %q", sql)}
}

func (t *memTx) lookup(id int64) (storage.File, bool) {
	for _, f := range t.pending {
		if f.ID == id {
			return f, true
		}
	}
	return t.db.File(id)
}

func (t *memTx) Commit(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	if t.db.CommitErr != nil {
		t.db.mu.Lock()
		t.db.rollbacks++
		t.db.mu.Unlock()
		return t.db.CommitErr
	}

	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for _, f := range t.pending {
		t.db.files[f.ID] = f
	}
	if t.schema {
		t.db.schema = true
	}
	t.db.commits++
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.mu.Lock()
	t.db.rollbacks++
	t.db.mu.Unlock()
	return nil
}

type row struct {
	vals []any
	err  error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("storagetest: scan %d columns into %d targets", len(r.vals), len(dest))
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.vals[i]))
	}
	return nil
}
