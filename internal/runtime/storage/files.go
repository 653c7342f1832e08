package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrFileNotFound is returned by Files.Get for unknown ids.
var ErrFileNotFound = errors.New("storage: file not found")

// File is one stored upload.
type File struct {
	ID        int64
	UserID    int64
	Name      string
	Data      []byte
	CreatedAt time.Time
}

const filesSchema = `CREATE TABLE IF NOT EXISTS files (
	id           BIGSERIAL PRIMARY KEY,
	user_id      BIGINT NOT NULL,
	name         TEXT NOT NULL,
	data         BYTEA NOT NULL,
	date_created TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Files is the repository of stored uploads. It is stateless; every call
// runs on the Querier it is given, normally a session from DB.WithSession.
type Files struct{}

// EnsureSchema creates the files table when it does not exist.
func (Files) EnsureSchema(ctx context.Context, q Querier) error {
	if _, err := q.Exec(ctx, filesSchema); err != nil {
		return fmt.Errorf("storage: ensure files schema: %w", err)
	}
	return nil
}

// Insert stores f and fills in its ID and CreatedAt.
func (Files) Insert(ctx context.Context, q Querier, f *File) error {
	row := q.QueryRow(ctx,
		`INSERT INTO files (user_id, name, data) VALUES ($1, $2, $3)
		 RETURNING id, date_created`,
		f.UserID, f.Name, f.Data)
	if err := row.Scan(&f.ID, &f.CreatedAt); err != nil {
		return fmt.Errorf("storage: insert file %q: %w", f.Name, err)
	}
	return nil
}

// Get loads the file with id.
func (Files) Get(ctx context.Context, q Querier, id int64) (*File, error) {
	f := &File{}
	row := q.QueryRow(ctx,
		`SELECT id, user_id, name, data, date_created FROM files WHERE id = $1`, id)
	err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.Data, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get file %d: %w", id, err)
	}
	return f, nil
}
