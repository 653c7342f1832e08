// Package dbservice persists staged uploads. It serves DBRequest values on
// /db/new_file and answers each with a DBResponse.
package dbservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/drblury/relayflow/internal/runtime/channels"
	"github.com/drblury/relayflow/internal/runtime/dispatch"
	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/internal/runtime/pool"
	"github.com/drblury/relayflow/internal/runtime/service"
	"github.com/drblury/relayflow/internal/runtime/storage"
	"github.com/drblury/relayflow/internal/runtime/stream"
	"github.com/drblury/relayflow/msg"
)

// Name is the service name used in logs, metrics and the side channel.
const Name = "DBService"

// ErrOutsideStaging rejects SaveFile paths that do not live in the staging
// directory.
var ErrOutsideStaging = errors.New("dbservice: path is outside the staging directory")

// Options configure Start.
type Options struct {
	// StagingDir is the only directory SaveFile reads from.
	StagingDir string
	// Workers bounds concurrent commands. Values below 1 mean 1.
	Workers int
	// Intake adds stream options to the /db/new_file router.
	Intake []stream.Option
	Hooks  service.JobHooks
}

// handle is the service context handed to every command.
type handle struct {
	db         *storage.DB
	files      storage.Files
	stagingDir string
	logger     logging.ServiceLogger
}

// Start creates the files table, binds /db/new_file and starts serving.
func Start(ctx context.Context, streams *stream.Factory, db *storage.DB, opts Options) (*service.Service[*msg.DBRequest], error) {
	if db == nil {
		return nil, errors.New("dbservice: database is required")
	}
	staging, err := filepath.Abs(opts.StagingDir)
	if err != nil || opts.StagingDir == "" {
		return nil, fmt.Errorf("dbservice: invalid staging directory %q", opts.StagingDir)
	}

	h := &handle{db: db, stagingDir: staging, logger: logging.OrNop(streams.Logger)}
	if err := db.WithSession(ctx, func(ctx context.Context, q storage.Querier) error {
		return h.files.EnsureSchema(ctx, q)
	}); err != nil {
		return nil, err
	}

	intake, err := streams.RouterStream(ctx, channels.DBNewFile, opts.Intake...)
	if err != nil {
		return nil, err
	}

	svc, err := service.New(ctx, streams, service.Config[*msg.DBRequest]{
		Name:    Name,
		Factory: NewFactory(),
		Replies: Replies(),
		Intake:  intake,
		Pool:    pool.New(opts.Workers, streams.Logger),
		Context: func([][]byte, *msg.DBRequest) any { return h },
		Hooks:   service.LoggingHooks(streams.Logger).Merge(opts.Hooks),
	})
	if err != nil {
		_ = intake.Close()
		return nil, err
	}
	return svc, nil
}

// NewFactory returns the command factory of the database service.
func NewFactory() *dispatch.Factory[*msg.DBRequest] {
	return dispatch.NewFactory[*msg.DBRequest]("DBCommandFactory").
		Register(msg.CommandSaveFile, newSaveFile)
}

// Replies builds DBResponse replies. A successful SaveFile answers with the
// stored model.
func Replies() service.Replies[*msg.DBRequest] {
	return service.Replies[*msg.DBRequest]{
		Success: func(req *msg.DBRequest, value any) (any, error) {
			id, ok := value.(int64)
			if !ok {
				return nil, fmt.Errorf("dbservice: unexpected result %T", value)
			}
			return &msg.DBResponse{Success: true, Model: &msg.Model{ID: id, UserID: req.UserID}}, nil
		},
		Error: func(_ *msg.DBRequest, err error) any {
			return &msg.DBResponse{Success: false, Error: err.Error()}
		},
	}
}

// saveFile stores a staged file for a user and removes it from staging.
type saveFile struct {
	h        *handle
	path     string
	filename string
	userID   int64
}

func newSaveFile(_ [][]byte, req *msg.DBRequest, svcCtx any) (dispatch.Command, error) {
	h, ok := svcCtx.(*handle)
	if !ok {
		return nil, fmt.Errorf("dbservice: missing database handle")
	}
	return &saveFile{h: h, path: req.Path, filename: req.Filename, userID: req.UserID}, nil
}

func (c *saveFile) Initialize(context.Context, *dispatch.Exec) error {
	path, err := filepath.Abs(c.path)
	if err != nil {
		return err
	}
	if !inside(c.h.stagingDir, path) {
		return fmt.Errorf("%w: %s", ErrOutsideStaging, c.path)
	}
	c.path = path
	if c.filename == "" {
		c.filename = filepath.Base(path)
	}
	return nil
}

func (c *saveFile) Run(ctx context.Context) (any, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("dbservice: read staged file: %w", err)
	}

	f := &storage.File{UserID: c.userID, Name: c.filename, Data: data}
	if err := c.h.db.WithSession(ctx, func(ctx context.Context, q storage.Querier) error {
		return c.h.files.Insert(ctx, q, f)
	}); err != nil {
		return nil, err
	}

	c.h.logger.Debug("File saved, removing it", logging.LogFields{"path": c.path, "file_id": f.ID})
	if err := os.Remove(c.path); err != nil {
		c.h.logger.Error("Unable to delete staged file", err, logging.LogFields{"path": c.path})
	}
	return f.ID, nil
}

func inside(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
