package dbservice

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relayflow/internal/runtime/channels"
	"github.com/drblury/relayflow/internal/runtime/storage"
	"github.com/drblury/relayflow/internal/runtime/storage/storagetest"
	"github.com/drblury/relayflow/internal/runtime/stream"
	"github.com/drblury/relayflow/internal/runtime/stream/streamtest"
	"github.com/drblury/relayflow/msg"
)

type fixture struct {
	mem     *storagetest.MemDB
	staging string
	replies chan *msg.DBResponse
	client  *stream.Stream
}

func setup(t *testing.T) *fixture {
	t.Helper()
	streams, ctx := streamtest.NewFactory(t, nil)

	f := &fixture{
		mem:     storagetest.New(),
		staging: t.TempDir(),
		replies: make(chan *msg.DBResponse, 16),
	}
	svc, err := Start(ctx, streams, storage.New(f.mem, nil), Options{StagingDir: f.staging, Workers: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	f.client, err = streams.DealerStream(ctx, channels.DBNewFile,
		stream.WithRecv(stream.Typed(func(_ [][]byte, resps []*msg.DBResponse) {
			for _, r := range resps {
				f.replies <- r
			}
		})))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.client.Close() })
	return f
}

func (f *fixture) stage(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.staging, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (f *fixture) roundTrip(t *testing.T, req *msg.DBRequest) *msg.DBResponse {
	t.Helper()
	require.NoError(t, f.client.Send(req))
	select {
	case r := <-f.replies:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for DBResponse")
		return nil
	}
}

func TestSaveFileStoresAndRemovesStagedFile(t *testing.T) {
	f := setup(t)
	assert.True(t, f.mem.HasSchema())

	path := f.stage(t, "upload-1.stl", "solid cube")
	resp := f.roundTrip(t, &msg.DBRequest{Command: msg.CommandSaveFile, Path: path, Filename: "cube.stl", UserID: 12})

	require.True(t, resp.Success, resp.Error)
	require.NotNil(t, resp.Model)
	assert.Equal(t, int64(12), resp.Model.UserID)

	stored, ok := f.mem.File(resp.Model.ID)
	require.True(t, ok)
	assert.Equal(t, "cube.stl", stored.Name)
	assert.Equal(t, []byte("solid cube"), stored.Data)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "staged file should be removed")
}

func TestSaveFileDefaultsFilename(t *testing.T) {
	f := setup(t)
	path := f.stage(t, "part.obj", "v 0 0 0")

	resp := f.roundTrip(t, &msg.DBRequest{Command: msg.CommandSaveFile, Path: path, UserID: 3})
	require.True(t, resp.Success, resp.Error)

	stored, ok := f.mem.File(resp.Model.ID)
	require.True(t, ok)
	assert.Equal(t, "part.obj", stored.Name)
}

func TestSaveFileRejectsPathsOutsideStaging(t *testing.T) {
	f := setup(t)
	outside := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o600))

	for _, path := range []string{outside, filepath.Join(f.staging, "..", "escape"), f.staging} {
		resp := f.roundTrip(t, &msg.DBRequest{Command: msg.CommandSaveFile, Path: path, UserID: 1})
		assert.False(t, resp.Success, path)
		assert.Contains(t, resp.Error, "outside the staging directory")
	}
	assert.Zero(t, f.mem.Len())
	_, err := os.Stat(outside)
	assert.NoError(t, err)
}

func TestSaveFileMissingFile(t *testing.T) {
	f := setup(t)
	resp := f.roundTrip(t, &msg.DBRequest{Command: msg.CommandSaveFile, Path: filepath.Join(f.staging, "gone"), UserID: 1})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "read staged file")
}

func TestUnsupportedCommand(t *testing.T) {
	f := setup(t)
	resp := f.roundTrip(t, &msg.DBRequest{Command: msg.CommandQuote})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "DBCommandFactory")
	assert.Contains(t, resp.Error, "QUOTE")
}

func TestInside(t *testing.T) {
	dir := filepath.FromSlash("/tmp/staging")
	tests := []struct {
		path string
		want bool
	}{
		{"/tmp/staging/a", true},
		{"/tmp/staging/sub/b", true},
		{"/tmp/staging", false},
		{"/tmp/staging/../etc/passwd", false},
		{"/tmp/stagingx/a", false},
		{"/tmp/staging/..a", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, inside(dir, filepath.Clean(filepath.FromSlash(tt.path))), tt.path)
	}
}
