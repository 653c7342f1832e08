package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relayflow/internal/runtime/jsoncodec"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("COMM_DIR", dir)
	t.Setenv("STAGING_DIR", filepath.Join(dir, "staging"))
	t.Setenv("CHANNEL_MAP_FILE", "")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("REQUEST_TRANSPORT", "ipc")
	return dir
}

func TestRunHelpAndUnknownCommands(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"help"}, &out))
	assert.Contains(t, out.String(), "Usage: relayflow")

	out.Reset()
	err := run(context.Background(), []string{"bogus"}, &out)
	assert.ErrorContains(t, err, `unknown command "bogus"`)
	assert.Contains(t, out.String(), "Commands:")

	assert.ErrorContains(t, run(context.Background(), nil, &out), "missing command")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv("NETWORK_BACKEND", "carrier-pigeon")

	err := run(context.Background(), []string{"channels"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "carrier-pigeon")
}

func TestChannelsPrintsDefaultTable(t *testing.T) {
	isolateEnv(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"channels"}, &out))

	var table struct {
		Channels map[string]map[string]string `json:"channels"`
		Patterns []string                     `json:"patterns"`
	}
	require.NoError(t, jsoncodec.Unmarshal(out.Bytes(), &table))
	assert.Equal(t, "*msg.DBRequest", table.Channels["/db/new_file"]["send_type"])
	assert.Equal(t, "*msg.DBResponse", table.Channels["/db/new_file"]["reply_type"])
	assert.Equal(t, "*msg.ProviderResponse", table.Channels["/request/local"]["reply_type"])
	assert.Equal(t, []string{"/worker/state/(.+)"}, table.Patterns)
}

func TestChannelsFromMapFile(t *testing.T) {
	dir := isolateEnv(t)
	path := filepath.Join(dir, "channels.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"channels": {"/only/one": {"send_type": "WorkerState"}}
	}`), 0o600))
	t.Setenv("CHANNEL_MAP_FILE", path)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"channels"}, &out))
	assert.Contains(t, out.String(), "/only/one")
	assert.NotContains(t, out.String(), "/db/new_file")
}

func TestRequestNeedsCommand(t *testing.T) {
	isolateEnv(t)
	err := run(context.Background(), []string{"request"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "command is required")
}

func TestEchoServiceStopsOnCancel(t *testing.T) {
	isolateEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, run(ctx, []string{"echo-service"}, &bytes.Buffer{}))
}

func TestProxyStopsOnCancel(t *testing.T) {
	isolateEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, run(ctx, []string{"proxy"}, &bytes.Buffer{}))
}
