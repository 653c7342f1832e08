// Package streamtest builds stream factories for tests: a running loop and
// a hub, torn down with the test.
package streamtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drblury/relayflow/internal/runtime/address"
	"github.com/drblury/relayflow/internal/runtime/channels"
	"github.com/drblury/relayflow/internal/runtime/config"
	"github.com/drblury/relayflow/internal/runtime/loop"
	"github.com/drblury/relayflow/internal/runtime/metrics"
	"github.com/drblury/relayflow/internal/runtime/socket"
	"github.com/drblury/relayflow/internal/runtime/stream"
)

// NewFactory returns a factory whose streams default to inproc. The
// returned context is canceled, and the loop stopped, at test cleanup.
// m may be nil.
func NewFactory(t testing.TB, m *metrics.Metrics) (*stream.Factory, context.Context) {
	t.Helper()
	return newFactory(t, m, address.Inproc, t.TempDir())
}

// NewIPCFactory returns a factory whose streams default to ipc, carried by
// topic files under dir.
func NewIPCFactory(t testing.TB, m *metrics.Metrics, dir string) (*stream.Factory, context.Context) {
	t.Helper()
	return newFactory(t, m, address.IPC, dir)
}

func newFactory(t testing.TB, m *metrics.Metrics, kind address.Kind, dir string) (*stream.Factory, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	lp := loop.New(nil)
	go func() { _ = lp.Run(ctx) }()

	hub, err := socket.NewHub(&config.Config{
		NetworkBackend:  "nats",
		CommDir:         dir,
		IPCPollInterval: time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		_ = hub.Close()
	})

	return &stream.Factory{
		Registry:    channels.NewDefaultRegistry(),
		Resolver:    address.Resolver{RuntimeDir: dir},
		Hub:         hub,
		Loop:        lp,
		Metrics:     m,
		DefaultKind: kind,
	}, ctx
}
