package echo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relayflow/internal/runtime/channels"
	"github.com/drblury/relayflow/internal/runtime/proxy"
	"github.com/drblury/relayflow/internal/runtime/stream"
	"github.com/drblury/relayflow/internal/runtime/stream/streamtest"
	"github.com/drblury/relayflow/msg"
)

func startBehindProxy(t *testing.T) (*stream.Stream, chan *msg.ProviderResponse) {
	t.Helper()
	streams, ctx := streamtest.NewFactory(t, nil)

	p, err := proxy.NewRequestProxy(ctx, streams, proxy.RequestProxyOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	svc, err := Start(ctx, streams, Options{Workers: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	replies := make(chan *msg.ProviderResponse, 256)
	requester, err := streams.DealerStream(ctx, channels.RequestRequest,
		stream.WithRecv(stream.Typed(func(_ [][]byte, resps []*msg.ProviderResponse) {
			for _, r := range resps {
				replies <- r
			}
		})))
	require.NoError(t, err)
	t.Cleanup(func() { _ = requester.Close() })
	return requester, replies
}

func next(t *testing.T, replies chan *msg.ProviderResponse) *msg.ProviderResponse {
	t.Helper()
	select {
	case r := <-replies:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reply")
		return nil
	}
}

func TestEchoThroughRequestProxy(t *testing.T) {
	requester, replies := startBehindProxy(t)

	require.NoError(t, requester.Send(&msg.ProviderRequest{Command: msg.CommandEcho, Params: `{"hello":"world"}`}))
	r := next(t, replies)
	assert.Equal(t, DefaultName, r.ServiceName)
	assert.Equal(t, msg.StateResult, r.State.StateID)
	assert.Equal(t, `{"hello":"world"}`, r.State.Response)
}

func TestUploadReportsProgress(t *testing.T) {
	requester, replies := startBehindProxy(t)

	require.NoError(t, requester.Send(&msg.ProviderRequest{Command: msg.CommandUpload, Params: `{"steps":5}`}))
	for i := int32(1); i < 5; i++ {
		r := next(t, replies)
		require.Equal(t, msg.StateProgress, r.State.StateID)
		assert.Equal(t, i, r.State.Progress)
	}
	r := next(t, replies)
	assert.Equal(t, msg.StateResult, r.State.StateID)
	assert.Equal(t, "5", r.State.Response)
}

func TestUploadRejectsBadParams(t *testing.T) {
	requester, replies := startBehindProxy(t)

	require.NoError(t, requester.Send(&msg.ProviderRequest{Command: msg.CommandUpload, Params: "{"}))
	r := next(t, replies)
	assert.Equal(t, msg.StateError, r.State.StateID)
	assert.Contains(t, r.State.Error, "invalid upload params")
}

func TestFactoryCommands(t *testing.T) {
	assert.Equal(t, []msg.Command{msg.CommandUpload, msg.CommandEcho}, NewFactory().Commands())
}
