package socket

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relayflow/internal/runtime/address"
	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
)

type testConfig struct {
	backend string
	dir     string
}

func (c testConfig) GetNetworkBackend() string         { return c.backend }
func (c testConfig) GetRuntimeDir() string             { return c.dir }
func (c testConfig) GetIPCPollInterval() time.Duration { return 5 * time.Millisecond }
func (c testConfig) GetAMQPUser() string               { return "" }
func (c testConfig) GetAMQPPassword() string           { return "" }

func newTestHub(t *testing.T) (*Hub, address.Resolver) {
	t.Helper()
	dir := t.TempDir()
	hub, err := NewHub(testConfig{backend: "nats", dir: dir}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hub.Close() })
	return hub, address.Resolver{RuntimeDir: dir}
}

func collector() (Handler, chan [][]byte) {
	ch := make(chan [][]byte, 16)
	return func(parts [][]byte) { ch <- parts }, ch
}

func receive(t *testing.T, ch chan [][]byte) [][]byte {
	t.Helper()
	select {
	case parts := <-ch:
		return parts
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frames")
		return nil
	}
}

func resolve(t *testing.T, r address.Resolver, channel string, kind address.Kind) address.Endpoint {
	t.Helper()
	ep, err := r.Resolve(channel, kind, "", 0)
	require.NoError(t, err)
	return ep
}

func TestPubSubFanOut(t *testing.T) {
	hub, r := newTestHub(t)
	ep := resolve(t, r, "/request/do_work", address.Inproc)
	ctx := context.Background()

	h1, ch1 := collector()
	h2, ch2 := collector()
	sub1, err := Open(ctx, hub, Sub, ep, h1, Options{})
	require.NoError(t, err)
	defer sub1.Close()
	sub2, err := Open(ctx, hub, Sub, ep, h2, Options{})
	require.NoError(t, err)
	defer sub2.Close()

	pub, err := Open(ctx, hub, Pub, ep, nil, Options{Bind: true})
	require.NoError(t, err)
	defer pub.Close()

	unit := [][]byte{[]byte("env"), {}, []byte("D"), []byte("payload")}
	require.NoError(t, pub.Send(unit))

	assert.Equal(t, unit, receive(t, ch1))
	assert.Equal(t, unit, receive(t, ch2))
}

func TestRouterDealerRouting(t *testing.T) {
	hub, r := newTestHub(t)
	ep := resolve(t, r, "/db/new_file", address.Inproc)
	ctx := context.Background()

	routerHandler, routerCh := collector()
	router, err := Open(ctx, hub, Router, ep, routerHandler, Options{Bind: true})
	require.NoError(t, err)
	defer router.Close()

	hA, chA := collector()
	hB, chB := collector()
	dealerA, err := Open(ctx, hub, Dealer, ep, hA, Options{Identity: []byte("alice")})
	require.NoError(t, err)
	defer dealerA.Close()
	dealerB, err := Open(ctx, hub, Dealer, ep, hB, Options{})
	require.NoError(t, err)
	defer dealerB.Close()
	assert.NotEmpty(t, dealerB.Identity())

	require.NoError(t, dealerA.Send([][]byte{{}, []byte("D"), []byte("from-a")}))
	got := receive(t, routerCh)
	assert.Equal(t, [][]byte{[]byte("alice"), {}, []byte("D"), []byte("from-a")}, got)

	require.NoError(t, dealerB.Send([][]byte{{}, []byte("D"), []byte("from-b")}))
	got = receive(t, routerCh)
	assert.Equal(t, dealerB.Identity(), got[0])

	require.NoError(t, router.Send([][]byte{[]byte("alice"), {}, []byte("R"), []byte("to-a")}))
	assert.Equal(t, [][]byte{{}, []byte("R"), []byte("to-a")}, receive(t, chA))

	select {
	case parts := <-chB:
		t.Fatalf("dealer B received a reply for A: %q", parts)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouterRejectsUnroutable(t *testing.T) {
	hub, r := newTestHub(t)
	ep := resolve(t, r, "/db/new_file", address.Inproc)
	h, _ := collector()
	router, err := Open(context.Background(), hub, Router, ep, h, Options{Bind: true})
	require.NoError(t, err)
	defer router.Close()

	assert.ErrorIs(t, router.Send(nil), rferrors.ErrUnroutable)
	assert.ErrorIs(t, router.Send([][]byte{{}, []byte("R")}), rferrors.ErrUnroutable)
}

func TestSubCannotSend(t *testing.T) {
	hub, r := newTestHub(t)
	ep := resolve(t, r, "/request/result", address.Inproc)
	h, _ := collector()
	sub, err := Open(context.Background(), hub, Sub, ep, h, Options{})
	require.NoError(t, err)
	defer sub.Close()

	assert.ErrorIs(t, sub.Send([][]byte{{}, []byte("D")}), rferrors.ErrSendUnsupported)
}

func TestOpenValidation(t *testing.T) {
	hub, r := newTestHub(t)
	ep := resolve(t, r, "/request/result", address.Inproc)

	_, err := Open(context.Background(), hub, Sub, ep, nil, Options{})
	assert.ErrorContains(t, err, "needs a handler")

	_, err = Open(context.Background(), hub, Role(9), ep, nil, Options{})
	assert.ErrorContains(t, err, "unknown socket role")

	h, _ := collector()
	_, err = Open(context.Background(), hub, Dealer, ep, h, Options{Identity: []byte("a/b")})
	assert.ErrorContains(t, err, "invalid dealer identity")
}

func TestBindExclusive(t *testing.T) {
	hub, r := newTestHub(t)
	ep := resolve(t, r, "/request/local", address.Inproc)
	h, _ := collector()

	first, err := Open(context.Background(), hub, Router, ep, h, Options{Bind: true})
	require.NoError(t, err)

	_, err = Open(context.Background(), hub, Router, ep, h, Options{Bind: true})
	assert.ErrorIs(t, err, rferrors.ErrAddressInUse)

	require.NoError(t, first.Close())
	again, err := Open(context.Background(), hub, Router, ep, h, Options{Bind: true})
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	hub, r := newTestHub(t)
	ep := resolve(t, r, "/request/request", address.Inproc)
	h, _ := collector()
	dealer, err := Open(context.Background(), hub, Dealer, ep, h, Options{})
	require.NoError(t, err)

	require.NoError(t, dealer.Close())
	require.NoError(t, dealer.Close())
	assert.ErrorIs(t, dealer.Send([][]byte{{}, []byte("D")}), rferrors.ErrStreamClosed)
}

func TestIPCRouterDealer(t *testing.T) {
	hub, r := newTestHub(t)
	ep := resolve(t, r, "/db/new_file", address.IPC)
	ctx := context.Background()

	routerHandler, routerCh := collector()
	router, err := Open(ctx, hub, Router, ep, routerHandler, Options{Bind: true})
	require.NoError(t, err)
	defer router.Close()

	dh, dealerCh := collector()
	dealer, err := Open(ctx, hub, Dealer, ep, dh, Options{})
	require.NoError(t, err)
	defer dealer.Close()

	require.NoError(t, dealer.Send([][]byte{{}, []byte("D"), []byte("ping")}))
	got := receive(t, routerCh)
	require.Len(t, got, 4)
	assert.Equal(t, dealer.Identity(), got[0])

	require.NoError(t, router.Send([][]byte{got[0], {}, []byte("R"), []byte("pong")}))
	assert.Equal(t, [][]byte{{}, []byte("R"), []byte("pong")}, receive(t, dealerCh))
}

func TestIPCDealerCloseRemovesPeerTopic(t *testing.T) {
	hub, r := newTestHub(t)
	ep := resolve(t, r, "/db/new_file", address.IPC)
	ctx := context.Background()

	routerHandler, routerCh := collector()
	router, err := Open(ctx, hub, Router, ep, routerHandler, Options{Bind: true})
	require.NoError(t, err)

	dh, dealerCh := collector()
	dealer, err := Open(ctx, hub, Dealer, ep, dh, Options{})
	require.NoError(t, err)

	require.NoError(t, dealer.Send([][]byte{{}, []byte("D"), []byte("ping")}))
	id := receive(t, routerCh)[0]
	require.NoError(t, router.Send([][]byte{id, {}, []byte("R"), []byte("pong")}))
	receive(t, dealerCh)

	peer := filepath.Join(r.RuntimeDir, PeerTopic(ep, id))
	_, err = os.Stat(peer)
	require.NoError(t, err)

	require.NoError(t, dealer.Close())
	_, err = os.Stat(peer)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// Replies to a closed dealer are dropped without recreating its file.
	require.NoError(t, router.Send([][]byte{id, {}, []byte("R"), []byte("late")}))
	_, err = os.Stat(peer)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, router.Close())
	require.NoError(t, hub.Close())
	entries, err := os.ReadDir(r.RuntimeDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHubBackend(t *testing.T) {
	hub, r := newTestHub(t)

	name, addr, err := hub.Backend(resolve(t, r, "/x", address.Inproc))
	require.NoError(t, err)
	assert.Equal(t, "inproc", name)
	assert.Empty(t, addr)

	name, _, err = hub.Backend(resolve(t, r, "/x", address.IPC))
	require.NoError(t, err)
	assert.Equal(t, "filelog", name)

	tcp, err := r.Resolve("/x", address.TCP, "broker", 4222)
	require.NoError(t, err)
	name, addr, err = hub.Backend(tcp)
	require.NoError(t, err)
	assert.Equal(t, "nats", name)
	assert.Equal(t, "broker:4222", addr)

	_, _, err = hub.Backend(address.Endpoint{Kind: "carrier-pigeon"})
	assert.True(t, errors.Is(err, rferrors.ErrChannelConfig))
}

func TestHubClosed(t *testing.T) {
	hub, r := newTestHub(t)
	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	_, err := hub.Transport(context.Background(), resolve(t, r, "/x", address.Inproc))
	assert.ErrorIs(t, err, rferrors.ErrStreamClosed)
}

func TestNewHubRequiresConfig(t *testing.T) {
	_, err := NewHub(nil, nil, nil)
	assert.ErrorIs(t, err, rferrors.ErrConfigRequired)
}
