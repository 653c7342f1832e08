package filelog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relayflow/transport"
)

type mockConfig struct {
	dir  string
	poll time.Duration
}

func (m *mockConfig) GetNetworkBackend() string         { return "" }
func (m *mockConfig) GetRuntimeDir() string             { return m.dir }
func (m *mockConfig) GetIPCPollInterval() time.Duration { return m.poll }
func (m *mockConfig) GetAMQPUser() string               { return "" }
func (m *mockConfig) GetAMQPPassword() string           { return "" }

func TestRegister(t *testing.T) {
	orig := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = orig }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "filelog", caps.Name)
	assert.True(t, caps.CrossProcess)
	assert.Equal(t, transport.FileLogCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("requires runtime dir", func(t *testing.T) {
		_, err := Build(context.Background(), &mockConfig{}, "", watermill.NopLogger{})
		assert.ErrorContains(t, err, "runtime directory is required")
	})

	t.Run("defaults poll interval", func(t *testing.T) {
		orig := SubscriberFactory
		defer func() { SubscriberFactory = orig }()

		var gotPoll time.Duration
		SubscriberFactory = func(dir string, poll time.Duration, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			gotPoll = poll
			return orig(dir, poll, logger)
		}

		tr, err := Build(context.Background(), &mockConfig{dir: t.TempDir()}, "", watermill.NopLogger{})
		require.NoError(t, err)
		defer tr.Close()
		assert.Equal(t, DefaultPollInterval, gotPoll)
	})

	t.Run("propagates factory errors", func(t *testing.T) {
		orig := PublisherFactory
		defer func() { PublisherFactory = orig }()
		PublisherFactory = func(string, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &mockConfig{dir: t.TempDir()}, "", watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		m.Ack()
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	dir := t.TempDir()
	tr, err := Build(context.Background(), &mockConfig{dir: dir, poll: time.Millisecond}, "", watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	// Records published before anyone subscribes are dropped.
	require.NoError(t, tr.Publisher.Publish("request_request", message.NewMessage("old", []byte("stale"))))
	_, err = os.Stat(filepath.Join(dir, "request_request"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first, err := tr.Subscriber.Subscribe(ctx, "request_request")
	require.NoError(t, err)
	second, err := tr.Subscriber.Subscribe(ctx, "request_request")
	require.NoError(t, err)
	other, err := tr.Subscriber.Subscribe(ctx, "request_result")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		m := message.NewMessage(watermill.NewUUID(), []byte{byte(i), 0, '\n'})
		m.Metadata.Set(transport.MetadataSender, "dealer-1")
		require.NoError(t, tr.Publisher.Publish("request_request", m))
	}

	for _, ch := range []<-chan *message.Message{first, second} {
		for i := 0; i < 5; i++ {
			m := receive(t, ch)
			assert.Equal(t, []byte{byte(i), 0, '\n'}, []byte(m.Payload))
			assert.Equal(t, "dealer-1", m.Metadata.Get(transport.MetadataSender))
		}
	}

	select {
	case m := <-other:
		t.Fatalf("unexpected message on other topic: %v", m)
	case <-time.After(20 * time.Millisecond):
	}

	_, err = os.Stat(filepath.Join(dir, "request_request"))
	assert.NoError(t, err)
}

func TestSubscriberSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	tr, err := Build(context.Background(), &mockConfig{dir: dir, poll: time.Millisecond}, "", watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	ch, err := tr.Subscriber.Subscribe(context.Background(), "t")
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(dir, "t"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, tr.Publisher.Publish("t", message.NewMessage("ok", []byte("good"))))
	m := receive(t, ch)
	assert.Equal(t, "ok", m.UUID)
}

func TestInvalidTopics(t *testing.T) {
	dir := t.TempDir()
	pub, err := NewPublisher(dir, watermill.NopLogger{})
	require.NoError(t, err)
	sub, err := NewSubscriber(dir, 0, watermill.NopLogger{})
	require.NoError(t, err)

	for _, topic := range []string{"", "..", "a/b"} {
		assert.Error(t, pub.Publish(topic, message.NewMessage("x", nil)), topic)
		_, err := sub.Subscribe(context.Background(), topic)
		assert.Error(t, err, topic)
	}
}

func TestCloseStopsSubscriptions(t *testing.T) {
	dir := t.TempDir()
	pub, err := NewPublisher(dir, watermill.NopLogger{})
	require.NoError(t, err)
	sub, err := NewSubscriber(dir, time.Millisecond, watermill.NopLogger{})
	require.NoError(t, err)

	ch, err := sub.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, ok := <-ch
	assert.False(t, ok)

	_, err = sub.Subscribe(context.Background(), "t")
	assert.Error(t, err)

	require.NoError(t, pub.Close())
	assert.Error(t, pub.Publish("t", message.NewMessage("x", nil)))
}

func TestRotationPastSegmentLimit(t *testing.T) {
	dir := t.TempDir()
	pub, err := NewPublisher(dir, watermill.NopLogger{})
	require.NoError(t, err)
	pub.limit = 256
	sub, err := NewSubscriber(dir, time.Millisecond, watermill.NopLogger{})
	require.NoError(t, err)
	defer sub.Close()

	ch, err := sub.Subscribe(context.Background(), "t")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, pub.Publish("t", message.NewMessage(fmt.Sprint(i), []byte("0123456789abcdef"))))
		m := receive(t, ch)
		assert.Equal(t, fmt.Sprint(i), m.UUID)
	}

	info, err := os.Stat(filepath.Join(dir, "t"))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(512))
}

func TestLastSubscriptionRemovesTopicFile(t *testing.T) {
	dir := t.TempDir()
	pub, err := NewPublisher(dir, watermill.NopLogger{})
	require.NoError(t, err)
	sub, err := NewSubscriber(dir, time.Millisecond, watermill.NopLogger{})
	require.NoError(t, err)
	path := filepath.Join(dir, "t")

	ctx1, cancel1 := context.WithCancel(context.Background())
	first, err := sub.Subscribe(ctx1, "t")
	require.NoError(t, err)
	ctx2, cancel2 := context.WithCancel(context.Background())
	second, err := sub.Subscribe(ctx2, "t")
	require.NoError(t, err)

	require.NoError(t, pub.Publish("t", message.NewMessage("a", []byte("x"))))
	receive(t, first)
	receive(t, second)

	cancel1()
	for range first {
	}
	_, err = os.Stat(path)
	require.NoError(t, err, "file removed while a subscription remains")

	cancel2()
	for range second {
	}
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, pub.Publish("t", message.NewMessage("b", []byte("x"))))
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRuntimeDirEmptyAfterClose(t *testing.T) {
	dir := t.TempDir()
	tr, err := Build(context.Background(), &mockConfig{dir: dir, poll: time.Millisecond}, "", watermill.NopLogger{})
	require.NoError(t, err)

	for _, topic := range []string{"state", "request_request", "request_request.peer.abc"} {
		ch, err := tr.Subscriber.Subscribe(context.Background(), topic)
		require.NoError(t, err)
		require.NoError(t, tr.Publisher.Publish(topic, message.NewMessage(topic, []byte("x"))))
		assert.Equal(t, topic, receive(t, ch).UUID)
	}
	require.NoError(t, tr.Publisher.Publish("unheard", message.NewMessage("u", nil)))

	require.NoError(t, tr.Close())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
