// Package filelog provides the filesystem-backed transport. Every topic is an
// append-only file of JSON records under the runtime directory; subscribers
// tail the file from the position it had when they subscribed.
//
// Subscribers own the files. A topic file is created by the first
// subscription and removed when the last subscription of the process ends,
// publishers drop messages for topics nobody listens on. A file that grows
// past the segment limit is unlinked by the next publisher and replaced by a
// fresh one, readers finish the old segment and follow the path. A reader
// that falls more than a segment behind loses the segments in between, the
// way a subscriber past its high-water mark would.
package filelog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/relayflow/internal/runtime/jsoncodec"
	"github.com/drblury/relayflow/transport"
)

// TransportName is the backend name the socket hub resolves.
const TransportName = "filelog"

// DefaultPollInterval is used when the config does not set one.
const DefaultPollInterval = 20 * time.Millisecond

// DefaultSegmentLimit is the size at which a topic file is rotated.
const DefaultSegmentLimit int64 = 4 << 20

// PublisherFactory is swapped out by tests.
var PublisherFactory = func(dir string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(dir, logger)
}

// SubscriberFactory is swapped out by tests.
var SubscriberFactory = func(dir string, poll time.Duration, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return NewSubscriber(dir, poll, logger)
}

// Register adds the backend to transport.DefaultRegistry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.FileLogCapabilities)
}

// Build creates a filelog transport rooted at the configured runtime directory.
func Build(ctx context.Context, cfg transport.Config, addr string, logger watermill.LoggerAdapter) (transport.Transport, error) {
	dir := cfg.GetRuntimeDir()
	if dir == "" {
		return transport.Transport{}, errors.New("filelog: runtime directory is required")
	}
	poll := cfg.GetIPCPollInterval()
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	pub, err := PublisherFactory(dir, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	sub, err := SubscriberFactory(dir, poll, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities reports the guarantees sockets can rely on over this backend.
func Capabilities() transport.Capabilities {
	return transport.FileLogCapabilities
}

// record is one line of a topic file.
type record struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

func topicPath(dir, topic string) (string, error) {
	if topic == "" || strings.ContainsAny(topic, `/\`) || topic == "." || topic == ".." {
		return "", fmt.Errorf("filelog: invalid topic %q", topic)
	}
	return filepath.Join(dir, topic), nil
}

// openCurrent opens and locks the file at path, retrying until the locked
// file is the one the path names. A file unlinked between open and lock is
// skipped.
func openCurrent(path string, flag int) (*os.File, error) {
	for {
		f, err := os.OpenFile(path, flag, 0o600)
		if err != nil {
			return nil, err
		}
		if err := lockFile(f); err != nil {
			f.Close()
			return nil, err
		}
		if isCurrent(f, path) {
			return f, nil
		}
		release(f)
	}
}

func release(f *os.File) {
	_ = unlockFile(f)
	_ = f.Close()
}

// isCurrent reports whether path still names f.
func isCurrent(f *os.File, path string) bool {
	open, err := f.Stat()
	if err != nil {
		return false
	}
	named, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(open, named)
}

// removeTopic unlinks the topic file under its lock so no writer appends to
// an unlinked segment.
func removeTopic(path string) error {
	f, err := openCurrent(path, os.O_RDONLY)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer release(f)
	return os.Remove(path)
}

// Publisher appends messages to topic files.
type Publisher struct {
	dir    string
	limit  int64
	logger watermill.LoggerAdapter
	mu     sync.Mutex
	closed bool
}

func NewPublisher(dir string, logger watermill.LoggerAdapter) (*Publisher, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filelog: create %s: %w", dir, err)
	}
	return &Publisher{dir: dir, limit: DefaultSegmentLimit, logger: logger}, nil
}

// Publish writes each message as one line with a single write call under the
// file lock, so concurrent writers from other processes never interleave
// within a record. A topic without a file has no subscriber and the messages
// are dropped.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	path, err := topicPath(p.dir, topic)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("filelog: publisher closed")
	}

	f, err := openCurrent(path, os.O_APPEND|os.O_WRONLY)
	if errors.Is(err, fs.ErrNotExist) {
		p.logger.Trace("No subscriber for topic, dropping", watermill.LogFields{"topic": topic, "messages": len(messages)})
		return nil
	}
	if err != nil {
		return err
	}

	if f, err = p.rotate(f, path); err != nil {
		return err
	}
	defer release(f)

	for _, msg := range messages {
		line, err := jsoncodec.Marshal(record{
			UUID:     msg.UUID,
			Metadata: msg.Metadata,
			Payload:  msg.Payload,
		})
		if err != nil {
			return err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// rotate replaces a locked file that reached the segment limit.
func (p *Publisher) rotate(f *os.File, path string) (*os.File, error) {
	info, err := f.Stat()
	if err != nil {
		release(f)
		return nil, err
	}
	if p.limit <= 0 || info.Size() < p.limit {
		return f, nil
	}

	err = os.Remove(path)
	release(f)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	p.logger.Debug("Rotated topic file", watermill.LogFields{"path": path, "size": info.Size()})
	return openCurrent(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Subscriber tails topic files.
type Subscriber struct {
	dir     string
	poll    time.Duration
	logger  watermill.LoggerAdapter
	closing chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu   sync.Mutex
	refs map[string]int
}

func NewSubscriber(dir string, poll time.Duration, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filelog: create %s: %w", dir, err)
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Subscriber{
		dir:     dir,
		poll:    poll,
		logger:  logger,
		closing: make(chan struct{}),
		refs:    make(map[string]int),
	}, nil
}

// Subscribe positions at the current end of the topic file before returning,
// so every message published afterwards is delivered. The output channel is
// closed only after the file of a topic's last subscription is removed.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	path, err := topicPath(s.dir, topic)
	if err != nil {
		return nil, err
	}
	select {
	case <-s.closing:
		return nil, errors.New("filelog: subscriber closed")
	default:
	}

	f, err := s.ref(path)
	if err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer s.unref(path, topic)
		s.tail(ctx, f, path, out, topic)
	}()
	return out, nil
}

func (s *Subscriber) ref(path string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	s.refs[path]++
	return f, nil
}

func (s *Subscriber) unref(path, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs[path]--
	if s.refs[path] > 0 {
		return
	}
	delete(s.refs, path)
	if err := removeTopic(path); err != nil {
		s.logger.Error("Failed to remove topic file", err, watermill.LogFields{"topic": topic})
	}
}

// tail reads f until the subscription ends. Once the path names another
// file, the old segment is drained and reading continues at the start of
// the new one; a missing path is recreated so publishers keep writing.
func (s *Subscriber) tail(ctx context.Context, f *os.File, path string, out chan<- *message.Message, topic string) {
	defer func() { f.Close() }()

	fields := watermill.LogFields{"topic": topic}
	buf := make([]byte, 32*1024)
	var pending []byte
	stale := false

	for {
		n, err := f.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := pending[:i]
				if !s.deliver(ctx, out, line, fields) {
					return
				}
				pending = pending[i+1:]
			}
			if len(pending) == 0 {
				pending = nil
			}
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			s.logger.Error("Failed to read topic file", err, fields)
			return
		}

		switch {
		case stale:
			next, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o600)
			if err != nil {
				s.logger.Error("Failed to follow topic file", err, fields)
				return
			}
			f.Close()
			f = next
			stale = false
			if len(pending) > 0 {
				s.logger.Info("Dropping partial record of rotated segment", fields.Add(watermill.LogFields{"bytes": len(pending)}))
				pending = nil
			}
			continue
		case !isCurrent(f, path):
			// One more read picks up whatever was appended before the unlink.
			stale = true
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case <-time.After(s.poll):
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, line []byte, fields watermill.LogFields) bool {
	var rec record
	if err := jsoncodec.Unmarshal(line, &rec); err != nil {
		s.logger.Error("Failed to unmarshal record", err, fields)
		return true
	}

	msg := message.NewMessage(rec.UUID, rec.Payload)
	if rec.Metadata != nil {
		msg.Metadata = rec.Metadata
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Debug("Message nacked, dropping", fields.Add(watermill.LogFields{"uuid": msg.UUID}))
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}
	return true
}

// Close stops every tailing goroutine, removes the files they owned and
// waits for them to exit.
func (s *Subscriber) Close() error {
	s.once.Do(func() { close(s.closing) })
	s.wg.Wait()
	return nil
}
