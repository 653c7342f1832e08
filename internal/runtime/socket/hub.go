package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/drblury/relayflow/internal/runtime/address"
	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/transport"
	_ "github.com/drblury/relayflow/transport/transports"
)

// Hub owns the transports of one process. Sockets on the same backend and
// broker share one transport, and a bound address can only be bound once.
type Hub struct {
	cfg      transport.Config
	registry *transport.Registry
	logger   logging.ServiceLogger

	mu         sync.Mutex
	transports map[string]transport.Transport
	bound      map[string]struct{}
	closed     bool
}

// NewHub creates a hub. A nil registry selects transport.DefaultRegistry.
func NewHub(cfg transport.Config, registry *transport.Registry, logger logging.ServiceLogger) (*Hub, error) {
	if cfg == nil {
		return nil, rferrors.ErrConfigRequired
	}
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	return &Hub{
		cfg:        cfg,
		registry:   registry,
		logger:     logging.OrNop(logger),
		transports: make(map[string]transport.Transport),
		bound:      make(map[string]struct{}),
	}, nil
}

// Backend names the registered transport and broker address serving ep.
func (h *Hub) Backend(ep address.Endpoint) (name, addr string, err error) {
	switch ep.Kind {
	case address.Inproc:
		return "inproc", "", nil
	case address.IPC:
		return "filelog", "", nil
	case address.TCP:
		return h.cfg.GetNetworkBackend(), ep.HostPort(), nil
	default:
		return "", "", rferrors.NewChannelConfigError(ep.Channel, "Incorrect transport specified: '%s'", ep.Kind)
	}
}

// Transport returns the shared transport for ep, building it on first use.
func (h *Hub) Transport(ctx context.Context, ep address.Endpoint) (transport.Transport, error) {
	name, addr, err := h.Backend(ep)
	if err != nil {
		return transport.Transport{}, err
	}
	key := name + "|" + addr

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return transport.Transport{}, rferrors.ErrStreamClosed
	}
	if tr, ok := h.transports[key]; ok {
		return tr, nil
	}

	if !h.registry.Has(name) {
		return transport.Transport{}, rferrors.NewChannelConfigError(ep.Channel, "no transport registered for backend %q", name)
	}
	if caps := h.registry.GetCapabilities(name); !caps.SupportsRouting() {
		return transport.Transport{}, rferrors.NewChannelConfigError(ep.Channel, "backend %q cannot carry ordered fan-out traffic", name)
	}

	tr, err := h.registry.Build(ctx, name, h.cfg, addr, logging.NewWatermillAdapter(h.logger))
	if err != nil {
		return transport.Transport{}, fmt.Errorf("build %s transport for %s: %w", name, ep, err)
	}
	h.transports[key] = tr
	h.logger.Debug("Transport ready", logging.LogFields{"backend": name, "addr": addr})
	return tr, nil
}

func bindKey(ep address.Endpoint) string {
	return ep.URL() + "#" + ep.Topic()
}

// Bind claims ep for one binding socket.
func (h *Hub) Bind(ep address.Endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := bindKey(ep)
	if _, ok := h.bound[key]; ok {
		return fmt.Errorf("%w: %s", rferrors.ErrAddressInUse, ep)
	}
	h.bound[key] = struct{}{}
	return nil
}

// Unbind releases a claim taken by Bind.
func (h *Hub) Unbind(ep address.Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.bound, bindKey(ep))
}

// Close closes every transport. Sockets must be closed first.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	for key, tr := range h.transports {
		if err := tr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
	}
	h.transports = nil
	return errors.Join(errs...)
}
