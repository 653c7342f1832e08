// Package address resolves a channel and transport kind into the endpoint a
// socket binds or connects to.
package address

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
)

// Kind is a transport kind.
type Kind string

const (
	// IPC is filesystem-backed: cross-process, same host.
	IPC Kind = "ipc"
	// Inproc stays inside one process.
	Inproc Kind = "inproc"
	// TCP is networked and addressed by host and port.
	TCP Kind = "tcp"

	pgm  Kind = "pgm"
	epgm Kind = "epgm"
)

// DefaultRuntimeDir is used when a Resolver has no RuntimeDir.
const DefaultRuntimeDir = "/run/shm"

// Endpoint is the resolved location of a channel on one transport.
type Endpoint struct {
	Kind    Kind
	Channel string
	// Name is Channel with the leading separator stripped and the remaining
	// separators replaced by underscores.
	Name string
	// Path is RuntimeDir/Name for ipc and inproc endpoints.
	Path string
	Host string
	Port int
}

// URL renders the endpoint as ipc://path, inproc://path or tcp://host:port.
func (e Endpoint) URL() string {
	if e.Kind == TCP {
		return fmt.Sprintf("%s://%s", e.Kind, e.HostPort())
	}
	return fmt.Sprintf("%s://%s", e.Kind, e.Path)
}

// HostPort joins host and port for tcp endpoints.
func (e Endpoint) HostPort() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}

// Topic is the transport topic carrying the endpoint's traffic.
func (e Endpoint) Topic() string {
	if e.Name != "" {
		return e.Name
	}
	return strings.ReplaceAll(e.Host, ".", "_") + "_" + strconv.Itoa(e.Port)
}

func (e Endpoint) String() string {
	return e.URL()
}

// Resolver builds endpoints under one runtime directory.
type Resolver struct {
	RuntimeDir string
}

// Resolve validates the parameters required by kind and returns the endpoint.
// Every failure is a ChannelConfigError.
func (r Resolver) Resolve(channel string, kind Kind, host string, port int) (Endpoint, error) {
	kind = Kind(strings.ToLower(string(kind)))
	ep := Endpoint{Kind: kind, Channel: channel}

	switch kind {
	case pgm, epgm:
		return Endpoint{}, rferrors.NewChannelConfigError(channel, "Pragmatic general multicast not supported.")
	case IPC, Inproc:
		if channel == "" {
			return Endpoint{}, rferrors.NewChannelConfigError(channel, "'%s' transport requires a chan_name.", kind)
		}
		ep.Name = endpointName(channel)
		ep.Path = filepath.Join(r.runtimeDir(), ep.Name)
	case TCP:
		if host == "" || port <= 0 {
			return Endpoint{}, rferrors.NewChannelConfigError(channel, "'%s' transport requires a port and a host.", kind)
		}
		if port > 65535 {
			return Endpoint{}, rferrors.NewChannelConfigError(channel, "port %d out of range", port)
		}
		ep.Host = host
		ep.Port = port
		if channel != "" {
			ep.Name = endpointName(channel)
		}
	default:
		return Endpoint{}, rferrors.NewChannelConfigError(channel, "Incorrect transport specified: '%s'", kind)
	}
	return ep, nil
}

func (r Resolver) runtimeDir() string {
	if r.RuntimeDir == "" {
		return DefaultRuntimeDir
	}
	return r.RuntimeDir
}

func endpointName(channel string) string {
	return strings.ReplaceAll(strings.Trim(channel, "/"), "/", "_")
}

// ParseKind validates a transport kind read from configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case IPC, Inproc, TCP:
		return k, nil
	case pgm, epgm:
		return "", rferrors.NewChannelConfigError("", "Pragmatic general multicast not supported.")
	default:
		return "", rferrors.NewChannelConfigError("", "Incorrect transport specified: '%s'", s)
	}
}
