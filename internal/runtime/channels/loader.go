package channels

import (
	"fmt"
	"os"
	"reflect"

	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
	"github.com/drblury/relayflow/internal/runtime/jsoncodec"
)

// Definition is the on-disk form of a channel table:
//
//	{
//	  "channels": {"/db/new_file": {"send_type": "DBRequest", "reply_type": "DBResponse"}},
//	  "patterns": [{"pattern": "/worker/state/(.+)", "send_type": "WorkerState"}]
//	}
//
// Patterns are a list because the first match wins.
type Definition struct {
	Channels map[string]ContractDef `json:"channels"`
	Patterns []PatternDef           `json:"patterns,omitempty"`
}

type ContractDef struct {
	SendType  string `json:"send_type"`
	RecvType  string `json:"recv_type,omitempty"`
	ReplyType string `json:"reply_type,omitempty"`
}

type PatternDef struct {
	Pattern string `json:"pattern"`
	ContractDef
}

// LoadFile reads a definition file and builds a registry from it.
func LoadFile(path string, catalog *Catalog) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channel map %s: %w", path, err)
	}
	var def Definition
	if err := jsoncodec.UnmarshalStrict(data, &def); err != nil {
		return nil, fmt.Errorf("parse channel map %s: %w", path, err)
	}
	return Build(def, catalog)
}

// Build turns a Definition into a Registry, resolving type names through catalog.
func Build(def Definition, catalog *Catalog) (*Registry, error) {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	r := NewRegistry()
	for name, c := range def.Channels {
		send, recv, reply, err := resolveContract(catalog, c)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		if err := r.Register(name, send, recv, reply); err != nil {
			return nil, err
		}
	}
	for _, p := range def.Patterns {
		send, recv, reply, err := resolveContract(catalog, p.ContractDef)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.Pattern, err)
		}
		if err := r.RegisterPattern(p.Pattern, send, recv, reply); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func resolveContract(catalog *Catalog, c ContractDef) (send, recv, reply reflect.Type, err error) {
	if c.SendType == "" {
		return nil, nil, nil, rferrors.NewChannelConfigError("", "send_type is required")
	}
	if send, err = catalog.Resolve(c.SendType); err != nil {
		return nil, nil, nil, err
	}
	if recv, err = catalog.Resolve(c.RecvType); err != nil {
		return nil, nil, nil, err
	}
	if reply, err = catalog.Resolve(c.ReplyType); err != nil {
		return nil, nil, nil, err
	}
	return send, recv, reply, nil
}
