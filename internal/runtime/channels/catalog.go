package channels

import (
	"reflect"
	"sort"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
	"github.com/drblury/relayflow/msg"
)

// Catalog resolves the type names used in channel definition files.
type Catalog struct {
	types map[string]reflect.Type
}

func NewCatalog() *Catalog {
	return &Catalog{types: make(map[string]reflect.Type)}
}

// DefaultCatalog knows the domain messages plus a few protobuf well-known
// types for channels that carry generic structured data.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Add("ProviderRequest", TypeOf[msg.ProviderRequest]())
	c.Add("ProviderResponse", TypeOf[msg.ProviderResponse]())
	c.Add("WorkerState", TypeOf[msg.WorkerState]())
	c.Add("DBRequest", TypeOf[msg.DBRequest]())
	c.Add("DBResponse", TypeOf[msg.DBResponse]())
	c.Add("Model", TypeOf[msg.Model]())
	c.Add("google.protobuf.Struct", TypeOf[structpb.Struct]())
	c.Add("google.protobuf.StringValue", TypeOf[wrapperspb.StringValue]())
	return c
}

// Add registers t under name, replacing any previous entry.
func (c *Catalog) Add(name string, t reflect.Type) {
	c.types[name] = t
}

// Resolve returns the type registered under name. An empty name yields nil so
// optional recv/reply types fall back to the send type.
func (c *Catalog) Resolve(name string) (reflect.Type, error) {
	if name == "" {
		return nil, nil
	}
	t, ok := c.types[name]
	if !ok {
		return nil, rferrors.NewChannelConfigError("", "unknown message type %q", name)
	}
	return t, nil
}

// Names lists the registered type names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
