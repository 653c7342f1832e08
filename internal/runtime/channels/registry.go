// Package channels maps channel names to their message contracts.
package channels

import (
	"reflect"
	"regexp"
	"sort"
	"sync"

	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
)

// Registry holds static entries matched by exact name and dynamic entries
// matched by anchored regular expressions. It is built once at startup and is
// safe for concurrent Lookup afterwards.
type Registry struct {
	static   map[string]Spec
	patterns []*pattern

	mu    sync.RWMutex
	cache map[string]Spec
}

type pattern struct {
	expr              string
	send, recv, reply reflect.Type

	once sync.Once
	re   *regexp.Regexp
	err  error
}

// compile runs once per pattern, on the first lookup that reaches it.
func (p *pattern) compile() (*regexp.Regexp, error) {
	p.once.Do(func() {
		re, err := regexp.Compile("^(?:" + p.expr + ")$")
		if err != nil {
			p.err = rferrors.NewChannelConfigError(p.expr, "invalid channel pattern: %v", err)
			return
		}
		if re.NumSubexp() < 1 {
			p.err = rferrors.NewChannelConfigError(p.expr, "channel pattern needs a capture group")
			return
		}
		p.re = re
	})
	return p.re, p.err
}

func NewRegistry() *Registry {
	return &Registry{
		static: make(map[string]Spec),
		cache:  make(map[string]Spec),
	}
}

// Register adds a static entry. recv and reply default to send when nil.
func (r *Registry) Register(name string, send, recv, reply reflect.Type) error {
	name = Normalize(name)
	if name == "" {
		return rferrors.NewChannelConfigError("", "channel name is required")
	}
	if send == nil {
		return rferrors.NewChannelConfigError(name, "send type is required")
	}
	if _, exists := r.static[name]; exists {
		return rferrors.NewChannelConfigError(name, "channel registered twice")
	}
	r.static[name] = newSpec(name, send, recv, reply)
	return nil
}

// RegisterPattern adds a dynamic entry. The expression is anchored at both ends
// and compiled on first use; its first capture group becomes Spec.Param.
// Patterns are tried in registration order.
func (r *Registry) RegisterPattern(expr string, send, recv, reply reflect.Type) error {
	if expr == "" {
		return rferrors.NewChannelConfigError("", "channel pattern is required")
	}
	if send == nil {
		return rferrors.NewChannelConfigError(expr, "send type is required")
	}
	r.patterns = append(r.patterns, &pattern{expr: expr, send: send, recv: recv, reply: reply})
	return nil
}

// Lookup resolves name against the static table first, then the patterns.
func (r *Registry) Lookup(name string) (Spec, error) {
	name = Normalize(name)
	if spec, ok := r.static[name]; ok {
		return spec, nil
	}

	r.mu.RLock()
	spec, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return spec, nil
	}

	for _, p := range r.patterns {
		re, err := p.compile()
		if err != nil {
			return Spec{}, err
		}
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if m[1] == "" {
			return Spec{}, rferrors.NewChannelConfigError(name, "channel parameter is empty")
		}
		spec = newSpec(name, p.send, p.recv, p.reply)
		spec.Param = m[1]

		r.mu.Lock()
		r.cache[name] = spec
		r.mu.Unlock()
		return spec, nil
	}

	return Spec{}, rferrors.NewChannelConfigError(name, "Channel '%s' doesn't exist.", name)
}

// MustLookup is Lookup for channels the caller registered itself.
func (r *Registry) MustLookup(name string) Spec {
	spec, err := r.Lookup(name)
	if err != nil {
		panic(err)
	}
	return spec
}

// Names lists the static channel names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.static))
	for name := range r.static {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Patterns lists the dynamic patterns in match order.
func (r *Registry) Patterns() []string {
	out := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		out[i] = p.expr
	}
	return out
}
