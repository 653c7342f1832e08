// Package dispatch maps command identifiers onto Command constructors.
package dispatch

import (
	"context"
	"sort"

	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
	"github.com/drblury/relayflow/internal/runtime/frames"
	"github.com/drblury/relayflow/msg"
)

// Request is any request that names the command it asks for.
type Request interface {
	CommandID() msg.Command
}

// Command is one unit of dispatched work. Initialize runs first on the
// worker, then Run. Run may report progress through the Exec it was
// initialized with.
type Command interface {
	Initialize(ctx context.Context, exec *Exec) error
	Run(ctx context.Context) (any, error)
}

// Reporter delivers a progress state to the caller addressed by env.
type Reporter interface {
	Report(env [][]byte, state *msg.WorkerState) error
}

// Exec is the execution context handed to a command.
type Exec struct {
	// Envelope addresses the caller that submitted the request.
	Envelope [][]byte
	// Service is the name of the owning service.
	Service string
	// Key is the correlation key of the in-flight entry.
	Key string
	// Context is the opaque value supplied by the service, e.g. a storage handle.
	Context any

	reporter Reporter
}

// NewExec creates an Exec. reporter may be nil, in which case Report is a no-op.
func NewExec(env [][]byte, service, key string, svcCtx any, reporter Reporter) *Exec {
	return &Exec{
		Envelope: frames.CopyEnvelope(env),
		Service:  service,
		Key:      key,
		Context:  svcCtx,
		reporter: reporter,
	}
}

// Report sends state to the caller through the service side channel.
// Delivery is best effort.
func (e *Exec) Report(ctx context.Context, state *msg.WorkerState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.reporter == nil {
		return nil
	}
	return e.reporter.Report(e.Envelope, state)
}

// ReportProgress reports a numeric progress value.
func (e *Exec) ReportProgress(ctx context.Context, progress int32) error {
	return e.Report(ctx, &msg.WorkerState{StateID: msg.StateProgress, Progress: progress})
}

// Constructor builds a command for one request. svcCtx is the service's
// context value.
type Constructor[Req Request] func(env [][]byte, req Req, svcCtx any) (Command, error)

// Factory holds the constructor table of one service.
type Factory[Req Request] struct {
	name  string
	ctors map[msg.Command]Constructor[Req]
}

// NewFactory creates an empty factory. name appears in unsupported-command
// errors.
func NewFactory[Req Request](name string) *Factory[Req] {
	return &Factory[Req]{name: name, ctors: make(map[msg.Command]Constructor[Req])}
}

// Register adds or replaces the constructor for cmd.
func (f *Factory[Req]) Register(cmd msg.Command, ctor Constructor[Req]) *Factory[Req] {
	f.ctors[cmd] = ctor
	return f
}

// Name returns the factory name.
func (f *Factory[Req]) Name() string { return f.name }

// Has reports whether a constructor is registered for cmd.
func (f *Factory[Req]) Has(cmd msg.Command) bool {
	_, ok := f.ctors[cmd]
	return ok
}

// Commands lists the registered command ids in ascending order.
func (f *Factory[Req]) Commands() []msg.Command {
	out := make([]msg.Command, 0, len(f.ctors))
	for cmd := range f.ctors {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Create constructs the command req asks for. Unknown commands yield a
// ServiceError naming the command and the factory. Constructor errors are
// returned unchanged.
func (f *Factory[Req]) Create(env [][]byte, req Req, svcCtx any) (Command, error) {
	cmd := req.CommandID()
	ctor, ok := f.ctors[cmd]
	if !ok {
		return nil, &rferrors.ServiceError{Factory: f.name, Command: cmd.String()}
	}
	return ctor(env, req, svcCtx)
}

// RunFunc adapts a function into a Command. The Exec passed to Initialize is
// handed to fn.
func RunFunc(fn func(ctx context.Context, exec *Exec) (any, error)) Command {
	return &funcCommand{fn: fn}
}

type funcCommand struct {
	fn   func(ctx context.Context, exec *Exec) (any, error)
	exec *Exec
}

func (c *funcCommand) Initialize(_ context.Context, exec *Exec) error {
	c.exec = exec
	return nil
}

func (c *funcCommand) Run(ctx context.Context) (any, error) {
	return c.fn(ctx, c.exec)
}
