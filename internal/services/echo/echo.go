// Package echo is a minimal provider. It subscribes to the work broadcast of
// a request proxy and publishes its replies on the result channel, which
// makes it useful for smoke tests of a deployment.
package echo

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/relayflow/internal/runtime/channels"
	"github.com/drblury/relayflow/internal/runtime/dispatch"
	"github.com/drblury/relayflow/internal/runtime/jsoncodec"
	"github.com/drblury/relayflow/internal/runtime/pool"
	"github.com/drblury/relayflow/internal/runtime/service"
	"github.com/drblury/relayflow/internal/runtime/stream"
	"github.com/drblury/relayflow/msg"
)

// DefaultName is used when Options.Name is empty.
const DefaultName = "EchoService"

// Options configure Start.
type Options struct {
	Name    string
	Workers int
	// Back adds stream options to both proxy-facing streams.
	Back  []stream.Option
	Hooks service.JobHooks
}

// Start connects to /request/do_work and /request/result and serves ECHO and
// UPLOAD commands.
func Start(ctx context.Context, streams *stream.Factory, opts Options) (*service.Service[*msg.ProviderRequest], error) {
	name := opts.Name
	if name == "" {
		name = DefaultName
	}

	work, err := streams.SubStream(ctx, channels.RequestDoWork, opts.Back...)
	if err != nil {
		return nil, err
	}
	result, err := streams.PubStream(ctx, channels.RequestResult, append([]stream.Option{stream.Connect()}, opts.Back...)...)
	if err != nil {
		_ = work.Close()
		return nil, err
	}

	svc, err := service.New(ctx, streams, service.Config[*msg.ProviderRequest]{
		Name:    name,
		Factory: NewFactory(),
		Replies: service.ProviderReplies(name),
		Intake:  work,
		Result:  result,
		Pool:    pool.New(opts.Workers, streams.Logger),
		Hooks:   service.LoggingHooks(streams.Logger).Merge(opts.Hooks),
	})
	if err != nil {
		_ = work.Close()
		_ = result.Close()
		return nil, err
	}
	return svc, nil
}

// NewFactory returns the echo command factory.
func NewFactory() *dispatch.Factory[*msg.ProviderRequest] {
	return dispatch.NewFactory[*msg.ProviderRequest]("EchoFactory").
		Register(msg.CommandEcho, newEcho).
		Register(msg.CommandUpload, newUpload)
}

func newEcho(_ [][]byte, req *msg.ProviderRequest, _ any) (dispatch.Command, error) {
	params := req.Params
	return dispatch.RunFunc(func(context.Context, *dispatch.Exec) (any, error) {
		return params, nil
	}), nil
}

// UploadParams are the optional parameters of an UPLOAD request.
type UploadParams struct {
	// Steps is the number of progress units, 100 when unset. Progress
	// 1..Steps-1 is reported before Steps is returned as the result.
	Steps int32 `json:"steps,omitempty"`
	// IntervalMS pauses between progress reports.
	IntervalMS int `json:"interval_ms,omitempty"`
}

type upload struct {
	params UploadParams
	exec   *dispatch.Exec
}

func newUpload(_ [][]byte, req *msg.ProviderRequest, _ any) (dispatch.Command, error) {
	var p UploadParams
	if req.Params != "" {
		if err := jsoncodec.Unmarshal([]byte(req.Params), &p); err != nil {
			return nil, fmt.Errorf("echo: invalid upload params: %w", err)
		}
	}
	if p.Steps <= 0 {
		p.Steps = 100
	}
	return &upload{params: p}, nil
}

func (u *upload) Initialize(_ context.Context, exec *dispatch.Exec) error {
	u.exec = exec
	return nil
}

func (u *upload) Run(ctx context.Context) (any, error) {
	interval := time.Duration(u.params.IntervalMS) * time.Millisecond
	for i := int32(1); i < u.params.Steps; i++ {
		if interval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}
		if err := u.exec.ReportProgress(ctx, i); err != nil {
			return nil, err
		}
	}
	return u.params.Steps, nil
}
