// Package service binds an intake stream to a worker pool through a command
// factory and routes each result, and every progress report, back to the
// caller along the envelope the request arrived with.
//
// All stream I/O and the in-flight table belong to the loop goroutine.
// Workers only schedule continuations on the loop.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/relayflow/internal/runtime/address"
	"github.com/drblury/relayflow/internal/runtime/channels"
	"github.com/drblury/relayflow/internal/runtime/dispatch"
	rferrors "github.com/drblury/relayflow/internal/runtime/errors"
	"github.com/drblury/relayflow/internal/runtime/frames"
	"github.com/drblury/relayflow/internal/runtime/ids"
	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/internal/runtime/loop"
	"github.com/drblury/relayflow/internal/runtime/metrics"
	"github.com/drblury/relayflow/internal/runtime/pool"
	"github.com/drblury/relayflow/internal/runtime/stream"
	"github.com/drblury/relayflow/msg"
)

const tracerName = "github.com/drblury/relayflow/service"

// Config wires a service. The service takes ownership of the streams and
// the pool and closes them in Close.
type Config[Req dispatch.Request] struct {
	// Name identifies the service in replies, metrics and its side channel
	// /worker/state/<Name>.
	Name    string
	Factory *dispatch.Factory[Req]
	Replies Replies[Req]
	// Intake receives requests.
	Intake *stream.Stream
	// Result carries replies. nil means Intake.
	Result *stream.Stream
	Pool   *pool.Pool
	// Context supplies the opaque value handed to constructors and commands.
	Context func(env [][]byte, req Req) any
	Hooks   JobHooks
	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer
}

type entry[Req dispatch.Request] struct {
	env     [][]byte
	req     Req
	future  *pool.Future
	command msg.Command
	started time.Time
}

// Service is a running service.
type Service[Req dispatch.Request] struct {
	cfg      Config[Req]
	loop     *loop.Loop
	logger   logging.ServiceLogger
	metrics  *metrics.Metrics
	side     *stream.Stream
	reporter *stream.Stream

	inflight map[string]*entry[Req]
	count    atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, opens the progress side channel over inproc and starts
// handling requests from cfg.Intake.
func New[Req dispatch.Request](ctx context.Context, streams *stream.Factory, cfg Config[Req]) (*Service[Req], error) {
	if err := validate(streams, cfg); err != nil {
		return nil, err
	}
	if cfg.Result == nil {
		cfg.Result = cfg.Intake
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	s := &Service[Req]{
		cfg:      cfg,
		loop:     streams.Loop,
		logger:   logging.OrNop(streams.Logger).With(logging.LogFields{"service": cfg.Name}),
		metrics:  streams.Metrics,
		inflight: make(map[string]*entry[Req]),
	}

	sideChannel := channels.WorkerStateChannel(cfg.Name)
	var err error
	s.side, err = streams.RouterStream(ctx, sideChannel,
		stream.WithTransport(address.Inproc),
		stream.WithRecv(s.onWorkerState))
	if err != nil {
		return nil, fmt.Errorf("open side channel: %w", err)
	}
	s.reporter, err = streams.DealerStream(ctx, sideChannel,
		stream.WithTransport(address.Inproc),
		stream.WithoutLoop())
	if err != nil {
		_ = s.side.Close()
		return nil, fmt.Errorf("open progress reporter: %w", err)
	}

	cfg.Intake.OnRecv(s.onRequest)
	s.logger.Info("Service started", logging.LogFields{
		"intake":   cfg.Intake.Endpoint().URL(),
		"result":   cfg.Result.Endpoint().URL(),
		"workers":  cfg.Pool.Size(),
		"commands": fmt.Sprint(cfg.Factory.Commands()),
	})
	return s, nil
}

func validate[Req dispatch.Request](streams *stream.Factory, cfg Config[Req]) error {
	var errs []error
	if streams == nil || streams.Loop == nil {
		errs = append(errs, rferrors.ErrLoopRequired)
	}
	if cfg.Name == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if cfg.Factory == nil {
		errs = append(errs, errors.New("command factory is required"))
	}
	if cfg.Intake == nil {
		errs = append(errs, errors.New("intake stream is required"))
	}
	if cfg.Pool == nil {
		errs = append(errs, errors.New("worker pool is required"))
	}
	if cfg.Replies.Success == nil || cfg.Replies.Error == nil {
		errs = append(errs, errors.New("success and error replies are required"))
	}
	return errors.Join(errs...)
}

// Name returns the service name.
func (s *Service[Req]) Name() string { return s.cfg.Name }

// InFlight reports the number of commands submitted and not yet answered.
func (s *Service[Req]) InFlight() int { return int(s.count.Load()) }

// reporterFunc sends progress through the side channel dealer.
type reporterFunc func(env [][]byte, state *msg.WorkerState) error

func (f reporterFunc) Report(env [][]byte, state *msg.WorkerState) error { return f(env, state) }

// reporterFor tags every report with the correlation key as the last
// envelope frame so onWorkerState can find the request it belongs to.
func (s *Service[Req]) reporterFor(key string) reporterFunc {
	return func(env [][]byte, state *msg.WorkerState) error {
		tagged := append(frames.CopyEnvelope(env), []byte(key))
		err := s.reporter.SendTo(tagged, state)
		if err != nil {
			s.logger.Error("Progress report failed", err, logging.LogFields{"correlation_key": key})
		}
		return err
	}
}

func (s *Service[Req]) onRequest(env [][]byte, msgs []any) {
	for _, m := range msgs {
		req, ok := m.(Req)
		if !ok {
			s.logger.Error("Dropping request of unexpected type", fmt.Errorf("%T", m), nil)
			continue
		}
		s.dispatch(env, req)
	}
}

func (s *Service[Req]) dispatch(env [][]byte, req Req) {
	command := req.CommandID()
	var svcCtx any
	if s.cfg.Context != nil {
		svcCtx = s.cfg.Context(env, req)
	}

	cmd, err := s.cfg.Factory.Create(env, req, svcCtx)
	if err != nil {
		s.reject(env, req, command, err)
		return
	}

	key := ids.NewCorrelationKey()
	exec := dispatch.NewExec(env, s.cfg.Name, key, svcCtx, s.reporterFor(key))
	e := &entry[Req]{env: exec.Envelope, req: req, command: command, started: time.Now()}

	future, err := s.cfg.Pool.Submit(s.task(cmd, exec, command), func(*pool.Future) {
		s.loop.AddCallback(func() { s.complete(key) })
	})
	if err != nil {
		s.reject(env, req, command, err)
		return
	}
	e.future = future
	s.inflight[key] = e
	s.metrics.RecordDispatched(s.cfg.Name, command.String())
	s.metrics.SetInFlight(s.cfg.Name, int(s.count.Add(1)))
	s.logger.Debug("Command dispatched", logging.LogFields{"command": command.String(), "correlation_key": key})
}

// reject answers a request that never reached the pool.
func (s *Service[Req]) reject(env [][]byte, req Req, command msg.Command, err error) {
	s.logger.Error("Rejecting request", err, logging.LogFields{"command": command.String()})
	s.metrics.RecordCompleted(s.cfg.Name, s.commandLabel(command), metrics.OutcomeRejected, 0)
	s.reply(env, s.cfg.Replies.Error(req, err))
}

// commandLabel bounds the metric label set to the factory's commands.
func (s *Service[Req]) commandLabel(command msg.Command) string {
	if !s.cfg.Factory.Has(command) {
		return metrics.UnknownCommand
	}
	return command.String()
}

// task runs on a worker goroutine.
func (s *Service[Req]) task(cmd dispatch.Command, exec *dispatch.Exec, command msg.Command) pool.Task {
	return func(ctx context.Context) (res pool.Result) {
		ctx, span := s.cfg.Tracer.Start(ctx, "relayflow.command",
			trace.WithAttributes(
				attribute.String("relayflow.service", s.cfg.Name),
				attribute.String("relayflow.command", command.String()),
				attribute.String("relayflow.correlation_key", exec.Key),
			))
		jobCtx := JobContext{
			Service:        s.cfg.Name,
			Command:        command,
			CorrelationKey: exec.Key,
			Context:        ctx,
			StartedAt:      time.Now(),
		}
		defer func() {
			if r := recover(); r != nil {
				res = pool.Failed(pool.KindPanic, fmt.Errorf("command %s panicked: %v", command, r))
			}
			jobCtx.Duration = time.Since(jobCtx.StartedAt)
			if res.Err != nil {
				span.RecordError(res.Err)
				span.SetStatus(codes.Error, res.Kind.String())
			}
			span.End()
			s.cfg.Hooks.finish(jobCtx, res.Err)
		}()

		s.cfg.Hooks.start(jobCtx)
		if err := cmd.Initialize(ctx, exec); err != nil {
			return pool.Failed(pool.KindInitialize, err)
		}
		value, err := cmd.Run(ctx)
		if err != nil {
			return pool.Failed(pool.KindExecution, err)
		}
		return pool.Result{Value: value}
	}
}

// complete runs on the loop once the pool has a result for key.
func (s *Service[Req]) complete(key string) {
	e, ok := s.inflight[key]
	if !ok {
		s.logger.Error("Completion for unknown correlation key", nil, logging.LogFields{"correlation_key": key})
		return
	}
	res, ok := e.future.Poll()
	if !ok {
		s.logger.Error("Completion scheduled before result was ready", nil, logging.LogFields{"correlation_key": key})
		return
	}
	delete(s.inflight, key)
	s.metrics.SetInFlight(s.cfg.Name, int(s.count.Add(-1)))
	elapsed := time.Since(e.started)

	if res.OK() {
		payload, err := s.cfg.Replies.Success(e.req, res.Value)
		if err == nil {
			s.metrics.RecordCompleted(s.cfg.Name, e.command.String(), metrics.OutcomeSuccess, elapsed)
			s.reply(e.env, payload)
			return
		}
		res = pool.Failed(pool.KindExecution, fmt.Errorf("build reply: %w", err))
	}

	outcome := metrics.OutcomeError
	if res.Kind == pool.KindPanic {
		outcome = metrics.OutcomePanic
	}
	s.metrics.RecordCompleted(s.cfg.Name, e.command.String(), outcome, elapsed)
	s.logger.Error("Command failed", res.Err, logging.LogFields{
		"command":         e.command.String(),
		"correlation_key": key,
		"kind":            res.Kind.String(),
	})
	s.reply(e.env, s.cfg.Replies.Error(e.req, res.Err))
}

func (s *Service[Req]) reply(env [][]byte, payload any) {
	if err := s.cfg.Result.Reply(env, payload); err != nil {
		s.logger.Error("Reply failed", err, nil)
	}
}

// onWorkerState forwards the last state of a progress unit to the caller.
// The envelope is [reporter identity, caller envelope..., correlation key].
// Reports for keys that are no longer in flight are dropped.
func (s *Service[Req]) onWorkerState(env [][]byte, msgs []any) {
	if len(env) < 3 {
		s.logger.Error("Progress report without caller envelope", rferrors.ErrUnroutable, nil)
		return
	}
	state, ok := msgs[len(msgs)-1].(*msg.WorkerState)
	if !ok {
		return
	}
	key := string(env[len(env)-1])
	e, ok := s.inflight[key]
	if !ok {
		s.logger.Debug("Progress report for unknown correlation key", logging.LogFields{"correlation_key": key})
		return
	}
	if s.cfg.Replies.Progress == nil {
		s.logger.Debug("No progress reply configured, dropping report", nil)
		return
	}
	s.metrics.RecordProgress(s.cfg.Name)
	s.reply(env[1:len(env)-1], s.cfg.Replies.Progress(e.req, state))
}

// Close stops taking requests, waits for in-flight commands to be answered
// until ctx is done, and closes all streams and the pool. It must not be
// called from the loop goroutine, which has to keep running to deliver the
// final replies. Only the first call has an effect.
func (s *Service[Req]) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.cfg.Intake.OnRecv(nil)

		var errs []error
		if err := s.cfg.Pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain pool: %w", err))
		} else if err := s.waitIdle(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain replies: %w", err))
		}

		errs = append(errs, s.reporter.Close(), s.side.Close(), s.cfg.Intake.Close())
		if s.cfg.Result != s.cfg.Intake {
			errs = append(errs, s.cfg.Result.Close())
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Info("Service stopped", logging.LogFields{"in_flight": s.InFlight()})
	})
	return s.closeErr
}

func (s *Service[Req]) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for s.count.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
