package service

import (
	"context"
	"time"

	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/msg"
)

// JobContext describes one command execution to hooks.
type JobContext struct {
	// Service is the name of the service running the command.
	Service string
	// Command is the requested command id.
	Command msg.Command
	// CorrelationKey identifies the in-flight entry.
	CorrelationKey string
	// Context is the context the command runs with.
	Context context.Context
	// StartedAt is when the worker picked the command up.
	StartedAt time.Time
	// Duration is how long the command took (only set in OnJobDone and OnJobError).
	Duration time.Duration
}

// JobHooks defines callbacks for command lifecycle events. They run on the
// worker goroutine. All hooks are optional.
type JobHooks struct {
	// OnJobStart is called before Initialize.
	OnJobStart func(ctx JobContext)

	// OnJobDone is called when Run returns without error.
	OnJobDone func(ctx JobContext)

	// OnJobError is called when Initialize or Run fails or panics.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks. The hooks from other are called after the
// hooks from h.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h JobHooks) start(ctx JobContext) {
	if h.OnJobStart != nil {
		h.OnJobStart(ctx)
	}
}

func (h JobHooks) finish(ctx JobContext, err error) {
	if err != nil {
		if h.OnJobError != nil {
			h.OnJobError(ctx, err)
		}
		return
	}
	if h.OnJobDone != nil {
		h.OnJobDone(ctx)
	}
}

// LoggingHooks returns hooks that log command lifecycle events.
func LoggingHooks(logger logging.ServiceLogger) JobHooks {
	logger = logging.OrNop(logger)
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Command started", logging.LogFields{
				"service":         ctx.Service,
				"command":         ctx.Command.String(),
				"correlation_key": ctx.CorrelationKey,
			})
		},
		OnJobDone: func(ctx JobContext) {
			logger.Info("Command completed", logging.LogFields{
				"service":         ctx.Service,
				"command":         ctx.Command.String(),
				"correlation_key": ctx.CorrelationKey,
				"duration_ms":     ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Command failed", err, logging.LogFields{
				"service":         ctx.Service,
				"command":         ctx.Command.String(),
				"correlation_key": ctx.CorrelationKey,
				"duration_ms":     ctx.Duration.Milliseconds(),
			})
		},
	}
}
