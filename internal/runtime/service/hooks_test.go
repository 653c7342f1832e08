package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relayflow/internal/runtime/logging"
	"github.com/drblury/relayflow/msg"
)

func TestJobHooksMerge(t *testing.T) {
	var order []string
	a := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "a-start") },
		OnJobError: func(JobContext, error) { order = append(order, "a-error") },
	}
	b := JobHooks{
		OnJobStart: func(JobContext) { order = append(order, "b-start") },
		OnJobDone:  func(JobContext) { order = append(order, "b-done") },
	}

	merged := a.Merge(b)
	merged.start(JobContext{})
	merged.finish(JobContext{}, nil)
	merged.finish(JobContext{}, errors.New("x"))

	assert.Equal(t, []string{"a-start", "b-start", "b-done", "a-error"}, order)
}

func TestJobHooksNilSafe(t *testing.T) {
	var h JobHooks
	assert.NotPanics(t, func() {
		h.start(JobContext{})
		h.finish(JobContext{}, nil)
		h.finish(JobContext{}, errors.New("x"))
		h.Merge(JobHooks{}).start(JobContext{})
	})
}

type recordingLogger struct {
	infos  []string
	errors []string
	debugs []string
	fields []logging.LogFields
}

func (r *recordingLogger) With(logging.LogFields) logging.ServiceLogger { return r }
func (r *recordingLogger) Debug(m string, f logging.LogFields) {
	r.debugs = append(r.debugs, m)
	r.fields = append(r.fields, f)
}
func (r *recordingLogger) Info(m string, f logging.LogFields) {
	r.infos = append(r.infos, m)
	r.fields = append(r.fields, f)
}
func (r *recordingLogger) Error(m string, _ error, f logging.LogFields) {
	r.errors = append(r.errors, m)
	r.fields = append(r.fields, f)
}
func (r *recordingLogger) Trace(string, logging.LogFields) {}

func TestLoggingHooks(t *testing.T) {
	log := &recordingLogger{}
	hooks := LoggingHooks(log)
	jc := JobContext{Service: "svc", Command: msg.CommandQuote, CorrelationKey: "k", Duration: 15 * time.Millisecond}

	hooks.start(jc)
	hooks.finish(jc, nil)
	hooks.finish(jc, errors.New("boom"))

	assert.Equal(t, []string{"Command started"}, log.debugs)
	assert.Equal(t, []string{"Command completed"}, log.infos)
	assert.Equal(t, []string{"Command failed"}, log.errors)
	assert.Equal(t, "QUOTE", log.fields[1]["command"])
	assert.Equal(t, int64(15), log.fields[1]["duration_ms"])
}

func TestProviderReplies(t *testing.T) {
	r := ProviderReplies("svc")

	out, err := r.Success(nil, 100)
	assert.NoError(t, err)
	assert.Equal(t, &msg.ProviderResponse{ServiceName: "svc", State: &msg.WorkerState{StateID: msg.StateResult, Response: "100"}}, out)

	out, err = r.Success(nil, []byte("raw"))
	assert.NoError(t, err)
	assert.Equal(t, "raw", out.(*msg.ProviderResponse).State.Response)

	out, err = r.Success(nil, nil)
	assert.NoError(t, err)
	assert.Empty(t, out.(*msg.ProviderResponse).State.Response)

	_, err = r.Success(nil, make(chan int))
	assert.Error(t, err)

	errOut := r.Error(nil, errors.New("failed")).(*msg.ProviderResponse)
	assert.Equal(t, msg.StateError, errOut.State.StateID)
	assert.Equal(t, "failed", errOut.State.Error)

	state := &msg.WorkerState{StateID: msg.StateProgress, Progress: 3}
	assert.Equal(t, &msg.ProviderResponse{ServiceName: "svc", State: state}, r.Progress(nil, state))
}

func TestProviderRepliesEchoRequestID(t *testing.T) {
	r := ProviderReplies("svc")
	req := &msg.ProviderRequest{RequestID: "01J9Z", Command: msg.CommandEcho}

	ok, err := r.Success(req, "done")
	require.NoError(t, err)
	assert.Equal(t, "01J9Z", ok.(*msg.ProviderResponse).RequestID)
	assert.Equal(t, "01J9Z", r.Error(req, errors.New("x")).(*msg.ProviderResponse).RequestID)
	assert.Equal(t, "01J9Z", r.Progress(req, &msg.WorkerState{StateID: msg.StateProgress}).(*msg.ProviderResponse).RequestID)
}
