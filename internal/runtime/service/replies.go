package service

import (
	"github.com/drblury/relayflow/internal/runtime/jsoncodec"
	"github.com/drblury/relayflow/msg"
)

// Replies builds the reply payloads of a service. Success and Error are
// required. Progress is optional; without it progress reports are dropped.
type Replies[Req any] struct {
	Success  func(req Req, value any) (any, error)
	Error    func(req Req, err error) any
	Progress func(req Req, state *msg.WorkerState) any
}

// ProviderReplies answers provider requests with ProviderResponse values
// carrying service as ServiceName and the request's RequestID.
func ProviderReplies(service string) Replies[*msg.ProviderRequest] {
	respond := func(req *msg.ProviderRequest, state *msg.WorkerState) *msg.ProviderResponse {
		resp := &msg.ProviderResponse{ServiceName: service, State: state}
		if req != nil {
			resp.RequestID = req.RequestID
		}
		return resp
	}
	return Replies[*msg.ProviderRequest]{
		Success: func(req *msg.ProviderRequest, value any) (any, error) {
			response, err := responseText(value)
			if err != nil {
				return nil, err
			}
			return respond(req, &msg.WorkerState{StateID: msg.StateResult, Response: response}), nil
		},
		Error: func(req *msg.ProviderRequest, err error) any {
			return respond(req, &msg.WorkerState{StateID: msg.StateError, Error: err.Error()})
		},
		Progress: func(req *msg.ProviderRequest, state *msg.WorkerState) any {
			return respond(req, state)
		},
	}
}

// responseText renders a command result as the Response field: strings and
// byte slices verbatim, anything else as JSON.
func responseText(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		b, err := jsoncodec.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
