package channels

import "github.com/drblury/relayflow/msg"

// Well-known channel names.
const (
	DBNewFile      = "/db/new_file"
	MobiusModel    = "/mobius/model"
	RequestLocal   = "/request/local"
	RequestRequest = "/request/request"
	RequestDoWork  = "/request/do_work"
	RequestResult  = "/request/result"
	UploadProgress = "/mobius/upload_progress"

	// WorkerStatePattern matches the per-service progress side channels.
	WorkerStatePattern = "/worker/state/(.+)"
	workerStatePrefix  = "/worker/state/"
)

// WorkerStateChannel names the progress side channel of service.
func WorkerStateChannel(service string) string {
	return workerStatePrefix + service
}

// NewDefaultRegistry returns the built-in channel table.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	providerReq := TypeOf[msg.ProviderRequest]()
	providerResp := TypeOf[msg.ProviderResponse]()
	state := TypeOf[msg.WorkerState]()

	mustRegister(r.Register(DBNewFile, TypeOf[msg.DBRequest](), nil, TypeOf[msg.DBResponse]()))
	mustRegister(r.Register(MobiusModel, TypeOf[msg.Model](), nil, nil))
	mustRegister(r.Register(RequestLocal, providerReq, nil, providerResp))
	mustRegister(r.Register(RequestRequest, providerReq, nil, providerResp))
	mustRegister(r.Register(RequestDoWork, providerReq, nil, providerResp))
	mustRegister(r.Register(RequestResult, providerResp, nil, nil))
	mustRegister(r.Register(UploadProgress, state, nil, nil))
	mustRegister(r.RegisterPattern(WorkerStatePattern, state, nil, nil))

	return r
}

func mustRegister(err error) {
	if err != nil {
		panic(err)
	}
}
