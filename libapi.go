package relayflow

import (
	"context"

	"github.com/drblury/relayflow/client"
	"github.com/drblury/relayflow/internal/runtime/address"
	"github.com/drblury/relayflow/internal/runtime/channels"
	configpkg "github.com/drblury/relayflow/internal/runtime/config"
	"github.com/drblury/relayflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/relayflow/internal/runtime/errors"
	idspkg "github.com/drblury/relayflow/internal/runtime/ids"
	"github.com/drblury/relayflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/relayflow/internal/runtime/logging"
	looppkg "github.com/drblury/relayflow/internal/runtime/loop"
	metricspkg "github.com/drblury/relayflow/internal/runtime/metrics"
	poolpkg "github.com/drblury/relayflow/internal/runtime/pool"
	"github.com/drblury/relayflow/internal/runtime/proxy"
	servicepkg "github.com/drblury/relayflow/internal/runtime/service"
	"github.com/drblury/relayflow/internal/runtime/socket"
	"github.com/drblury/relayflow/internal/runtime/storage"
	"github.com/drblury/relayflow/internal/runtime/stream"
	"github.com/drblury/relayflow/msg"
	"github.com/drblury/relayflow/transport"
)

type (
	Config = configpkg.Config

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Channels and addressing
	Registry      = channels.Registry
	ChannelSpec   = channels.Spec
	Catalog       = channels.Catalog
	TransportKind = address.Kind
	Endpoint      = address.Endpoint
	Resolver      = address.Resolver

	// Sockets and streams
	Hub            = socket.Hub
	Loop           = looppkg.Loop
	Stream         = stream.Stream
	StreamFactory  = stream.Factory
	StreamOption   = stream.Option
	Direction      = stream.Direction
	RecvHandler    = stream.RecvHandler
	RawRecvHandler = stream.RawRecvHandler
	SendHandler    = stream.SendHandler

	// Proxies
	RequestProxy             = proxy.RequestProxy
	RequestProxyOptions      = proxy.RequestProxyOptions
	LocalRequestProxy        = proxy.LocalRequestProxy
	LocalRequestProxyOptions = proxy.LocalRequestProxyOptions
	ProxyEndpoint            = proxy.Endpoint

	// Dispatch and services
	Request                    = dispatch.Request
	Command                    = dispatch.Command
	Exec                       = dispatch.Exec
	Factory[Req Request]       = dispatch.Factory[Req]
	Constructor[Req Request]   = dispatch.Constructor[Req]
	ServiceConfig[Req Request] = servicepkg.Config[Req]
	Service[Req Request]       = servicepkg.Service[Req]
	Replies[Req any]           = servicepkg.Replies[Req]
	JobContext                 = servicepkg.JobContext
	JobHooks                   = servicepkg.JobHooks

	// Worker pool
	Pool      = poolpkg.Pool
	Future    = poolpkg.Future
	Result    = poolpkg.Result
	ErrorKind = poolpkg.ErrorKind

	Metrics = metricspkg.Metrics

	Requester     = client.Requester
	ProviderError = client.ProviderError

	DB      = storage.DB
	Querier = storage.Querier
	File    = storage.File
	Files   = storage.Files

	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities

	ChannelConfigError    = errspkg.ChannelConfigError
	TypeMismatchError     = errspkg.TypeMismatchError
	ServiceError          = errspkg.ServiceError
	ConfigValidationError = errspkg.ConfigValidationError

	ProviderRequest  = msg.ProviderRequest
	ProviderResponse = msg.ProviderResponse
	WorkerState      = msg.WorkerState
	DBRequest        = msg.DBRequest
	DBResponse       = msg.DBResponse
)

// Transport kinds.
const (
	IPC    = address.IPC
	Inproc = address.Inproc
	TCP    = address.TCP
)

// Flush directions.
const (
	Inbound  = stream.Inbound
	Outbound = stream.Outbound
	Both     = stream.Both
)

// Pool error kinds.
const (
	KindNone       = poolpkg.KindNone
	KindInitialize = poolpkg.KindInitialize
	KindExecution  = poolpkg.KindExecution
	KindPanic      = poolpkg.KindPanic
	KindCanceled   = poolpkg.KindCanceled
)

var (
	LoadConfig = configpkg.Load

	NewDefaultRegistry = channels.NewDefaultRegistry
	NewRegistry        = channels.NewRegistry
	LoadChannelMap     = channels.LoadFile
	DefaultCatalog     = channels.DefaultCatalog
	WorkerStateChannel = channels.WorkerStateChannel

	NewHub  = socket.NewHub
	NewLoop = looppkg.New
	NewPool = poolpkg.New

	WithTransport = stream.WithTransport
	WithHostPort  = stream.WithHostPort
	Bind          = stream.Bind
	Connect       = stream.Connect
	WithoutLoop   = stream.WithoutLoop
	WithIdentity  = stream.WithIdentity
	WithRecv      = stream.WithRecv
	WithRawRecv   = stream.WithRawRecv
	WithSend      = stream.WithSend

	NewRequestProxy      = proxy.NewRequestProxy
	NewLocalRequestProxy = proxy.NewLocalRequestProxy

	ProviderReplies = servicepkg.ProviderReplies
	LoggingHooks    = servicepkg.LoggingHooks
	RunFunc         = dispatch.RunFunc

	NewRequester = client.NewRequester

	OpenDB = storage.Open

	NewMetrics = metricspkg.New

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	CreateULID = idspkg.CreateULID

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal

	ErrChannelConfig   = errspkg.ErrChannelConfig
	ErrTypeMismatch    = errspkg.ErrTypeMismatch
	ErrService         = errspkg.ErrService
	ErrStreamClosed    = errspkg.ErrStreamClosed
	ErrAddressInUse    = errspkg.ErrAddressInUse
	ErrUnroutable      = errspkg.ErrUnroutable
	ErrSendUnsupported = errspkg.ErrSendUnsupported
	ErrLoopRequired    = errspkg.ErrLoopRequired
	ErrPoolClosed      = errspkg.ErrPoolClosed
	ErrConfigRequired  = errspkg.ErrConfigRequired
)

// NewFactory returns an empty command factory named name.
func NewFactory[Req Request](name string) *Factory[Req] {
	return dispatch.NewFactory[Req](name)
}

// NewService starts a service on streams. See ServiceConfig.
func NewService[Req Request](ctx context.Context, streams *StreamFactory, cfg ServiceConfig[Req]) (*Service[Req], error) {
	return servicepkg.New(ctx, streams, cfg)
}

// Typed adapts a handler of concrete message values to a RecvHandler.
func Typed[T any](h func(env [][]byte, msgs []T)) RecvHandler {
	return stream.Typed(h)
}
