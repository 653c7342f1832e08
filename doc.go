// Package relayflow routes typed, correlated requests and replies between
// service processes over a small set of named channels, and turns incoming
// requests into asynchronously executed commands whose results, and any
// progress reported on the way, travel back to the original caller.
//
// # Channels and streams
//
// A Registry maps channel names such as /request/request or /db/new_file to
// the message types sent, received and replied on them. Dynamic channels
// like /worker/state/<service> are matched by pattern. A Resolver turns a
// channel and a transport kind (IPC, Inproc or TCP) into an Endpoint.
//
// A Stream wraps one endpoint in one of four socket roles: PUB, SUB, ROUTER
// or DEALER. Send and Reply check the message type against the channel
// contract before anything is queued. Every wire unit carries the routing
// envelope, an empty separator frame, a kind tag (D for plain delivery, R for
// a reply) and the payload frames. Routers prepend the sender identity on
// receive and pop it again on send, so envelopes grow by one frame per hop
// and shrink back on the way home.
//
// Streams do their I/O on a Loop, a single goroutine that runs callbacks in
// order. The StreamFactory carries the registry, resolver, transport Hub and
// loop so callers only name the channel.
//
// # Transports
//
// Sockets run on watermill publishers and subscribers:
//   - inproc: gochannel, inside one process
//   - ipc: append-only topic files under COMM_DIR
//   - tcp: NATS (default), Kafka or RabbitMQ, selected by NETWORK_BACKEND
//
// # Proxies
//
// RequestProxy accepts requests on a ROUTER front door, broadcasts them on
// /request/do_work and routes results collected on /request/result back to
// their requestors. LocalRequestProxy bridges an in-process /request/local
// to the front door. Neither decodes the payloads it forwards.
//
// # Services
//
// A Service binds an intake stream to a worker Pool through a command
// Factory. Each request becomes a Command that runs on a worker; its result
// is answered on the loop along the envelope the request arrived with.
// Commands report progress through Exec.ReportProgress, which travels over
// the service's /worker/state/<name> side channel and reaches the caller
// before the final reply. Unknown commands are answered with an error reply
// naming the command and the factory.
//
// JobHooks observe command lifecycles. LoggingHooks logs them.
//
// # Front ends
//
// A Requester sends one ProviderRequest at a time through /request/local,
// hands progress replies to a callback and returns the terminal reply.
package relayflow
