package dht

import "context"

// QueryCallback handles a single inbound KRPC query. args is the decoded
// "a" dictionary; the returned map becomes the "r" dictionary of the
// response, or err is surfaced to the caller as a protocol error.
type QueryCallback func(ctx context.Context, from Endpoint, args map[string]any) (map[string]any, error)

// Transport is the wire boundary the core depends on: a KRPC-over-UDP
// client/server with bencode framing and transaction matching. The core
// never touches sockets directly; internal/krpc provides the concrete
// implementation.
//
// CallRemote's error return is internal plumbing only -- per the remote
// call wrapper (RPC timeout, transport error, and schema mismatch all
// collapse to "no response"), every caller in this package ignores the
// specific error and treats a non-nil error identically to a nil result.
type Transport interface {
	// CallRemote issues method against endpoint with args, waiting up to
	// the transport's configured timeout. A non-nil error means the
	// call should be treated as if the remote never responded.
	CallRemote(ctx context.Context, endpoint Endpoint, method QueryMethod, args map[string]any) (map[string]any, error)

	// RegisterCallback wires an inbound query method to its handler.
	RegisterCallback(method QueryMethod, cb QueryCallback)

	// ConnectionMade fires fn once, the moment the transport's socket is
	// bound and ready to send/receive.
	ConnectionMade(fn func())

	// RunFuture backgrounds a long-lived task for the lifetime of the
	// transport, stopping it when ctx is canceled.
	RunFuture(ctx context.Context, task func(context.Context))

	// LocalID is the 160-bit identity this transport announces in every
	// outbound message's "id" field.
	LocalID() NodeID
}
