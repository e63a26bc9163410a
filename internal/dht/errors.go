package dht

import "errors"

var (
	// ErrNotStarted is returned by facade operations invoked before
	// Start has been called, or after Stop.
	ErrNotStarted = errors.New("dht: node not started")

	// ErrNoPeersFound is the only user-visible failure mode of
	// get_peers: the lookup converged without any announcing peer.
	ErrNoPeersFound = errors.New("dht: no peers found for info hash")

	// ErrBadToken is the protocol error an announce_peer handler
	// returns when the supplied token fails TokenMinter.Validate.
	ErrBadToken = errors.New("dht: bad token")

	// ErrOutOfRange marks the programmer error of inserting a node
	// whose ID falls outside a bucket's range; Bucket.Add panics with
	// this wrapped in, it is never returned to a caller.
	ErrOutOfRange = errors.New("dht: node id out of bucket range")

	// ErrUnknownMethod is the protocol error for a query whose method
	// name is not one of the four registered KRPC methods.
	ErrUnknownMethod = errors.New("dht: unknown method")

	// ErrBadArgs marks a query whose decoded "a" dictionary is missing
	// or malforms a required field.
	ErrBadArgs = errors.New("dht: invalid query arguments")
)
