// Package krpc implements the bencoded KRPC-over-UDP transport the dht
// package consumes through dht.Transport: wire framing, transaction
// matching, and timeouts all live here, out of the core's sight.
package krpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prxssh/maindht/internal/dht"
	"github.com/prxssh/maindht/pkg/bencode"
)

type messageType string

const (
	queryType    messageType = "q"
	responseType messageType = "r"
	errorType    messageType = "e"
)

// KRPC error codes, per BEP 5.
const (
	errCodeGeneric       = 201
	errCodeServer        = 202
	errCodeProtocol      = 203
	errCodeMethodUnknown = 204
)

// ErrArgs wraps a failure to encode or send an outbound query and is
// returned by CallRemote; callers treat it like any other CallRemote
// error, as no response. ErrResult is declared beside it but no code
// path returns it: a reply that fails to decode is dropped by the read
// loop, and the pending call ends at its deadline.
var (
	ErrArgs   = errors.New("krpc: args schema mismatch")
	ErrResult = errors.New("krpc: result schema mismatch")

	errStopped = errors.New("krpc: transport stopped")
)

// wireMessage is the in-memory shape of a KRPC datagram.
type wireMessage struct {
	T string // transaction ID
	Y messageType
	V string

	Q dht.QueryMethod
	A map[string]any

	R map[string]any

	E []any
}

type pendingCall struct {
	responseCh chan *wireMessage
}

// Node is a dht.Transport backed by a bound UDP socket.
type Node struct {
	logger  *slog.Logger
	localID dht.NodeID
	conn    *net.UDPConn
	timeout time.Duration
	version string

	mu           sync.RWMutex
	transactions map[string]*pendingCall
	callbacks    map[dht.QueryMethod]dht.QueryCallback

	readyMu sync.Mutex
	onReady []func()

	done chan struct{}
	wg   sync.WaitGroup
}

// New binds a UDP socket at listenAddr and returns a Node ready to Start.
func New(localID dht.NodeID, listenAddr string, timeout time.Duration, logger *slog.Logger) (*Node, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("krpc: resolve %q: %w", listenAddr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("krpc: listen %q: %w", listenAddr, err)
	}

	return &Node{
		logger:       logger,
		localID:      localID,
		conn:         conn,
		timeout:      timeout,
		version:      "MD01",
		transactions: make(map[string]*pendingCall),
		callbacks:    make(map[dht.QueryMethod]dht.QueryCallback),
		done:         make(chan struct{}),
	}, nil
}

func (n *Node) LocalAddr() *net.UDPAddr { return n.conn.LocalAddr().(*net.UDPAddr) }
func (n *Node) LocalID() dht.NodeID     { return n.localID }

// ConnectionMade registers fn to run once Start has bound the read loop.
// Only hooks registered before Start are run; a hook registered after
// Start is never called.
func (n *Node) ConnectionMade(fn func()) {
	n.readyMu.Lock()
	defer n.readyMu.Unlock()
	n.onReady = append(n.onReady, fn)
}

func (n *Node) RegisterCallback(method dht.QueryMethod, cb dht.QueryCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks[method] = cb
}

func (n *Node) RunFuture(ctx context.Context, task func(context.Context)) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		task(ctx)
	}()
}

// Start launches the read loop and fires every registered
// ConnectionMade hook.
func (n *Node) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.readLoop()
	}()

	n.readyMu.Lock()
	hooks := append([]func(){}, n.onReady...)
	n.readyMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Stop closes the socket and waits for every background goroutine,
// including tasks handed to RunFuture, to return.
func (n *Node) Stop() {
	close(n.done)
	n.conn.Close()
	n.wg.Wait()
}

// CallRemote implements dht.Transport.
func (n *Node) CallRemote(ctx context.Context, endpoint dht.Endpoint, method dht.QueryMethod, args map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	txID := uuid.NewString()
	call := &pendingCall{responseCh: make(chan *wireMessage, 1)}

	n.mu.Lock()
	n.transactions[txID] = call
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.transactions, txID)
		n.mu.Unlock()
	}()

	msg := &wireMessage{T: txID, Y: queryType, Q: method, A: args, V: n.version}
	if err := n.send(msg, endpoint.UDPAddr()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArgs, err)
	}

	select {
	case resp, ok := <-call.responseCh:
		if !ok {
			return nil, fmt.Errorf("krpc: %s: error response", method)
		}
		if resp.Y == errorType {
			return nil, fmt.Errorf("krpc: %s: remote error %v", method, resp.E)
		}
		return resp.R, nil

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-n.done:
		return nil, errStopped
	}
}

func (n *Node) send(msg *wireMessage, addr *net.UDPAddr) error {
	encoded, err := bencode.Marshal(encodeMessage(msg))
	if err != nil {
		return err
	}

	_, err = n.conn.WriteToUDP(encoded, addr)
	return err
}

func (n *Node) readLoop() {
	buf := make([]byte, 65536)

	for {
		select {
		case <-n.done:
			return
		default:
		}

		n.conn.SetReadDeadline(time.Now().Add(time.Second))
		read, addr, err := n.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				n.logger.Warn("krpc: read failed", "error", err)
			}
			continue
		}

		raw, err := bencode.Unmarshal(buf[:read])
		if err != nil {
			n.logger.Debug("krpc: malformed datagram", "from", addr, "error", err)
			continue
		}

		msg, ok := decodeMessage(raw)
		if !ok {
			n.logger.Debug("krpc: unrecognized message shape", "from", addr)
			continue
		}

		n.dispatch(msg, addr)
	}
}

func (n *Node) dispatch(msg *wireMessage, addr *net.UDPAddr) {
	switch msg.Y {
	case queryType:
		n.handleQuery(msg, addr)
	case responseType, errorType:
		n.handleReply(msg)
	}
}

func (n *Node) handleQuery(msg *wireMessage, addr *net.UDPAddr) {
	n.mu.RLock()
	cb, ok := n.callbacks[msg.Q]
	n.mu.RUnlock()

	if !ok {
		n.sendError(msg.T, errCodeMethodUnknown, "unknown method", addr)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	result, err := cb(ctx, dht.EndpointFromUDPAddr(addr), msg.A)
	if err != nil {
		n.logger.Debug("krpc: query handler error", "method", msg.Q, "from", addr, "error", err)
		n.sendError(msg.T, errCodeProtocol, err.Error(), addr)
		return
	}

	response := &wireMessage{T: msg.T, Y: responseType, R: result, V: n.version}
	if err := n.send(response, addr); err != nil {
		n.logger.Warn("krpc: send response failed", "to", addr, "error", err)
	}
}

func (n *Node) handleReply(msg *wireMessage) {
	n.mu.RLock()
	call, ok := n.transactions[msg.T]
	n.mu.RUnlock()

	if !ok {
		n.logger.Debug("krpc: reply for unknown transaction", "txid", msg.T)
		return
	}

	select {
	case call.responseCh <- msg:
	default:
	}
}

func (n *Node) sendError(transactionID string, code int, message string, addr *net.UDPAddr) {
	msg := &wireMessage{T: transactionID, Y: errorType, E: []any{code, message}, V: n.version}
	if err := n.send(msg, addr); err != nil {
		n.logger.Warn("krpc: send error failed", "to", addr, "error", err)
	}
}

func encodeMessage(msg *wireMessage) map[string]any {
	m := map[string]any{
		"t": msg.T,
		"y": string(msg.Y),
	}
	if msg.V != "" {
		m["v"] = msg.V
	}

	switch msg.Y {
	case queryType:
		m["q"] = string(msg.Q)
		m["a"] = msg.A
	case responseType:
		m["r"] = msg.R
	case errorType:
		m["e"] = msg.E
	}

	return m
}

func decodeMessage(data any) (*wireMessage, bool) {
	dict, ok := data.(map[string]any)
	if !ok {
		return nil, false
	}

	t, ok := dict["t"].(string)
	if !ok {
		return nil, false
	}
	y, ok := dict["y"].(string)
	if !ok {
		return nil, false
	}

	msg := &wireMessage{T: t, Y: messageType(y)}
	if v, ok := dict["v"].(string); ok {
		msg.V = v
	}

	switch msg.Y {
	case queryType:
		q, ok := dict["q"].(string)
		if !ok {
			return nil, false
		}
		msg.Q = dht.QueryMethod(q)

		a, ok := dict["a"].(map[string]any)
		if !ok {
			return nil, false
		}
		msg.A = a

	case responseType:
		r, ok := dict["r"].(map[string]any)
		if !ok {
			return nil, false
		}
		msg.R = r

	case errorType:
		e, ok := dict["e"].([]any)
		if !ok {
			return nil, false
		}
		msg.E = e

	default:
		return nil, false
	}

	return msg, true
}
