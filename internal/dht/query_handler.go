package dht

import (
	"context"
	"log/slog"
	"time"

	"github.com/prxssh/maindht/pkg/utils/cast"
)

// QueryHandlers implements the four inbound KRPC methods. Every handler
// first refreshes the RoutingTable with the sender before doing
// method-specific work, per spec.
type QueryHandlers struct {
	logger *slog.Logger
	table  *RoutingTable
	peers  *PeerStore
	tokens *TokenMinter
	k      int
}

func NewQueryHandlers(table *RoutingTable, peers *PeerStore, tokens *TokenMinter, k int, logger *slog.Logger) *QueryHandlers {
	return &QueryHandlers{logger: logger, table: table, peers: peers, tokens: tokens, k: k}
}

// Register wires all four methods onto a Transport.
func (qh *QueryHandlers) Register(t Transport) {
	t.RegisterCallback(PingMethod, qh.Ping)
	t.RegisterCallback(FindNodeMethod, qh.FindNode)
	t.RegisterCallback(GetPeersMethod, qh.GetPeers)
	t.RegisterCallback(AnnouncePeerMethod, qh.AnnouncePeer)
}

func decodeSenderID(args map[string]any) (NodeID, error) {
	raw, err := cast.ToBytes(args["id"])
	if err != nil {
		return NodeID{}, ErrBadArgs
	}
	return DecodeID(raw)
}

func (qh *QueryHandlers) touch(senderID NodeID, from Endpoint) {
	qh.table.Add(senderID, from)
}

func (qh *QueryHandlers) Ping(ctx context.Context, from Endpoint, args map[string]any) (map[string]any, error) {
	senderID, err := decodeSenderID(args)
	if err != nil {
		return nil, err
	}
	qh.touch(senderID, from)

	qh.logger.Debug("ping", "from", from)
	return map[string]any{"id": string(qh.table.LocalID().Bytes())}, nil
}

func (qh *QueryHandlers) FindNode(ctx context.Context, from Endpoint, args map[string]any) (map[string]any, error) {
	senderID, err := decodeSenderID(args)
	if err != nil {
		return nil, err
	}
	qh.touch(senderID, from)

	targetRaw, err := cast.ToBytes(args["target"])
	if err != nil {
		return nil, ErrBadArgs
	}
	target, err := DecodeID(targetRaw)
	if err != nil {
		return nil, ErrBadArgs
	}

	closest := qh.table.KClosest(target, qh.k)
	nodes, err := EncodeNodeRecords(closest)
	if err != nil {
		return nil, err
	}

	qh.logger.Debug("find_node", "from", from, "target", target, "found", len(closest))
	return map[string]any{
		"id":    string(qh.table.LocalID().Bytes()),
		"nodes": string(nodes),
	}, nil
}

func (qh *QueryHandlers) GetPeers(ctx context.Context, from Endpoint, args map[string]any) (map[string]any, error) {
	senderID, err := decodeSenderID(args)
	if err != nil {
		return nil, err
	}
	qh.touch(senderID, from)

	hashRaw, err := cast.ToBytes(args["info_hash"])
	if err != nil {
		return nil, ErrBadArgs
	}
	infoHash, err := DecodeID(hashRaw)
	if err != nil {
		return nil, ErrBadArgs
	}

	token := qh.tokens.Issue(from)
	result := map[string]any{
		"id":    string(qh.table.LocalID().Bytes()),
		"token": string(token),
	}

	if peers := qh.peers.GetPeers(infoHash); len(peers) > 0 {
		values := make([]any, 0, len(peers))
		for _, ep := range peers {
			b, err := EncodeEndpoint(ep)
			if err != nil {
				continue
			}
			values = append(values, string(b))
		}
		result["values"] = values

		qh.logger.Debug("get_peers", "from", from, "info_hash", infoHash, "values", len(peers))
		return result, nil
	}

	closest := qh.table.KClosest(infoHash, qh.k)
	nodes, err := EncodeNodeRecords(closest)
	if err != nil {
		return nil, err
	}
	result["nodes"] = string(nodes)

	qh.logger.Debug("get_peers", "from", from, "info_hash", infoHash, "nodes", len(closest))
	return result, nil
}

func (qh *QueryHandlers) AnnouncePeer(ctx context.Context, from Endpoint, args map[string]any) (map[string]any, error) {
	senderID, err := decodeSenderID(args)
	if err != nil {
		return nil, err
	}
	qh.touch(senderID, from)

	hashRaw, err := cast.ToBytes(args["info_hash"])
	if err != nil {
		return nil, ErrBadArgs
	}
	infoHash, err := DecodeID(hashRaw)
	if err != nil {
		return nil, ErrBadArgs
	}

	portRaw, err := cast.ToInt(args["port"])
	if err != nil {
		return nil, ErrBadArgs
	}

	tokenRaw, err := cast.ToBytes(args["token"])
	if err != nil {
		return nil, ErrBadArgs
	}

	impliedPort := false
	if raw, ok := args["implied_port"]; ok {
		if v, err := cast.ToInt(raw); err == nil && v == 1 {
			impliedPort = true
		}
	}

	if !qh.tokens.Validate(from, tokenRaw) {
		qh.logger.Warn("announce_peer: bad token", "from", from, "info_hash", infoHash)
		return nil, ErrBadToken
	}

	qh.peers.RecordPeer(infoHash, from, int(portRaw), impliedPort, time.Now())

	qh.logger.Debug("announce_peer", "from", from, "info_hash", infoHash, "implied_port", impliedPort)
	return map[string]any{"id": string(qh.table.LocalID().Bytes())}, nil
}
