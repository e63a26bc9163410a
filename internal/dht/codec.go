package dht

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"net"
)

const (
	idSize       = 20 // bytes, big-endian (SHA-1 sized)
	portSize     = 2  // bytes, big-endian
	endpointSize = net.IPv4len + portSize
	nodeSize     = idSize + endpointSize
)

// NodeID is a 160-bit Kademlia identifier, big-endian.
type NodeID [idSize]byte

// Int returns the NodeID as an unsigned integer for range/distance math.
func (id NodeID) Int() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

func (id NodeID) String() string {
	return fmt.Sprintf("%x", id[:])
}

// Bytes returns the 20-byte big-endian encoding of id.
func (id NodeID) Bytes() []byte {
	return id[:]
}

// IDFromInt renders a *big.Int back into a 160-bit NodeID, left-padded
// with zeroes. The caller must ensure v fits in 160 bits.
func IDFromInt(v *big.Int) NodeID {
	var id NodeID
	b := v.Bytes()
	if len(b) > idSize {
		b = b[len(b)-idSize:]
	}
	copy(id[idSize-len(b):], b)
	return id
}

// DecodeID parses a 20-byte big-endian node/info-hash identifier.
func DecodeID(data []byte) (NodeID, error) {
	var id NodeID
	if len(data) != idSize {
		return id, fmt.Errorf("dht: id must be %d bytes, got %d", idSize, len(data))
	}
	copy(id[:], data)
	return id, nil
}

// Endpoint is an IPv4 address and UDP port.
type Endpoint struct {
	IP   net.IP
	Port int
}

func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP, Port: e.Port}
}

// String renders the canonical form the token minter hashes over:
// ('A.B.C.D', port). Both the minter and the validator must agree on
// this byte-for-byte, so this is the single place that formats it.
func (e Endpoint) String() string {
	return fmt.Sprintf("('%s', %d)", e.IP.To4().String(), e.Port)
}

func EndpointFromUDPAddr(addr *net.UDPAddr) Endpoint {
	return Endpoint{IP: addr.IP, Port: addr.Port}
}

// EncodeEndpoint renders the 6-byte compact peer wire form: 4 bytes of
// IPv4 address followed by a big-endian port.
func EncodeEndpoint(e Endpoint) ([]byte, error) {
	ip4 := e.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("dht: endpoint %v is not IPv4", e.IP)
	}

	buf := make([]byte, endpointSize)
	copy(buf, ip4)
	binary.BigEndian.PutUint16(buf[4:], uint16(e.Port))
	return buf, nil
}

// DecodeEndpoint parses a 6-byte compact peer wire form.
func DecodeEndpoint(data []byte) (Endpoint, error) {
	if len(data) != endpointSize {
		return Endpoint{}, fmt.Errorf("dht: endpoint must be %d bytes, got %d", endpointSize, len(data))
	}

	ip := net.IPv4(data[0], data[1], data[2], data[3])
	port := binary.BigEndian.Uint16(data[4:6])
	return Endpoint{IP: ip, Port: int(port)}, nil
}

// DecodeEndpoints parses a concatenated list of 6-byte compact peer
// records, as carried in get_peers' "values".
func DecodeEndpoints(data []byte) ([]Endpoint, error) {
	if len(data)%endpointSize != 0 {
		return nil, fmt.Errorf("dht: peers blob length %d not a multiple of %d", len(data), endpointSize)
	}

	out := make([]Endpoint, 0, len(data)/endpointSize)
	for i := 0; i < len(data); i += endpointSize {
		ep, err := DecodeEndpoint(data[i : i+endpointSize])
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// EncodeEndpoints concatenates compact 6-byte peer records.
func EncodeEndpoints(eps []Endpoint) ([]byte, error) {
	buf := make([]byte, 0, len(eps)*endpointSize)
	for _, ep := range eps {
		b, err := EncodeEndpoint(ep)
		if err != nil {
			continue // best-effort: skip non-IPv4 peers rather than fail the whole response
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

// NodeRecord identifies a single known peer: its 160-bit ID and its
// network endpoint. Equality is structural on both fields.
type NodeRecord struct {
	ID       NodeID
	Endpoint Endpoint
}

func (n NodeRecord) Equal(o NodeRecord) bool {
	return n.ID == o.ID && n.Endpoint.IP.Equal(o.Endpoint.IP) && n.Endpoint.Port == o.Endpoint.Port
}

// EncodeNodeRecord renders the 26-byte compact node wire form: ID
// followed by the 6-byte compact endpoint.
func EncodeNodeRecord(n NodeRecord) ([]byte, error) {
	epBytes, err := EncodeEndpoint(n.Endpoint)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, nodeSize)
	buf = append(buf, n.ID[:]...)
	buf = append(buf, epBytes...)
	return buf, nil
}

// DecodeNodeRecord parses a 26-byte compact node wire form.
func DecodeNodeRecord(data []byte) (NodeRecord, error) {
	if len(data) != nodeSize {
		return NodeRecord{}, fmt.Errorf("dht: node record must be %d bytes, got %d", nodeSize, len(data))
	}

	id, err := DecodeID(data[:idSize])
	if err != nil {
		return NodeRecord{}, err
	}

	ep, err := DecodeEndpoint(data[idSize:])
	if err != nil {
		return NodeRecord{}, err
	}

	return NodeRecord{ID: id, Endpoint: ep}, nil
}

// EncodeNodeRecords concatenates compact 26-byte node records, in order.
func EncodeNodeRecords(nodes []NodeRecord) ([]byte, error) {
	buf := make([]byte, 0, len(nodes)*nodeSize)
	for _, n := range nodes {
		b, err := EncodeNodeRecord(n)
		if err != nil {
			continue
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

// DecodeNodeRecords parses a concatenated compact node-record list.
// Fails iff the input length is not a multiple of 26.
func DecodeNodeRecords(data []byte) ([]NodeRecord, error) {
	if len(data)%nodeSize != 0 {
		return nil, fmt.Errorf("dht: node list length %d not a multiple of %d", len(data), nodeSize)
	}

	out := make([]NodeRecord, 0, len(data)/nodeSize)
	for i := 0; i < len(data); i += nodeSize {
		n, err := DecodeNodeRecord(data[i : i+nodeSize])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
