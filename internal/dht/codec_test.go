package dht

import (
	"bytes"
	"net"
	"testing"
)

func idOf(b byte) NodeID {
	var id NodeID
	id[idSize-1] = b
	return id
}

func TestDecodeID_RoundTrip(t *testing.T) {
	id := idOf(7)

	decoded, err := DecodeID(id[:])
	if err != nil {
		t.Fatalf("DecodeID: %v", err)
	}
	if decoded != id {
		t.Fatalf("round trip mismatch: got %v, want %v", decoded, id)
	}
}

func TestDecodeID_WrongLength(t *testing.T) {
	if _, err := DecodeID(make([]byte, 19)); err == nil {
		t.Fatal("expected error for 19-byte id")
	}
	if _, err := DecodeID(make([]byte, 21)); err == nil {
		t.Fatal("expected error for 21-byte id")
	}
}

func TestEndpoint_RoundTrip(t *testing.T) {
	ep := Endpoint{IP: net.IPv4(1, 2, 3, 4), Port: 40000}

	encoded, err := EncodeEndpoint(ep)
	if err != nil {
		t.Fatalf("EncodeEndpoint: %v", err)
	}
	if len(encoded) != endpointSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), endpointSize)
	}

	decoded, err := DecodeEndpoint(encoded)
	if err != nil {
		t.Fatalf("DecodeEndpoint: %v", err)
	}
	if !decoded.IP.Equal(ep.IP) || decoded.Port != ep.Port {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, ep)
	}
}

func TestEndpoint_CanonicalString(t *testing.T) {
	ep := Endpoint{IP: net.IPv4(1, 2, 3, 4), Port: 40000}
	if got, want := ep.String(), "('1.2.3.4', 40000)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestDecodeEndpoints_NotMultipleOfSize(t *testing.T) {
	if _, err := DecodeEndpoints(make([]byte, endpointSize+1)); err == nil {
		t.Fatal("expected error for misaligned peers blob")
	}
}

func TestNodeRecord_RoundTrip(t *testing.T) {
	n := NodeRecord{ID: idOf(9), Endpoint: Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 6881}}

	encoded, err := EncodeNodeRecord(n)
	if err != nil {
		t.Fatalf("EncodeNodeRecord: %v", err)
	}
	if len(encoded) != nodeSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), nodeSize)
	}

	decoded, err := DecodeNodeRecord(encoded)
	if err != nil {
		t.Fatalf("DecodeNodeRecord: %v", err)
	}
	if !decoded.Equal(n) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, n)
	}
}

func TestDecodeNodeRecords_FailsOnMisalignedLength(t *testing.T) {
	if _, err := DecodeNodeRecords(make([]byte, nodeSize+1)); err == nil {
		t.Fatal("expected error for misaligned node list")
	}
}

func TestEncodeNodeRecords_ConcatenatesInOrder(t *testing.T) {
	a := NodeRecord{ID: idOf(1), Endpoint: Endpoint{IP: net.IPv4(1, 1, 1, 1), Port: 1}}
	b := NodeRecord{ID: idOf(2), Endpoint: Endpoint{IP: net.IPv4(2, 2, 2, 2), Port: 2}}

	blob, err := EncodeNodeRecords([]NodeRecord{a, b})
	if err != nil {
		t.Fatalf("EncodeNodeRecords: %v", err)
	}

	decoded, err := DecodeNodeRecords(blob)
	if err != nil {
		t.Fatalf("DecodeNodeRecords: %v", err)
	}
	if len(decoded) != 2 || !decoded[0].Equal(a) || !decoded[1].Equal(b) {
		t.Fatalf("order not preserved: %+v", decoded)
	}
}

func TestIDFromInt_PadsToWidth(t *testing.T) {
	id := idOf(5)
	roundTripped := IDFromInt(id.Int())
	if !bytes.Equal(roundTripped[:], id[:]) {
		t.Fatalf("IDFromInt(Int()) = %v, want %v", roundTripped, id)
	}
}
