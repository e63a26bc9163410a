package dht

// QueryMethod names one of the four KRPC query methods this node
// supports, both as a RegisterCallback key and as the method argument to
// Transport.CallRemote.
type QueryMethod string

const (
	PingMethod         QueryMethod = "ping"
	FindNodeMethod     QueryMethod = "find_node"
	GetPeersMethod     QueryMethod = "get_peers"
	AnnouncePeerMethod QueryMethod = "announce_peer"
)
