// Package constants defines cross-cutting defaults for timing, protocol
// identifiers, and channel capacities.
package constants

import "time"

// Network protocol identifiers.
const (
	// ProtocolID is the stream protocol name for signed PUT/GET actions.
	ProtocolID = "/disrupted-data/browser/1"

	// IdentifyProtocolVersion matches the well-known IPFS identify protocol.
	IdentifyProtocolVersion = "/ipfs/id/1.0.0"
)

// Timing configuration.
const (
	// RequestTimeout bounds how long an inbound request waits for a matching
	// response before the request/response layer abandons it.
	RequestTimeout = 30 * time.Second

	// IdentifyInterval is how often the Identify behaviour refreshes peer info.
	IdentifyInterval = 20 * time.Second

	// IdleConnTimeout is the connection manager's grace period for new
	// connections. Connections are trimmed only when their count exceeds
	// the manager's high watermark; an idle connection is not closed
	// after this long.
	IdleConnTimeout = 60 * time.Second
)

// Default listen address.
const (
	DefaultIPAddress = "127.0.0.1"
	DefaultPort      = "6969"
)

// Channel capacities.
const (
	// SwarmCommandQueueCapacity bounds the intra-node command channel the
	// swarm loop drains follow-up actions from.
	SwarmCommandQueueCapacity = 50

	// ClientQueueCapacity bounds the client SDK's outbound action queue.
	ClientQueueCapacity = 400
)
