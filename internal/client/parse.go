package client

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/multiformats/go-multiaddr"

	"github.com/disrupted-codes/disrupted-data/internal/identity"
	"github.com/disrupted-codes/disrupted-data/internal/wire"
)

// ParseAction turns one line of interactive-prompt input into a signed
// Actions value: "put <key> <value>" signs record_value, "get <key>"
// signs record_key, anything else is Unknown. Unknown MUST be
// intercepted by the caller with a usage hint and never sent over the
// wire.
func ParseAction(line string, kp *identity.KeyPair) (wire.Actions, error) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return wire.Unknown{}, nil
	}

	switch strings.ToLower(parts[0]) {
	case "put":
		if len(parts) < 3 {
			return wire.Unknown{}, nil
		}
		key, value := parts[1], strings.Join(parts[2:], " ")
		sig, err := kp.Sign([]byte(value))
		if err != nil {
			return nil, fmt.Errorf("client: signing put: %w", err)
		}
		return &wire.PutRequest{
			UserPublicKey: kp.PublicKeyHex(),
			RecordKey:     key,
			RecordValue:   value,
			Signature:     hex.EncodeToString(sig),
		}, nil

	case "get":
		key := parts[1]
		sig, err := kp.Sign([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("client: signing get: %w", err)
		}
		return &wire.GetRequest{
			UserPublicKey: kp.PublicKeyHex(),
			RecordKey:     key,
			Signature:     hex.EncodeToString(sig),
		}, nil

	default:
		return wire.Unknown{}, nil
	}
}

// ParseNodeAddr builds the full dial multiaddr for a node from its IP,
// port, and PeerID, in the /ip4/<ip>/tcp/<port>/p2p/<peer-id> form
// go-libp2p's AddrInfoFromP2pAddr expects.
func ParseNodeAddr(ip, port, peerID string) (multiaddr.Multiaddr, error) {
	return multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%s/p2p/%s", ip, port, peerID))
}
