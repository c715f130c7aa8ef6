package wire

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Actions is a tagged union of the inbound requests a node understands.
// Unknown flags malformed input: the client-side parser (see
// internal/client) returns it for unparseable user input, and
// UnmarshalAction returns it for a malformed inbound frame. It is never
// marshaled onto the wire.
type Actions interface {
	isAction()
}

// PutRequest asks the node to store record_value under record_key, scoped
// to the owner identified by UserPublicKey.
type PutRequest struct {
	UserPublicKey string `json:"user_public_key"` // lowercase hex, compressed secp256k1 point
	RecordKey     string `json:"record_key"`
	RecordValue   string `json:"record_value"`
	Signature     string `json:"signature"` // lowercase hex, 64-byte Schnorr signature
}

func (*PutRequest) isAction() {}

// GetRequest asks the node to return the value previously stored under
// record_key for the owner identified by UserPublicKey.
type GetRequest struct {
	UserPublicKey string `json:"user_public_key"`
	RecordKey     string `json:"record_key"`
	Signature     string `json:"signature"`
}

func (*GetRequest) isAction() {}

// Unknown marks input that could not be parsed into a Put or Get action.
// MarshalAction refuses it, so it is never sent on the wire.
type Unknown struct{}

func (Unknown) isAction() {}

// envelope is the wire representation: a kind discriminant plus exactly
// one populated body, mirroring the frame-kind-plus-body shape used
// elsewhere on the wire.
type envelope struct {
	Kind string      `json:"kind"`
	Put  *PutRequest `json:"put,omitempty"`
	Get  *GetRequest `json:"get,omitempty"`
}

// MarshalAction encodes an Actions value for transmission. Marshaling an
// Unknown action is a programmer error, not a wire condition, since
// Unknown must never be sent.
func MarshalAction(a Actions) ([]byte, error) {
	switch v := a.(type) {
	case *PutRequest:
		return json.Marshal(envelope{Kind: "put", Put: v})
	case *GetRequest:
		return json.Marshal(envelope{Kind: "get", Get: v})
	default:
		return nil, fmt.Errorf("wire: refusing to marshal %T onto the wire", a)
	}
}

// UnmarshalAction decodes an inbound action frame. Any payload that does
// not resolve to a well-formed put/get envelope decodes as Unknown; the
// swarm loop's dispatch replies to an Unknown action with the literal
// "Invalid request" failure without starting a state machine.
func UnmarshalAction(data []byte) (Actions, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Unknown{}, nil
	}
	switch e.Kind {
	case "put":
		if e.Put == nil {
			return Unknown{}, nil
		}
		return e.Put, nil
	case "get":
		if e.Get == nil {
			return Unknown{}, nil
		}
		return e.Get, nil
	default:
		return Unknown{}, nil
	}
}

// DecodeUserPublicKey hex-decodes a UserPublicKey field into its raw
// compressed secp256k1 bytes. Canonicalization point: every caller that
// needs the raw bytes of a UPK goes through here rather than re-parsing
// the field inline.
func DecodeUserPublicKey(hexUPK string) ([]byte, error) {
	b, err := hex.DecodeString(hexUPK)
	if err != nil {
		return nil, fmt.Errorf("wire: malformed user_public_key: %w", err)
	}
	return b, nil
}

// DecodeSignature hex-decodes a Signature field into its raw 64 bytes.
func DecodeSignature(hexSig string) ([]byte, error) {
	b, err := hex.DecodeString(hexSig)
	if err != nil {
		return nil, fmt.Errorf("wire: malformed signature: %w", err)
	}
	return b, nil
}
