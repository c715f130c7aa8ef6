// Package identity implements secp256k1 key-pair persistence and
// Schnorr signing/verification for signed PUT/GET actions.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/disrupted-codes/disrupted-data/internal/wire"
)

// KeyPair holds a node or client's secp256k1 identity. The same key
// doubles as the libp2p transport identity, so a KeyPair also exposes a
// PeerID.
type KeyPair struct {
	priv       *secp256k1.PrivateKey
	pub        *secp256k1.PublicKey
	libp2pPriv libp2pcrypto.PrivKey
}

// LoadOrGenerate decodes the key-pair protobuf blob at path if it exists;
// otherwise it generates a fresh secp256k1 key, persists it at path, and
// returns it. The on-disk encoding is exactly the one go-libp2p's own
// crypto.MarshalPrivateKey produces, so a key written here is readable by
// any other libp2p-based tool.
func LoadOrGenerate(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return fromProtobuf(data)
	}
	if !os.IsNotExist(err) {
		return nil, wire.ErrIO(fmt.Sprintf("reading key file %s: %v", path, err))
	}

	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, wire.ErrIO(fmt.Sprintf("generating key: %v", err))
	}
	kp, err := fromSecp256k1(priv)
	if err != nil {
		return nil, err
	}
	if err := kp.persist(path); err != nil {
		return nil, err
	}
	return kp, nil
}

func fromProtobuf(data []byte) (*KeyPair, error) {
	libp2pPriv, err := libp2pcrypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, wire.ErrKeyFormat(fmt.Sprintf("decoding key protobuf: %v", err))
	}
	raw, err := libp2pPriv.Raw()
	if err != nil {
		return nil, wire.ErrKeyFormat(fmt.Sprintf("extracting raw key bytes: %v", err))
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	return &KeyPair{
		priv:       priv,
		pub:        priv.PubKey(),
		libp2pPriv: libp2pPriv,
	}, nil
}

func fromSecp256k1(priv *secp256k1.PrivateKey) (*KeyPair, error) {
	libp2pPriv, err := libp2pcrypto.UnmarshalSecp256k1PrivateKey(priv.Serialize())
	if err != nil {
		return nil, wire.ErrKeyFormat(fmt.Sprintf("wrapping key for libp2p: %v", err))
	}
	return &KeyPair{
		priv:       priv,
		pub:        priv.PubKey(),
		libp2pPriv: libp2pPriv,
	}, nil
}

func (kp *KeyPair) persist(path string) error {
	data, err := libp2pcrypto.MarshalPrivateKey(kp.libp2pPriv)
	if err != nil {
		return wire.ErrKeyFormat(fmt.Sprintf("encoding key protobuf: %v", err))
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return wire.ErrIO(fmt.Sprintf("writing key file %s: %v", path, err))
	}
	return nil
}

// Libp2pPrivateKey returns the key in the form go-libp2p's host
// construction expects (libp2p.Identity(...)).
func (kp *KeyPair) Libp2pPrivateKey() libp2pcrypto.PrivKey {
	return kp.libp2pPriv
}

// PeerID derives the node's libp2p PeerID from this key pair's public key.
func (kp *KeyPair) PeerID() (peer.ID, error) {
	return peer.IDFromPrivateKey(kp.libp2pPriv)
}

// PublicKeyBytes returns the 33-byte compressed secp256k1 public key
// (the UPK, in its canonical byte form).
func (kp *KeyPair) PublicKeyBytes() []byte {
	return kp.pub.SerializeCompressed()
}

// PublicKeyHex returns the lowercase hex encoding of PublicKeyBytes, the
// canonical identifier used as a DHT key.
func (kp *KeyPair) PublicKeyHex() string {
	return fmt.Sprintf("%x", kp.PublicKeyBytes())
}

// Sign computes digest = SHA-256(msg) and returns a 64-byte Schnorr
// signature over digest.
func (kp *KeyPair) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := schnorr.Sign(kp.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("identity: schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// Verify decodes pubKeyBytes as a compressed secp256k1 point and checks
// sig against SHA-256(msg) under that full point, using the decred
// schnorr package's scheme (EC-Schnorr-DCRv0). It does not verify against
// an x-only (BIP-340) form of the key. It never panics: any decoding
// failure yields false, not an error.
func Verify(pubKeyBytes, sig, msg []byte) bool {
	pub, err := secp256k1.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}
	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(msg)
	return parsedSig.Verify(digest[:], pub)
}

// ParseUPK hex-decodes and validates a user public key, returning its raw
// compressed bytes. This is the single canonicalization point other
// packages should use when they need the raw bytes behind a hex UPK
// string, so a UPK is never independently re-derived from a signature.
func ParseUPK(hexUPK string) ([]byte, error) {
	b, err := wire.DecodeUserPublicKey(hexUPK)
	if err != nil {
		return nil, err
	}
	if _, err := secp256k1.ParsePubKey(b); err != nil {
		return nil, fmt.Errorf("identity: invalid public key: %w", err)
	}
	return b, nil
}

// FullyQualifiedRecordKey computes hex(UPK_bytes ‖ name_bytes), the
// namespaced DHT key for a data record named name and owned by the user
// identified by upkHex.
func FullyQualifiedRecordKey(upkHex, name string) (string, error) {
	upk, err := ParseUPK(upkHex)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, len(upk)+len(name))
	buf = append(buf, upk...)
	buf = append(buf, name...)
	return hex.EncodeToString(buf), nil
}
