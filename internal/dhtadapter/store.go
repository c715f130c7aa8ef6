package dhtadapter

import "github.com/libp2p/go-libp2p-record"

// namespace is the kad-dht record namespace this service's records live
// under, distinguishing them from any other namespace a shared DHT might
// carry (e.g. libp2p's own "pk"/"ipns").
const namespace = "dd"

// permissiveValidator accepts any value under the "dd" namespace. Unlike
// IPNS or public-key records, a user-index or data record here carries no
// self-describing proof the DHT itself can check: ownership is enforced
// entirely by the request state machine verifying the Schnorr signature
// before any Put is issued, not by the DHT's record validator.
type permissiveValidator struct{}

func (permissiveValidator) Validate(key string, value []byte) error {
	return nil
}

// Select reports the first candidate as authoritative. Concurrent writers
// to the same key never occur in this design (a user-index record is
// only ever written by the single swarm loop that owns the request that
// produced it), so there is no conflict to resolve.
func (permissiveValidator) Select(key string, values [][]byte) (int, error) {
	return 0, nil
}

// Validator returns the record.Validator to install on the Kademlia
// behaviour via dht.Validator(...), namespaced so it only applies to keys
// prefixed "/dd/".
func Validator() record.Validator {
	return record.NamespacedValidator{
		namespace: permissiveValidator{},
	}
}

// NamespacedKey prefixes a raw hex record key with the DHT namespace this
// adapter uses, producing the string key go-libp2p-kad-dht expects.
func NamespacedKey(hexKey string) string {
	return "/" + namespace + "/" + hexKey
}
