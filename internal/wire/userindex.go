package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeUserIndex serialises the fully-qualified record keys a user owns
// into the fixed user-index wire format: a sequence of
// <u32 little-endian length><utf-8 bytes> entries. This is the only
// encoding this node ever writes or reads; the older '|'-delimited text
// form from the original source is not implemented.
func EncodeUserIndex(keys []string) []byte {
	var out []byte
	var lenBuf [4]byte
	for _, k := range keys {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(k)))
		out = append(out, lenBuf[:]...)
		out = append(out, k...)
	}
	return out
}

// DecodeUserIndex parses the fixed user-index wire format back into the
// ordered list of fully-qualified record keys. Decoding what this package
// encoded always round-trips to the same order.
func DecodeUserIndex(data []byte) ([]string, error) {
	var keys []string
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("wire: truncated user-index length prefix")
		}
		n := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(len(data)) < uint64(n) {
			return nil, fmt.Errorf("wire: truncated user-index entry")
		}
		keys = append(keys, string(data[:n]))
		data = data[n:]
	}
	return keys, nil
}

// AppendUserIndexKey returns the keys list for a user-index record with
// key appended, unless it is already present (a record key is added to
// its owner's index at most once).
func AppendUserIndexKey(keys []string, key string) []string {
	for _, existing := range keys {
		if existing == key {
			return keys
		}
	}
	return append(keys, key)
}
