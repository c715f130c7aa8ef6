package dhtadapter

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	p, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("IDFromPrivateKey: %v", err)
	}
	return p
}

func TestDirectoryRecordDeduplicates(t *testing.T) {
	d := NewDirectory()
	p := testPeerID(t)
	addr, err := multiaddr.NewMultiaddr("/ip4/10.0.0.1/tcp/6969")
	if err != nil {
		t.Fatalf("NewMultiaddr: %v", err)
	}

	d.Record(p, addr)
	d.Record(p, addr)

	got := d.Addresses(p)
	if len(got) != 1 {
		t.Fatalf("got %d addresses, want 1", len(got))
	}
}

func TestDirectoryPeers(t *testing.T) {
	d := NewDirectory()
	p1 := testPeerID(t)
	p2 := testPeerID(t)
	addr, _ := multiaddr.NewMultiaddr("/ip4/10.0.0.1/tcp/6969")

	d.Record(p1, addr)
	d.Record(p2, addr)

	peers := d.Peers()
	if len(peers) != 2 {
		t.Fatalf("got %d peers, want 2", len(peers))
	}
}
