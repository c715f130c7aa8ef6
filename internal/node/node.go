package node

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	basichost "github.com/libp2p/go-libp2p/p2p/host/basic"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/disrupted-codes/disrupted-data/internal/constants"
	"github.com/disrupted-codes/disrupted-data/internal/dhtadapter"
	"github.com/disrupted-codes/disrupted-data/internal/identity"
	"github.com/disrupted-codes/disrupted-data/internal/swarm"
)

// minConnections/maxConnections are the connection manager's watermarks;
// the grace period (IdleConnTimeout) is what spec §4.F actually pins, so
// the watermarks are left generous rather than tuned.
const (
	minConnections = 32
	maxConnections = 256
)

// Node wires identity, the libp2p host, the Kademlia DHT adapter, and the
// swarm event loop into the running service spec §4.F describes.
type Node struct {
	Config *Config
	Host   host.Host
	DHT    *dhtadapter.Adapter
	Swarm  *swarm.Swarm

	log        *logrus.Entry
	identifyCt *time.Ticker
}

// New loads or generates the node's identity, builds the composite
// network behaviour (request/response protocol, Kademlia in server mode,
// Identify, Ping) over a Noise-XX/Yamux TCP transport, and listens on the
// configured address. It does not dial bootstrap peers or start the
// swarm loop; call Start for that.
func New(ctx context.Context, cfg *Config, log *logrus.Entry) (*Node, error) {
	kp, err := identity.LoadOrGenerate(cfg.NodeKeyLocation)
	if err != nil {
		return nil, fmt.Errorf("node: loading identity: %w", err)
	}

	listenAddr := fmt.Sprintf("/ip4/%s/tcp/%s", cfg.IPAddress, cfg.Port)

	cm, err := connmgr.NewConnManager(
		minConnections, maxConnections,
		connmgr.WithGracePeriod(constants.IdleConnTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("node: constructing connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(kp.Libp2pPrivateKey()),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.Ping(true),
		libp2p.ProtocolVersion(constants.IdentifyProtocolVersion),
		libp2p.ConnectionManager(cm),
	)
	if err != nil {
		return nil, fmt.Errorf("node: constructing libp2p host: %w", err)
	}

	dht, err := dhtadapter.New(ctx, h, log)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("node: constructing dht: %w", err)
	}

	directory := dhtadapter.NewDirectory()
	sw := swarm.New(h, dht, directory, cfg.IPAddress, log)

	return &Node{
		Config: cfg,
		Host:   h,
		DHT:    dht,
		Swarm:  sw,
		log:    log,
	}, nil
}

// Start dials every configured bootstrap peer (logging, not failing, on
// a dial error per spec's supplemented bootstrap-warning behaviour),
// starts the periodic Identify refresh, and starts the swarm loop.
func (n *Node) Start(ctx context.Context) error {
	n.dialBootstrapPeers(ctx)
	n.startIdentifyRefresh(ctx)
	return n.Swarm.Start(ctx)
}

// Stop tears down the Identify ticker, the swarm loop, the DHT, and the
// libp2p host, in that order.
func (n *Node) Stop(ctx context.Context) error {
	if n.identifyCt != nil {
		n.identifyCt.Stop()
	}
	if err := n.Swarm.Stop(ctx); err != nil {
		n.log.Warnf("node: swarm stop: %v", err)
	}
	if err := n.DHT.Close(); err != nil {
		n.log.Warnf("node: dht close: %v", err)
	}
	return n.Host.Close()
}

func (n *Node) dialBootstrapPeers(ctx context.Context) {
	for peerIDStr, ip := range n.Config.BootstrapNodes {
		pid, err := peer.Decode(peerIDStr)
		if err != nil {
			n.log.Warnf("node: bootstrap peer id %q: %v", peerIDStr, err)
			continue
		}
		addr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%s", ip, constants.DefaultPort))
		if err != nil {
			n.log.Warnf("node: bootstrap address for %s: %v", peerIDStr, err)
			continue
		}
		n.DHT.AddAddress(pid, addr)
		if err := n.Host.Connect(ctx, peer.AddrInfo{ID: pid, Addrs: []multiaddr.Multiaddr{addr}}); err != nil {
			n.log.Warnf("node: dialing bootstrap peer %s: %v", peerIDStr, err)
			continue
		}
		n.log.Infof("node: bootstrapped to %s at %s", peerIDStr, ip)
	}
}

// startIdentifyRefresh pushes an Identify announcement to every connected
// peer every IdentifyInterval, the Go equivalent of the reference
// Identify behaviour's periodic refresh: go-libp2p only auto-identifies a
// peer once per connection, so a periodic Push keeps long-lived
// connections' observed-address info current.
func (n *Node) startIdentifyRefresh(ctx context.Context) {
	bh, ok := n.Host.(*basichost.BasicHost)
	if !ok {
		n.log.Debugf("node: host is not *basichost.BasicHost, skipping periodic identify push")
		return
	}
	ids := bh.IDService()

	n.identifyCt = time.NewTicker(constants.IdentifyInterval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.identifyCt.C:
				ids.Push()
			}
		}
	}()
}
