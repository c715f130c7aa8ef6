// Package dhtadapter wraps go-libp2p-kad-dht behind the four-operation,
// query-ID-correlated interface the swarm event loop expects: get, put,
// add_address, bootstrap, reporting outcomes as asynchronous progress
// events rather than blocking calls.
package dhtadapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/ipfs/go-datastore"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"
)

// Client is the subset of Adapter's surface the request state machines
// and the swarm loop's dispatch/progress path depend on. It exists so
// tests can drive reqstate and swarm against a fake DHT instead of a
// real Kademlia engine; *Adapter satisfies it structurally, so
// production wiring is unchanged.
type Client interface {
	Get(ctx context.Context, hexKey string) QueryID
	Put(ctx context.Context, hexKey string, value []byte) QueryID
	Events() <-chan ProgressEvent
	AddAddress(p peer.ID, addr multiaddr.Multiaddr)
	Bootstrap(ctx context.Context) error
}

// Adapter is the swarm loop's sole entry point into the Kademlia engine.
// Every method is safe to call concurrently; Get and Put each return
// immediately with a QueryID and report their outcome later on Events().
type Adapter struct {
	dht *kaddht.IpfsDHT
	log *logrus.Entry

	nextQueryID atomic.Uint64

	mu     sync.Mutex
	events chan ProgressEvent
}

// New constructs the adapter's Kademlia behaviour in server mode over an
// in-memory, mutex-wrapped datastore, installed with the permissive "dd"
// namespace validator this service's arbitrary hex-keyed records need.
func New(ctx context.Context, h host.Host, log *logrus.Entry) (*Adapter, error) {
	ds := dssync.MutexWrap(datastore.NewMapDatastore())

	d, err := kaddht.New(ctx, h,
		kaddht.Mode(kaddht.ModeServer),
		kaddht.Datastore(ds),
		kaddht.Validator(Validator()),
	)
	if err != nil {
		return nil, fmt.Errorf("dhtadapter: constructing kademlia dht: %w", err)
	}

	return &Adapter{
		dht:    d,
		log:    log,
		events: make(chan ProgressEvent, 64),
	}, nil
}

// Events returns the channel the swarm loop selects on for DHT progress.
func (a *Adapter) Events() <-chan ProgressEvent {
	return a.events
}

func (a *Adapter) newQueryID() QueryID {
	return QueryID(a.nextQueryID.Add(1))
}

// Get issues an asynchronous lookup for hexKey. Its outcome (FoundRecord
// or NotFound) arrives later on Events(), tagged with the returned
// QueryID.
func (a *Adapter) Get(ctx context.Context, hexKey string) QueryID {
	qid := a.newQueryID()
	go func() {
		value, err := a.dht.GetValue(ctx, NamespacedKey(hexKey), kaddht.Quorum(1))
		if err != nil {
			a.log.Debugf("dht get %s: not found (%v)", hexKey, err)
			a.events <- ProgressEvent{Kind: EventNotFound, QueryID: qid, Key: hexKey}
			return
		}
		a.events <- ProgressEvent{Kind: EventFoundRecord, QueryID: qid, Key: hexKey, Value: value}
	}()
	return qid
}

// Put issues an asynchronous store of value under hexKey. Its outcome
// (PutOk or PutErr) arrives later on Events(). Quorum is fixed to a
// single writer, matching the single-writer design this service assumes;
// there is no concurrent writer whose acknowledgement needs waiting on.
func (a *Adapter) Put(ctx context.Context, hexKey string, value []byte) QueryID {
	qid := a.newQueryID()
	go func() {
		if err := a.dht.PutValue(ctx, NamespacedKey(hexKey), value); err != nil {
			a.events <- ProgressEvent{Kind: EventPutErr, QueryID: qid, Key: hexKey, Err: err}
			return
		}
		a.events <- ProgressEvent{Kind: EventPutOk, QueryID: qid, Key: hexKey}
	}()
	return qid
}

// AddAddress registers a peer's address with the DHT's address book so
// it can be dialled during routing-table refresh.
func (a *Adapter) AddAddress(p peer.ID, addr multiaddr.Multiaddr) {
	a.dht.Host().Peerstore().AddAddr(p, addr, peerstore.PermanentAddrTTL)
}

// Bootstrap triggers a routing-table refresh against the DHT's current
// peers. Safe to call repeatedly; go-libp2p-kad-dht's own Bootstrap is
// idempotent and non-blocking for the refresh it schedules.
func (a *Adapter) Bootstrap(ctx context.Context) error {
	return a.dht.Bootstrap(ctx)
}

// Close releases the underlying Kademlia behaviour.
func (a *Adapter) Close() error {
	return a.dht.Close()
}

// Raw exposes the underlying *kaddht.IpfsDHT for callers (host
// construction, routing discovery) that need the concrete routing
// implementation rather than this adapter's narrowed interface.
func (a *Adapter) Raw() *kaddht.IpfsDHT {
	return a.dht
}
