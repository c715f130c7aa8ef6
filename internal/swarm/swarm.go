// Package swarm implements the node's single event loop: it multiplexes
// inbound stream requests, DHT query progress, Identify/routing events,
// and shutdown, and owns the correlation tables that tie them together.
package swarm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/disrupted-codes/disrupted-data/internal/constants"
	"github.com/disrupted-codes/disrupted-data/internal/dhtadapter"
	"github.com/disrupted-codes/disrupted-data/internal/reqstate"
	"github.com/disrupted-codes/disrupted-data/internal/wire"
)

// rawRoutingTable is the optional capability a dhtadapter.Client may
// expose for wiring the RoutingUpdated bootstrap reflex; only
// *dhtadapter.Adapter implements it.
type rawRoutingTable interface {
	Raw() *kaddht.IpfsDHT
}

// State mirrors the lifecycle shape used throughout this codebase: a
// small enum plus Start(ctx)/Stop(ctx) built on a cancelable context and
// a done channel.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// inFlight is one in-flight request: exactly one of put/get is non-nil,
// its still-open reply channel, and the query ID (if any) currently
// correlated to it, kept so a timeout/abandon can purge both maps in one
// step. ctx/cancel bound the request's own DHT calls to
// constants.RequestTimeout, independent of the swarm's lifetime context,
// so an abandoned request's in-flight dht.Get/Put actually stops instead
// of running to completion in the background.
type inFlight struct {
	put            *reqstate.Put
	get            *reqstate.Get
	replyTo        chan *wire.ActionResult
	pendingQueryID dhtadapter.QueryID
	ctx            context.Context
	cancel         context.CancelFunc
}

// inboundCommand carries one decoded action from a stream handler into
// the loop, along with the reply channel the loop will complete exactly
// once.
type inboundCommand struct {
	action  wire.Actions
	replyTo chan *wire.ActionResult
}

// Swarm is the node's event loop.
type Swarm struct {
	host      host.Host
	dht       dhtadapter.Client
	directory *dhtadapter.Directory
	localIP   string
	log       *logrus.Entry

	commandCh chan *inboundCommand
	abandonCh chan string

	mu     sync.RWMutex
	state  State
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// requests and kadRequestMapping are mutated exclusively by run();
	// no other goroutine may touch them.
	requests          map[string]*inFlight
	kadRequestMapping map[dhtadapter.QueryID]string
	nextRequestID     atomic.Uint64

	// requestTimeout bounds how long a request may sit without reaching a
	// terminal state before it is abandoned. Defaults to
	// constants.RequestTimeout; tests shrink it to exercise abandon
	// without waiting out the production timeout.
	requestTimeout time.Duration
}

// New constructs a Swarm over an already-built libp2p host and DHT
// adapter. localIP is used by the Identify hook to filter out the node's
// own addresses.
func New(h host.Host, dht dhtadapter.Client, directory *dhtadapter.Directory, localIP string, log *logrus.Entry) *Swarm {
	return &Swarm{
		host:              h,
		dht:               dht,
		directory:         directory,
		localIP:           localIP,
		log:               log,
		commandCh:         make(chan *inboundCommand, constants.SwarmCommandQueueCapacity),
		abandonCh:         make(chan string, constants.SwarmCommandQueueCapacity),
		requests:          make(map[string]*inFlight),
		kadRequestMapping: make(map[dhtadapter.QueryID]string),
		state:             StateStopped,
		requestTimeout:    constants.RequestTimeout,
	}
}

func (s *Swarm) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start registers the stream handler, subscribes to Identify completion
// events, wires the routing-table's peer-added callback to a bootstrap
// reflex, and starts the event loop.
func (s *Swarm) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return fmt.Errorf("swarm: already %s", s.state)
	}
	s.state = StateStarting
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	sub, err := s.host.EventBus().Subscribe(new(event.EvtPeerIdentificationCompleted))
	if err != nil {
		s.cancel()
		return fmt.Errorf("swarm: subscribing to identify events: %w", err)
	}

	// Every RoutingUpdated event triggers a bootstrap, keeping the
	// routing table converged with the swarm. Raw() is an optional
	// capability: a real *dhtadapter.Adapter exposes it, a test fake
	// need not.
	if raw, ok := s.dht.(rawRoutingTable); ok {
		raw.Raw().RoutingTable().PeerAdded = func(peer.ID) {
			go func() {
				if err := s.dht.Bootstrap(s.ctx); err != nil {
					s.log.Debugf("routing-updated bootstrap: %v", err)
				}
			}()
		}
	}

	s.host.SetStreamHandler(constants.ProtocolID, s.handleStream)

	go s.forwardIdentify(sub)
	go s.run()

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	return nil
}

// Stop cancels the loop and waits for it to drain, for ctx to expire, or
// for 5 seconds to pass, whichever comes first.
func (s *Swarm) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateStopping {
		s.mu.Unlock()
		return fmt.Errorf("swarm: already %s", s.state)
	}
	s.state = StateStopping
	s.cancel()
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("swarm: timeout waiting for shutdown")
	case <-time.After(5 * time.Second):
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return nil
}

func (s *Swarm) forwardIdentify(sub event.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-s.ctx.Done():
			return
		case raw, ok := <-sub.Out():
			if !ok {
				return
			}
			evt, ok := raw.(event.EvtPeerIdentificationCompleted)
			if !ok {
				continue
			}
			s.onIdentify(evt.Peer, evt.ListenAddrs)
		}
	}
}

// onIdentify implements the Identify hook: filter out addresses
// containing the local IP (to avoid dialling ourselves) and register the
// remainder with the DHT adapter's address book.
func (s *Swarm) onIdentify(p peer.ID, addrs []multiaddr.Multiaddr) {
	for _, addr := range addrs {
		if strings.Contains(addr.String(), s.localIP) {
			continue
		}
		s.dht.AddAddress(p, addr)
		s.directory.Record(p, addr)
	}
}

// run is the single-writer event loop. Every mutation of requests and
// kadRequestMapping, and every Get/Put call into the DHT adapter, happens
// here. The Identify hook's AddAddress calls and the routing-updated
// Bootstrap calls are not made here: they run on their own goroutines.
func (s *Swarm) run() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			s.drainOnShutdown()
			return

		case cmd := <-s.commandCh:
			s.dispatch(cmd)

		case id := <-s.abandonCh:
			if id != "" {
				s.abandon(id)
			}

		case ev := <-s.dht.Events():
			s.handleProgress(ev)
		}
	}
}

// Submit hands a decoded inbound action to the loop and returns the
// reply channel the loop will complete exactly once. Safe to call from
// any goroutine (typically a stream handler); it is the one producer
// side of the bounded command channel.
func (s *Swarm) Submit(action wire.Actions) chan *wire.ActionResult {
	reply := make(chan *wire.ActionResult, 1)
	s.commandCh <- &inboundCommand{action: action, replyTo: reply}
	return reply
}

func (s *Swarm) newRequestID() string {
	return fmt.Sprintf("req-%d", s.nextRequestID.Add(1))
}

func (s *Swarm) dispatch(cmd *inboundCommand) {
	id := s.newRequestID()

	switch a := cmd.action.(type) {
	case *wire.PutRequest:
		reqCtx, cancel := context.WithTimeout(s.ctx, s.requestTimeout)
		sig, _ := wire.DecodeSignature(a.Signature)
		put := reqstate.NewPut(reqstate.PutData{
			UserPublicKeyHex: a.UserPublicKey,
			RecordKey:        a.RecordKey,
			RecordValue:      a.RecordValue,
			Signature:        sig,
		})
		qid, ok := put.Verify(reqCtx, s.dht)
		if !ok {
			cancel()
			res, _ := put.Result()
			s.replyNow(cmd.replyTo, res)
			return
		}
		s.requests[id] = &inFlight{put: put, replyTo: cmd.replyTo, pendingQueryID: qid, ctx: reqCtx, cancel: cancel}
		s.kadRequestMapping[qid] = id
		s.watchTimeout(id)

	case *wire.GetRequest:
		reqCtx, cancel := context.WithTimeout(s.ctx, s.requestTimeout)
		sig, _ := wire.DecodeSignature(a.Signature)
		get := reqstate.NewGet(reqstate.GetData{
			UserPublicKeyHex: a.UserPublicKey,
			RecordKey:        a.RecordKey,
			Signature:        sig,
		})
		qid, ok := get.Verify(reqCtx, s.dht)
		if !ok {
			cancel()
			res, _ := get.Result()
			s.replyNow(cmd.replyTo, res)
			return
		}
		s.requests[id] = &inFlight{get: get, replyTo: cmd.replyTo, pendingQueryID: qid, ctx: reqCtx, cancel: cancel}
		s.kadRequestMapping[qid] = id
		s.watchTimeout(id)

	default:
		s.log.Warnf("dispatch: inbound action decoded to Unknown")
		s.replyNow(cmd.replyTo, wire.Fail(wire.MsgInvalidRequest))
	}
}

// watchTimeout enforces the per-request timeout (default 30s): if the
// request has not reached a terminal state by then, it is abandoned —
// see abandon.
func (s *Swarm) watchTimeout(id string) {
	timer := time.NewTimer(s.requestTimeout)
	go func() {
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
		case <-timer.C:
			select {
			case s.abandonCh <- id:
			case <-s.ctx.Done():
			}
		}
	}()
}

// abandon purges a timed-out request from both maps, cancels its
// per-request context (stopping whatever dht.Get/Put call is still
// running on its behalf), and replies with a timeout failure so the
// waiting handleStream goroutine and its stream are released instead of
// blocking forever.
func (s *Swarm) abandon(id string) {
	inflight, ok := s.requests[id]
	if !ok {
		return
	}
	delete(s.kadRequestMapping, inflight.pendingQueryID)
	delete(s.requests, id)
	inflight.cancel()
	inflight.replyTo <- wire.Fail(wire.MsgRequestTimedOut)
}

func (s *Swarm) replyNow(ch chan *wire.ActionResult, res *wire.ActionResult) {
	ch <- res
}

func (s *Swarm) handleProgress(ev dhtadapter.ProgressEvent) {
	id, ok := s.kadRequestMapping[ev.QueryID]
	if !ok {
		// Progress for a query ID no tracked request is waiting on (e.g. a
		// late result for a request already abandoned); nothing to do.
		return
	}
	delete(s.kadRequestMapping, ev.QueryID)

	inflight, ok := s.requests[id]
	if !ok {
		return
	}

	switch {
	case inflight.put != nil:
		s.advancePut(id, inflight, ev)
	case inflight.get != nil:
		s.advanceGet(id, inflight, ev)
	}
}

func (s *Swarm) advancePut(id string, inflight *inFlight, ev dhtadapter.ProgressEvent) {
	put := inflight.put

	switch put.State.(type) {
	case reqstate.PutFindUser:
		switch ev.Kind {
		case dhtadapter.EventFoundRecord:
			if err := put.FindUserResult(true, ev.Value); err != nil {
				s.log.Warnf("put %s: decoding user index: %v", id, err)
			}
		case dhtadapter.EventNotFound:
			_ = put.FindUserResult(false, nil)
		default:
			put.InvalidTransition()
		}
		if _, terminal := put.Result(); !terminal {
			qid, ok := put.CreateDataRecord(inflight.ctx, s.dht)
			if ok {
				s.kadRequestMapping[qid] = id
				inflight.pendingQueryID = qid
			}
		}

	case reqstate.PutWaitingDataCreate:
		switch ev.Kind {
		case dhtadapter.EventPutOk:
			qid, ok := put.DataPutOk(inflight.ctx, s.dht)
			if ok {
				s.kadRequestMapping[qid] = id
				inflight.pendingQueryID = qid
			}
		case dhtadapter.EventPutErr:
			put.DataPutErr(storeErrorMessage(ev.Err))
		default:
			put.InvalidTransition()
		}

	case reqstate.PutWaitingUserCreate:
		switch ev.Kind {
		case dhtadapter.EventPutOk:
			put.UserPutOk()
		case dhtadapter.EventPutErr:
			put.UserPutErr(storeErrorMessage(ev.Err))
		default:
			put.InvalidTransition()
		}

	default:
		s.log.Warnf("put %s: progress event %v in unexpected state %T", id, ev.Kind, put.State)
		put.InvalidTransition()
	}

	if res, terminal := put.Result(); terminal {
		s.finish(id, res)
	}
}

func (s *Swarm) advanceGet(id string, inflight *inFlight, ev dhtadapter.ProgressEvent) {
	get := inflight.get

	switch get.State.(type) {
	case reqstate.GetFindUser:
		switch ev.Kind {
		case dhtadapter.EventFoundRecord:
			if err := get.FindUserResult(true, ev.Value); err != nil {
				s.log.Warnf("get %s: decoding user index: %v", id, err)
			}
		case dhtadapter.EventNotFound:
			_ = get.FindUserResult(false, nil)
		default:
			get.InvalidTransition()
		}
		if _, terminal := get.Result(); !terminal {
			qid, ok := get.FindDataRecord(inflight.ctx, s.dht)
			if ok {
				s.kadRequestMapping[qid] = id
				inflight.pendingQueryID = qid
			}
		}

	case reqstate.GetWaitingData:
		switch ev.Kind {
		case dhtadapter.EventFoundRecord:
			get.DataResult(true, ev.Value)
		case dhtadapter.EventNotFound:
			get.DataResult(false, nil)
		default:
			get.InvalidTransition()
		}

	default:
		s.log.Warnf("get %s: progress event %v in unexpected state %T", id, ev.Kind, get.State)
		get.InvalidTransition()
	}

	if res, terminal := get.Result(); terminal {
		s.finish(id, res)
	}
}

func (s *Swarm) finish(id string, res *wire.ActionResult) {
	inflight, ok := s.requests[id]
	if !ok {
		return
	}
	delete(s.requests, id)
	inflight.cancel()
	inflight.replyTo <- res
}

// drainOnShutdown fails every still-open request with the literal
// shutdown message, per the shutdown propagation policy.
func (s *Swarm) drainOnShutdown() {
	for id, inflight := range s.requests {
		inflight.cancel()
		inflight.replyTo <- wire.Fail(wire.MsgNodeShuttingDown)
		delete(s.requests, id)
	}
	s.kadRequestMapping = make(map[dhtadapter.QueryID]string)
}

func storeErrorMessage(err error) string {
	if err == nil {
		return "store error"
	}
	return err.Error()
}

// handleStream serves exactly one request/response exchange per inbound
// stream: decode one Actions frame, submit it to the loop, write back
// whatever ActionResult the loop produces.
func (s *Swarm) handleStream(str network.Stream) {
	defer str.Close()

	action, err := wire.ReadAction(str)
	if err != nil {
		s.log.Debugf("handleStream: reading action: %v", err)
		_ = wire.WriteResult(str, wire.Fail(wire.MsgInvalidRequest))
		return
	}

	reply := s.Submit(action)

	select {
	case res := <-reply:
		if err := wire.WriteResult(str, res); err != nil {
			s.log.Debugf("handleStream: writing result: %v", err)
		}
	case <-s.ctx.Done():
	}
}
