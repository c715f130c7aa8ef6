package swarm

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/sirupsen/logrus"

	"github.com/disrupted-codes/disrupted-data/internal/constants"
	"github.com/disrupted-codes/disrupted-data/internal/dhtadapter"
	"github.com/disrupted-codes/disrupted-data/internal/identity"
	"github.com/disrupted-codes/disrupted-data/internal/wire"
)

// fakeDHT is a deterministic, network-free stand-in for *dhtadapter.Adapter:
// Get/Put answer from an in-memory map and report their outcome
// asynchronously on the same Events() channel the real adapter uses, so
// the swarm loop under test exercises its real correlation logic.
type fakeDHT struct {
	events chan dhtadapter.ProgressEvent
	nextID atomic.Uint64

	mu      sync.Mutex
	store   map[string][]byte
	calls   []string
	putErrs map[string]error
}

func newFakeDHT() *fakeDHT {
	return &fakeDHT{
		events: make(chan dhtadapter.ProgressEvent, 64),
		store:  make(map[string][]byte),
		putErrs: make(map[string]error),
	}
}

func (f *fakeDHT) Get(ctx context.Context, hexKey string) dhtadapter.QueryID {
	qid := dhtadapter.QueryID(f.nextID.Add(1))
	f.mu.Lock()
	f.calls = append(f.calls, "get:"+hexKey)
	value, ok := f.store[hexKey]
	f.mu.Unlock()
	go func() {
		if ok {
			f.events <- dhtadapter.ProgressEvent{Kind: dhtadapter.EventFoundRecord, QueryID: qid, Key: hexKey, Value: value}
		} else {
			f.events <- dhtadapter.ProgressEvent{Kind: dhtadapter.EventNotFound, QueryID: qid, Key: hexKey}
		}
	}()
	return qid
}

func (f *fakeDHT) Put(ctx context.Context, hexKey string, value []byte) dhtadapter.QueryID {
	qid := dhtadapter.QueryID(f.nextID.Add(1))
	f.mu.Lock()
	f.calls = append(f.calls, "put:"+hexKey)
	if err, fails := f.putErrs[hexKey]; fails {
		f.mu.Unlock()
		go func() { f.events <- dhtadapter.ProgressEvent{Kind: dhtadapter.EventPutErr, QueryID: qid, Key: hexKey, Err: err} }()
		return qid
	}
	f.store[hexKey] = append([]byte(nil), value...)
	f.mu.Unlock()
	go func() { f.events <- dhtadapter.ProgressEvent{Kind: dhtadapter.EventPutOk, QueryID: qid, Key: hexKey} }()
	return qid
}

func (f *fakeDHT) Events() <-chan dhtadapter.ProgressEvent { return f.events }
func (f *fakeDHT) AddAddress(peer.ID, multiaddr.Multiaddr) {}
func (f *fakeDHT) Bootstrap(context.Context) error         { return nil }

func (f *fakeDHT) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// startForTest brings the loop up without a real libp2p host: Start()
// pulls in EventBus subscription and stream-handler registration this
// package's unit tests have no need to exercise.
func (s *Swarm) startForTest(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.state = StateRunning
	go s.run()
}

func newTestSwarm(t *testing.T, dht dhtadapter.Client) *Swarm {
	t.Helper()
	return newTestSwarmWithTimeout(t, dht, constants.RequestTimeout)
}

// newTestSwarmWithTimeout lets a test shrink requestTimeout so it can
// exercise watchTimeout/abandon without waiting out the production
// default.
func newTestSwarmWithTimeout(t *testing.T, dht dhtadapter.Client, timeout time.Duration) *Swarm {
	t.Helper()
	log := logrus.New().WithField("test", t.Name())
	s := New(nil, dht, dhtadapter.NewDirectory(), "127.0.0.1", log)
	s.requestTimeout = timeout
	s.startForTest(context.Background())
	t.Cleanup(func() { s.cancel() })
	return s
}

func testKeyPair(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.LoadOrGenerate(filepath.Join(t.TempDir(), "key"))
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	return kp
}

func signPut(t *testing.T, kp *identity.KeyPair, key, value string) *wire.PutRequest {
	t.Helper()
	sig, err := kp.Sign([]byte(value))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return &wire.PutRequest{
		UserPublicKey: kp.PublicKeyHex(),
		RecordKey:     key,
		RecordValue:   value,
		Signature:     hex.EncodeToString(sig),
	}
}

func signGet(t *testing.T, kp *identity.KeyPair, key string) *wire.GetRequest {
	t.Helper()
	sig, err := kp.Sign([]byte(key))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return &wire.GetRequest{
		UserPublicKey: kp.PublicKeyHex(),
		RecordKey:     key,
		Signature:     hex.EncodeToString(sig),
	}
}

func await(t *testing.T, reply chan *wire.ActionResult) *wire.ActionResult {
	t.Helper()
	select {
	case res := <-reply:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return nil
	}
}

// S1: fresh node, PUT a new user's first record.
func TestSwarmPutNewUser(t *testing.T) {
	dht := newFakeDHT()
	s := newTestSwarm(t, dht)
	kp := testKeyPair(t)

	res := await(t, s.Submit(signPut(t, kp, "hello", "world")))
	if !res.Success || res.Message != wire.MsgDataAdded {
		t.Fatalf("got %+v, want Success(%q)", res, wire.MsgDataAdded)
	}

	fq, err := identity.FullyQualifiedRecordKey(kp.PublicKeyHex(), "hello")
	if err != nil {
		t.Fatalf("FullyQualifiedRecordKey: %v", err)
	}
	if string(dht.store[fq]) != "world" {
		t.Errorf("data record = %q, want %q", dht.store[fq], "world")
	}
	keys, err := wire.DecodeUserIndex(dht.store[kp.PublicKeyHex()])
	if err != nil {
		t.Fatalf("DecodeUserIndex: %v", err)
	}
	if len(keys) != 1 || keys[0] != fq {
		t.Errorf("user index = %v, want [%s]", keys, fq)
	}
}

// S2: same user, second PUT appends to the existing index without losing
// the first record's key.
func TestSwarmPutExistingUserAppendsIndex(t *testing.T) {
	dht := newFakeDHT()
	s := newTestSwarm(t, dht)
	kp := testKeyPair(t)

	if res := await(t, s.Submit(signPut(t, kp, "hello", "world"))); !res.Success {
		t.Fatalf("first put failed: %+v", res)
	}
	res := await(t, s.Submit(signPut(t, kp, "foo", "bar")))
	if !res.Success || res.Message != wire.MsgDataAdded {
		t.Fatalf("got %+v, want Success(%q)", res, wire.MsgDataAdded)
	}

	fqHello, _ := identity.FullyQualifiedRecordKey(kp.PublicKeyHex(), "hello")
	fqFoo, _ := identity.FullyQualifiedRecordKey(kp.PublicKeyHex(), "foo")
	keys, err := wire.DecodeUserIndex(dht.store[kp.PublicKeyHex()])
	if err != nil {
		t.Fatalf("DecodeUserIndex: %v", err)
	}
	if len(keys) != 2 || keys[0] != fqHello || keys[1] != fqFoo {
		t.Errorf("user index = %v, want [%s %s]", keys, fqHello, fqFoo)
	}
}

// S3: GET after a PUT returns the stored value.
func TestSwarmGetHit(t *testing.T) {
	dht := newFakeDHT()
	s := newTestSwarm(t, dht)
	kp := testKeyPair(t)

	if res := await(t, s.Submit(signPut(t, kp, "hello", "world"))); !res.Success {
		t.Fatalf("put failed: %+v", res)
	}

	res := await(t, s.Submit(signGet(t, kp, "hello")))
	if !res.Success || res.Message != "world" {
		t.Fatalf("got %+v, want Success(%q)", res, "world")
	}
}

// S4: GET against a user with no index record at all.
func TestSwarmGetUnknownUser(t *testing.T) {
	s := newTestSwarm(t, newFakeDHT())
	kp := testKeyPair(t)

	res := await(t, s.Submit(signGet(t, kp, "hello")))
	if res.Success || res.Message != wire.MsgUserNotFound {
		t.Fatalf("got %+v, want Failure(%q)", res, wire.MsgUserNotFound)
	}
}

// S5: GET a record name the user's index doesn't contain.
func TestSwarmGetWrongRecord(t *testing.T) {
	dht := newFakeDHT()
	s := newTestSwarm(t, dht)
	kp := testKeyPair(t)

	if res := await(t, s.Submit(signPut(t, kp, "hello", "world"))); !res.Success {
		t.Fatalf("put failed: %+v", res)
	}

	res := await(t, s.Submit(signGet(t, kp, "missing")))
	if res.Success || res.Message != wire.MsgDataNotAssociatedWithUser {
		t.Fatalf("got %+v, want Failure(%q)", res, wire.MsgDataNotAssociatedWithUser)
	}
}

// S6: a tampered PUT fails verification before any DHT write is issued.
func TestSwarmPutBadSignatureMakesNoWrites(t *testing.T) {
	dht := newFakeDHT()
	s := newTestSwarm(t, dht)
	kp := testKeyPair(t)

	put := signPut(t, kp, "hello", "world")
	put.RecordValue = "tampered"

	res := await(t, s.Submit(put))
	if res.Success || res.Message != wire.MsgInvalidRequest {
		t.Fatalf("got %+v, want Failure(%q)", res, wire.MsgInvalidRequest)
	}
	if n := dht.callCount(); n != 0 {
		t.Errorf("dht recorded %d calls, want 0 (no DHT writes on a bad signature)", n)
	}
}

// An unparseable / Unknown action never reaches the request state
// machines; it fails immediately with the decode-error message.
func TestSwarmDispatchUnknownAction(t *testing.T) {
	s := newTestSwarm(t, newFakeDHT())

	res := await(t, s.Submit(wire.Unknown{}))
	if res.Success || res.Message != wire.MsgInvalidRequest {
		t.Fatalf("got %+v, want Failure(%q)", res, wire.MsgInvalidRequest)
	}
}

// Two unrelated users' requests interleave freely on the same loop and
// each resolves to its own correct outcome: disjoint query IDs and
// request IDs keep one request's progress events from ever being routed
// to the other's state machine.
func TestSwarmConcurrentRequestsDontCrossContaminate(t *testing.T) {
	dht := newFakeDHT()
	s := newTestSwarm(t, dht)
	aliceKP := testKeyPair(t)
	bobKP := testKeyPair(t)

	aliceReply := s.Submit(signPut(t, aliceKP, "hello", "world"))
	bobReply := s.Submit(signGet(t, bobKP, "hello")) // bob has no index at all

	aliceRes := await(t, aliceReply)
	bobRes := await(t, bobReply)

	if !aliceRes.Success || aliceRes.Message != wire.MsgDataAdded {
		t.Errorf("alice: got %+v", aliceRes)
	}
	if bobRes.Success || bobRes.Message != wire.MsgUserNotFound {
		t.Errorf("bob: got %+v, want Failure(%q)", bobRes, wire.MsgUserNotFound)
	}

	fq, _ := identity.FullyQualifiedRecordKey(aliceKP.PublicKeyHex(), "hello")
	if string(dht.store[fq]) != "world" {
		t.Errorf("alice's data record = %q, want %q (bob's request must not have touched it)", dht.store[fq], "world")
	}
	if _, ok := dht.store[bobKP.PublicKeyHex()]; ok {
		t.Error("bob has a user-index record despite never completing a PUT")
	}
}

// A PutErr on the data-record write terminates with the underlying
// message and never attempts the user-index write.
func TestSwarmPutDataStoreErrorSkipsUserIndexWrite(t *testing.T) {
	dht := newFakeDHT()
	s := newTestSwarm(t, dht)
	kp := testKeyPair(t)

	fq, err := identity.FullyQualifiedRecordKey(kp.PublicKeyHex(), "hello")
	if err != nil {
		t.Fatalf("FullyQualifiedRecordKey: %v", err)
	}
	dht.putErrs[fq] = errStoreFull{}

	res := await(t, s.Submit(signPut(t, kp, "hello", "world")))
	if res.Success || res.Message != "store full" {
		t.Fatalf("got %+v, want Failure(%q)", res, "store full")
	}
	if _, ok := dht.store[kp.PublicKeyHex()]; ok {
		t.Error("user-index record was written despite the data-record store error")
	}
}

type errStoreFull struct{}

func (errStoreFull) Error() string { return "store full" }

// stalledDHT never reports a progress event for any query it issues,
// modeling a DHT lookup that is still outstanding when the node shuts
// down: the request it backs must be drained, not left to hang forever.
type stalledDHT struct{}

func (stalledDHT) Get(context.Context, string) dhtadapter.QueryID          { return 1 }
func (stalledDHT) Put(context.Context, string, []byte) dhtadapter.QueryID  { return 1 }
func (stalledDHT) Events() <-chan dhtadapter.ProgressEvent                 { return nil }
func (stalledDHT) AddAddress(peer.ID, multiaddr.Multiaddr)                 {}
func (stalledDHT) Bootstrap(context.Context) error                        { return nil }

// Shutdown drains every still-open request with the literal shutdown
// failure and never leaves a reply channel unfulfilled.
func TestSwarmShutdownDrainsInFlightRequests(t *testing.T) {
	s := newTestSwarm(t, stalledDHT{})
	kp := testKeyPair(t)

	reply := s.Submit(signGet(t, kp, "hello"))

	// Give run() a chance to dispatch the command (moving the request
	// into FindUser, where it will stay forever against a stalled DHT)
	// before shutdown races it.
	time.Sleep(20 * time.Millisecond)
	s.cancel()

	res := await(t, reply)
	if res.Success || res.Message != wire.MsgNodeShuttingDown {
		t.Fatalf("got %+v, want Failure(%q)", res, wire.MsgNodeShuttingDown)
	}
}

// blockingCtxDHT models a real go-libp2p-kad-dht GetValue/PutValue call:
// it never resolves on its own and only returns once the context it was
// issued with is canceled. It records whether that happened so a test
// can confirm a timed-out request's own DHT call is actually stopped,
// not left running in the background forever.
type blockingCtxDHT struct {
	canceled chan struct{}
}

func newBlockingCtxDHT() *blockingCtxDHT {
	return &blockingCtxDHT{canceled: make(chan struct{}, 1)}
}

func (b *blockingCtxDHT) Get(ctx context.Context, hexKey string) dhtadapter.QueryID {
	go func() {
		<-ctx.Done()
		select {
		case b.canceled <- struct{}{}:
		default:
		}
	}()
	return 1
}

func (b *blockingCtxDHT) Put(ctx context.Context, hexKey string, value []byte) dhtadapter.QueryID {
	return b.Get(ctx, hexKey)
}

func (b *blockingCtxDHT) Events() <-chan dhtadapter.ProgressEvent { return nil }
func (b *blockingCtxDHT) AddAddress(peer.ID, multiaddr.Multiaddr) {}
func (b *blockingCtxDHT) Bootstrap(context.Context) error         { return nil }

// A request that never sees DHT progress is abandoned once requestTimeout
// elapses: it replies with the timeout failure instead of leaving its
// caller (handleStream, in production) blocked forever, its entries are
// purged from both correlation maps, and the context backing its
// in-flight dht.Get call is canceled so that call actually stops.
func TestSwarmRequestTimeoutRepliesAndCancelsDHTCall(t *testing.T) {
	dht := newBlockingCtxDHT()
	s := newTestSwarmWithTimeout(t, dht, 30*time.Millisecond)
	kp := testKeyPair(t)

	reply := s.Submit(signGet(t, kp, "hello"))

	res := await(t, reply)
	if res.Success || res.Message != wire.MsgRequestTimedOut {
		t.Fatalf("got %+v, want Failure(%q)", res, wire.MsgRequestTimedOut)
	}

	select {
	case <-dht.canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("request's own DHT call was never canceled on timeout")
	}

	if len(s.requests) != 0 {
		t.Errorf("requests map not purged after abandon: %v", s.requests)
	}
	if len(s.kadRequestMapping) != 0 {
		t.Errorf("kadRequestMapping not purged after abandon: %v", s.kadRequestMapping)
	}
}

// A request that completes normally before requestTimeout elapses must
// not also receive a timeout reply once its watchTimeout timer fires:
// abandon is a no-op for a request already removed from the map by
// finish.
func TestSwarmTimeoutAfterNormalCompletionIsNoop(t *testing.T) {
	dht := newFakeDHT()
	s := newTestSwarmWithTimeout(t, dht, 30*time.Millisecond)
	kp := testKeyPair(t)

	res := await(t, s.Submit(signPut(t, kp, "hello", "world")))
	if !res.Success || res.Message != wire.MsgDataAdded {
		t.Fatalf("got %+v, want Success(%q)", res, wire.MsgDataAdded)
	}

	// Outlive the (already-expired) timeout window; a stray abandon for
	// this request's ID must find nothing left to do.
	time.Sleep(60 * time.Millisecond)

	if len(s.requests) != 0 {
		t.Errorf("requests map leaked an entry after normal completion: %v", s.requests)
	}
}
