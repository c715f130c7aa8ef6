package reqstate

import (
	"context"
	"fmt"

	"github.com/disrupted-codes/disrupted-data/internal/dhtadapter"
	"github.com/disrupted-codes/disrupted-data/internal/identity"
	"github.com/disrupted-codes/disrupted-data/internal/wire"
)

// PutState is the discriminated state of an in-flight PUT request. Each
// case carries only the data its own transition needs.
type PutState interface {
	isPutState()
}

type PutVerify struct{}

func (PutVerify) isPutState() {}

type PutFindUser struct{ QueryID dhtadapter.QueryID }

func (PutFindUser) isPutState() {}

type PutCreateDataRecord struct{ Find FindResult }

func (PutCreateDataRecord) isPutState() {}

type PutWaitingDataCreate struct {
	QueryID dhtadapter.QueryID
	Find    FindResult
}

func (PutWaitingDataCreate) isPutState() {}

type PutWaitingUserCreate struct{ QueryID dhtadapter.QueryID }

func (PutWaitingUserCreate) isPutState() {}

// PutSendResponse is the terminal state: a result is ready for dispatch
// on the request's response channel.
type PutSendResponse struct{ Result *wire.ActionResult }

func (PutSendResponse) isPutState() {}

// PutData carries the decoded fields of an inbound PUT action across the
// lifetime of its state machine.
type PutData struct {
	UserPublicKeyHex string
	RecordKey        string
	RecordValue      string
	Signature        []byte
}

// Put is one in-flight PUT request: its immutable decoded data plus its
// current state.
type Put struct {
	Data  PutData
	State PutState
}

func NewPut(data PutData) *Put {
	return &Put{Data: data, State: PutVerify{}}
}

// Verify is transition 1: verify the PUT's Schnorr signature over
// record_value. On success it issues dht.Get(UPK_hex) and moves to
// FindUser; on failure it terminates with Failure("Invalid request").
func (p *Put) Verify(ctx context.Context, dht dhtadapter.Client) (dhtadapter.QueryID, bool) {
	if _, ok := p.State.(PutVerify); !ok {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return 0, false
	}

	// Signs record_value only, per spec: the signature does not cover
	// record_key, so a man-in-the-middle could rewrite the key in
	// transit without invalidating it.
	upk, err := identity.ParseUPK(p.Data.UserPublicKeyHex)
	if err != nil || !identity.Verify(upk, p.Data.Signature, []byte(p.Data.RecordValue)) {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidRequest)}
		return 0, false
	}

	qid := dht.Get(ctx, p.Data.UserPublicKeyHex)
	p.State = PutFindUser{QueryID: qid}
	return qid, true
}

// FindUserResult is transition 2: the first DHT progress for FindUser's
// query ID resolves whether the owning user-index record already exists.
func (p *Put) FindUserResult(found bool, value []byte) error {
	if _, ok := p.State.(PutFindUser); !ok {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return fmt.Errorf("reqstate: FindUserResult called outside FindUser")
	}

	if !found {
		p.State = PutCreateDataRecord{Find: NotFound()}
		return nil
	}

	keys, err := wire.DecodeUserIndex(value)
	if err != nil {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidRequest)}
		return err
	}
	p.State = PutCreateDataRecord{Find: Found(keys)}
	return nil
}

// CreateDataRecord is transition 3: issue dht.Put for the data record at
// hex(UPK ‖ record_key).
func (p *Put) CreateDataRecord(ctx context.Context, dht dhtadapter.Client) (dhtadapter.QueryID, bool) {
	st, ok := p.State.(PutCreateDataRecord)
	if !ok {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return 0, false
	}

	key, err := identity.FullyQualifiedRecordKey(p.Data.UserPublicKeyHex, p.Data.RecordKey)
	if err != nil {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidRequest)}
		return 0, false
	}

	qid := dht.Put(ctx, key, []byte(p.Data.RecordValue))
	p.State = PutWaitingDataCreate{QueryID: qid, Find: st.Find}
	return qid, true
}

// DataPutOk is transition 4's success branch: the data record landed, so
// compute the updated user-index value and issue its Put.
func (p *Put) DataPutOk(ctx context.Context, dht dhtadapter.Client) (dhtadapter.QueryID, bool) {
	st, ok := p.State.(PutWaitingDataCreate)
	if !ok {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return 0, false
	}

	key, err := identity.FullyQualifiedRecordKey(p.Data.UserPublicKeyHex, p.Data.RecordKey)
	if err != nil {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidRequest)}
		return 0, false
	}

	var keys []string
	if st.Find.Found {
		keys = wire.AppendUserIndexKey(st.Find.Keys, key)
	} else {
		keys = []string{key}
	}

	qid := dht.Put(ctx, p.Data.UserPublicKeyHex, wire.EncodeUserIndex(keys))
	p.State = PutWaitingUserCreate{QueryID: qid}
	return qid, true
}

// DataPutErr is transition 4's failure branch: a local store error
// terminates the request.
func (p *Put) DataPutErr(reason string) {
	if _, ok := p.State.(PutWaitingDataCreate); !ok {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return
	}
	p.State = PutSendResponse{Result: wire.Fail(reason)}
}

// UserPutOk is transition 5's success branch.
func (p *Put) UserPutOk() {
	if _, ok := p.State.(PutWaitingUserCreate); !ok {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return
	}
	p.State = PutSendResponse{Result: wire.Succeed(wire.MsgDataAdded)}
}

// UserPutErr is transition 5's failure branch.
func (p *Put) UserPutErr(reason string) {
	if _, ok := p.State.(PutWaitingUserCreate); !ok {
		p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return
	}
	p.State = PutSendResponse{Result: wire.Fail(reason)}
}

// InvalidTransition forces the illegal-transition outcome: any DHT
// progress event arriving for a state that doesn't expect it is a
// protocol invariant violation.
func (p *Put) InvalidTransition() {
	p.State = PutSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
}

// Result reports the terminal response, if the machine has reached one.
func (p *Put) Result() (*wire.ActionResult, bool) {
	st, ok := p.State.(PutSendResponse)
	if !ok {
		return nil, false
	}
	return st.Result, true
}
