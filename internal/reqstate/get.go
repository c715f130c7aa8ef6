package reqstate

import (
	"context"
	"fmt"

	"github.com/disrupted-codes/disrupted-data/internal/dhtadapter"
	"github.com/disrupted-codes/disrupted-data/internal/identity"
	"github.com/disrupted-codes/disrupted-data/internal/wire"
)

// GetState is the discriminated state of an in-flight GET request.
type GetState interface {
	isGetState()
}

type GetVerify struct{}

func (GetVerify) isGetState() {}

type GetFindUser struct{ QueryID dhtadapter.QueryID }

func (GetFindUser) isGetState() {}

// GetFindData holds the owner's decoded user-index once membership of the
// requested record key has been confirmed.
type GetFindData struct{ Keys []string }

func (GetFindData) isGetState() {}

type GetWaitingData struct{ QueryID dhtadapter.QueryID }

func (GetWaitingData) isGetState() {}

type GetSendResponse struct{ Result *wire.ActionResult }

func (GetSendResponse) isGetState() {}

// GetInvalid is named in the state inventory but never produced by a
// transition in this implementation: every guard failure here routes
// straight to GetSendResponse with a StateViolation message instead, so
// the terminal state is always inspectable uniformly.
type GetInvalid struct{}

func (GetInvalid) isGetState() {}

// GetData carries the decoded fields of an inbound GET action across the
// lifetime of its state machine.
type GetData struct {
	UserPublicKeyHex string
	RecordKey        string
	Signature        []byte
}

// Get is one in-flight GET request: its immutable decoded data plus its
// current state.
type Get struct {
	Data  GetData
	State GetState
}

func NewGet(data GetData) *Get {
	return &Get{Data: data, State: GetVerify{}}
}

// Verify is transition 1: verify the signature over record_key; on
// success issue dht.Get(UPK_hex).
func (g *Get) Verify(ctx context.Context, dht dhtadapter.Client) (dhtadapter.QueryID, bool) {
	if _, ok := g.State.(GetVerify); !ok {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return 0, false
	}

	upk, err := identity.ParseUPK(g.Data.UserPublicKeyHex)
	if err != nil || !identity.Verify(upk, g.Data.Signature, []byte(g.Data.RecordKey)) {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgInvalidRequest)}
		return 0, false
	}

	qid := dht.Get(ctx, g.Data.UserPublicKeyHex)
	g.State = GetFindUser{QueryID: qid}
	return qid, true
}

// FindUserResult is transition 2: decode the user-index (if found) and
// check membership of this request's fully-qualified record key.
func (g *Get) FindUserResult(found bool, value []byte) error {
	if _, ok := g.State.(GetFindUser); !ok {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return fmt.Errorf("reqstate: FindUserResult called outside FindUser")
	}

	if !found {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgUserNotFound)}
		return nil
	}

	keys, err := wire.DecodeUserIndex(value)
	if err != nil {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgInvalidRequest)}
		return err
	}

	fq, err := identity.FullyQualifiedRecordKey(g.Data.UserPublicKeyHex, g.Data.RecordKey)
	if err != nil {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgInvalidRequest)}
		return err
	}

	if !containsKey(keys, fq) {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgDataNotAssociatedWithUser)}
		return nil
	}

	g.State = GetFindData{Keys: keys}
	return nil
}

// FindDataRecord is transition 3: issue dht.Get(data_record_key).
func (g *Get) FindDataRecord(ctx context.Context, dht dhtadapter.Client) (dhtadapter.QueryID, bool) {
	if _, ok := g.State.(GetFindData); !ok {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return 0, false
	}

	fq, err := identity.FullyQualifiedRecordKey(g.Data.UserPublicKeyHex, g.Data.RecordKey)
	if err != nil {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgInvalidRequest)}
		return 0, false
	}

	qid := dht.Get(ctx, fq)
	g.State = GetWaitingData{QueryID: qid}
	return qid, true
}

// DataResult is transition 4: reply with the record's value, or a
// not-found failure.
func (g *Get) DataResult(found bool, value []byte) {
	if _, ok := g.State.(GetWaitingData); !ok {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
		return
	}
	if !found {
		g.State = GetSendResponse{Result: wire.Fail(wire.MsgRecordNotFound)}
		return
	}
	g.State = GetSendResponse{Result: wire.Succeed(string(value))}
}

// InvalidTransition forces the illegal-transition outcome.
func (g *Get) InvalidTransition() {
	g.State = GetSendResponse{Result: wire.Fail(wire.MsgInvalidState)}
}

// Result reports the terminal response, if the machine has reached one.
func (g *Get) Result() (*wire.ActionResult, bool) {
	st, ok := g.State.(GetSendResponse)
	if !ok {
		return nil, false
	}
	return st.Result, true
}
