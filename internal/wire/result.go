package wire

import "encoding/json"

// ActionResult is the tagged union a node sends back in response to an
// Actions frame: either Success or Failure, each carrying a
// human-readable message. Callers must treat the message as opaque;
// nothing downstream may branch on its contents except tests asserting
// the literal strings named in the external contract.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func Succeed(message string) *ActionResult {
	return &ActionResult{Success: true, Message: message}
}

func Fail(message string) *ActionResult {
	return &ActionResult{Success: false, Message: message}
}

func MarshalResult(r *ActionResult) ([]byte, error) {
	return json.Marshal(r)
}

func UnmarshalResult(data []byte) (*ActionResult, error) {
	var r ActionResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
