package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize guards against a peer claiming an absurd frame length and
// forcing an unbounded allocation.
const maxFrameSize = 1 << 20 // 1 MiB

// WriteFrame writes payload as a single length-prefixed frame: a
// u32-big-endian length followed by the bytes. This is the framing the
// request/response stream protocol uses for both Actions and
// ActionResult payloads.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("wire: frame length %d exceeds maximum %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return buf, nil
}

// WriteAction frames and writes an Actions value.
func WriteAction(w io.Writer, a Actions) error {
	payload, err := MarshalAction(a)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadAction reads and decodes one framed Actions value.
func ReadAction(r io.Reader) (Actions, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalAction(payload)
}

// WriteResult frames and writes an ActionResult value.
func WriteResult(w io.Writer, res *ActionResult) error {
	payload, err := MarshalResult(res)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadResult reads and decodes one framed ActionResult value.
func ReadResult(r io.Reader) (*ActionResult, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalResult(payload)
}
