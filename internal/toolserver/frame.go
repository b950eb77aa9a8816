package toolserver

import (
	"encoding/binary"
	"fmt"
	"io"

	"medgraphrag/internal/apperr"
)

// maxFrameBytes bounds a single frame so a corrupt or malicious length
// prefix can't drive an unbounded allocation.
const maxFrameBytes = 64 << 20

// ReadFrame reads one length-prefixed JSON frame: a 4-byte big-endian
// length followed by that many bytes of JSON.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, apperr.New(apperr.InvalidInput, "zero-length frame")
	}
	if n > maxFrameBytes {
		return nil, apperr.New(apperr.InvalidInput, fmt.Sprintf("frame too large: %d bytes", n))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes one length-prefixed JSON frame.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
