package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLength is the size of the big-endian length prefix.
	HeaderLength = 4
	// MaxBodyLength bounds a frame body. A declared length of zero or
	// >= MaxBodyLength is a protocol violation.
	MaxBodyLength = 8192
)

// ErrProtocol marks fatal protocol violations: bad frame lengths and
// undecodable bodies. A connection that produces one is torn down.
var ErrProtocol = errors.New("protocol violation")

// EncodeFrame serializes an envelope and prefixes it with its length,
// returning the complete wire frame.
func EncodeFrame(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if len(body) >= MaxBodyLength {
		return nil, fmt.Errorf("%w: body length %d exceeds limit", ErrProtocol, len(body))
	}
	frame := make([]byte, HeaderLength+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[HeaderLength:], body)
	return frame, nil
}

// ReadFrame reads one length-prefixed frame body from r. It returns
// ErrProtocol-wrapped errors for invalid declared lengths; transport errors
// pass through unchanged.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length >= MaxBodyLength {
		return nil, fmt.Errorf("%w: invalid body length %d", ErrProtocol, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
