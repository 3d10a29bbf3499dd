package wire

import (
	"errors"
	"fmt"
)

// ErrMalformedEnvelope reports a frame that decoded but cannot be routed.
var ErrMalformedEnvelope = errors.New("wire: malformed envelope")

// EnvelopeKind distinguishes state payloads from control requests.
type EnvelopeKind uint8

const (
	EnvelopeState EnvelopeKind = iota + 1
	EnvelopeResyncRequest
)

func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeState:
		return "state"
	case EnvelopeResyncRequest:
		return "resync_request"
	default:
		return fmt.Sprintf("envelope(%d)", uint8(k))
	}
}

// Envelope is the frame exchanged between peers. Channel carries the numeric
// channel identifier the payload was filtered for.
type Envelope struct {
	Kind    EnvelopeKind `cbor:"1,keyasint" json:"kind"`
	Channel uint8        `cbor:"2,keyasint" json:"channel"`
	Seq     uint64       `cbor:"3,keyasint" json:"seq"`
	Payload Tree         `cbor:"4,keyasint,omitempty" json:"payload,omitempty"`
}

// Marshal encodes an envelope as CBOR.
func Marshal(env Envelope) ([]byte, error) {
	data, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates an envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Kind {
	case EnvelopeState, EnvelopeResyncRequest:
	default:
		return Envelope{}, fmt.Errorf("%w: kind %d", ErrMalformedEnvelope, env.Kind)
	}
	return env, nil
}
