// Package envelope implements the framed wire format shared by every
// direction of traffic in the messaging fabric: parsing bytes off the wire,
// packing a decoded message back into wire shape, and wrapping a packed
// envelope for a transport-specific layer payload.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is one of the four envelope kinds. Each kind restricts which of the
// optional fields (s, l) may legally appear.
type Kind int

const (
	Incoming Kind = iota
	Outgoing
	Internal
	ErrorKind
)

// String returns the name used in error payloads (e.g. error.msg_type's
// "envelope" field) and in log lines.
func (k Kind) String() string {
	switch k {
	case Incoming:
		return "ws_incoming"
	case Outgoing:
		return "ws_outgoing"
	case Internal:
		return "internal"
	case ErrorKind:
		return "ws_error"
	default:
		return "unknown"
	}
}

// State is the outgoing/error envelope's lifecycle marker.
type State string

const (
	StateAcknowledged State = "a"
	StateQueued       State = "q"
	StateRunning      State = "r"
	StateSuccess      State = "s"
	StateFailed       State = "f"
)

// maxCorrelationID is the wire limit on the `i` field (§3).
const maxCorrelationID = 20

// Envelope is the wire unit: `{t, p, i, s, l}`. Which of s/l are populated
// depends on Kind and is enforced by the caller (envelope.go does not carry
// its own Kind on the wire — Kind is determined by which registry the
// receiver is reading from).
type Envelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p,omitempty"`
	I string          `json:"i,omitempty"`
	S State           `json:"s,omitempty"`
	L string          `json:"l,omitempty"`
}

// FieldError is one entry of a ValidationError, shaped like a pydantic
// error location/message pair so it round-trips the way §8 scenario 3
// expects.
type FieldError struct {
	Loc []string `json:"loc"`
	Msg string   `json:"msg"`
}

// ValidationError is returned by Parse when the input bytes are not a legal
// envelope. It is never panicked/raised — callers convert it directly into
// an error.validation message.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "envelope: validation failed"
	}
	return fmt.Sprintf("envelope: validation failed: %s", e.Errors[0].Msg)
}

func rootError(msg string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Loc: []string{"__root__"}, Msg: msg}}}
}

// Parse decodes raw bytes off the wire into an Envelope. Empty or malformed
// JSON, or a missing/oversized `t`/`i`, is a *ValidationError — never a Go
// panic and never silently accepted.
func Parse(data []byte) (*Envelope, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, rootError("empty frame")
	}

	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, rootError("not a valid envelope: " + err.Error())
	}

	if env.T == "" {
		return nil, rootError("t is required")
	}
	if len(env.I) > maxCorrelationID {
		return nil, rootError(fmt.Sprintf("i exceeds %d characters", maxCorrelationID))
	}

	return &env, nil
}

// packable is the minimal surface Pack needs from a decoded message; the
// message package's Message interface satisfies it.
type packable interface {
	Tag() string
}

// Pack renders a decoded message back into an Envelope for kind k. The
// caller supplies id/state explicitly (normally taken from the message's
// meta) since envelope has no dependency on the message package.
//
// Pack is a pure function: it may be called from any goroutine.
func Pack(msg packable, k Kind, id string, state State) (*Envelope, error) {
	env := &Envelope{T: msg.Tag(), I: id}
	switch {
	case k == ErrorKind:
		// Error envelopes always carry s="f" (§3) regardless of what the
		// caller passed — an error reply is by definition a failure.
		env.S = StateFailed
	case k == Outgoing:
		env.S = state
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("envelope: pack %s: %w", msg.Tag(), err)
	}
	// A message with no payload fields beyond its embedded, unexported
	// meta marshals as "{}"; the wire contract calls for an explicit
	// null payload in that case, matching the §6/§8 outgoing examples.
	if bytes.Equal(raw, []byte("{}")) {
		raw = []byte("null")
	}
	if k == Outgoing || k == ErrorKind || k == Internal {
		env.P = raw
	}

	return env, nil
}
