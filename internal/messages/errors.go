// Package messages holds the built-in message catalog every implementation
// must provide (§6): ping/pong, the structured error family, and the
// common progress/status/batch envelopes.
package messages

import (
	"fmt"

	"github.com/relaylabs/envelope/internal/envelope"
	"github.com/relaylabs/envelope/internal/message"
)

// GenericError is the catch-all error reply.
type GenericError struct {
	message.Base
	Msg string `json:"msg"`
}

func (*GenericError) Tag() string    { return "error.generic" }
func (e *GenericError) Error() string { return e.Msg }

// NewGenericError builds a GenericError stamped with meta.
func NewGenericError(meta message.Meta, msg string) *GenericError {
	e := &GenericError{Msg: msg}
	e.SetMeta(meta)
	return e
}

// ValidationError reports that an incoming payload did not match its
// schema, carrying the same loc/msg shape as envelope.FieldError so
// clients parse both the same way.
type ValidationError struct {
	message.Base
	Msg    *string                 `json:"msg"`
	Errors []envelope.FieldError `json:"errors"`
}

func (*ValidationError) Tag() string { return "error.validation" }
func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation error"
	}
	return e.Errors[0].Msg
}

// NewValidationError wraps an *envelope.ValidationError as a reply message.
func NewValidationError(meta message.Meta, verr *envelope.ValidationError) *ValidationError {
	e := &ValidationError{Errors: verr.Errors}
	e.SetMeta(meta)
	return e
}

// MessageTypeError reports an unknown wire tag (§7 "msg_type").
type MessageTypeError struct {
	message.Base
	Msg      *string `json:"msg"`
	TypeName string  `json:"type_name"`
	Envelope string  `json:"envelope"`
}

func (*MessageTypeError) Tag() string { return "error.msg_type" }
func (e *MessageTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q for envelope %s", e.TypeName, e.Envelope)
}

// NewMessageTypeError builds the §8 scenario-2 reply for an unrecognized tag.
func NewMessageTypeError(meta message.Meta, typeName string, kind envelope.Kind) *MessageTypeError {
	e := &MessageTypeError{TypeName: typeName, Envelope: kind.String()}
	e.SetMeta(meta)
	return e
}

// BadRequestError reports a semantic mismatch that isn't a schema failure.
type BadRequestError struct {
	message.Base
	Msg string `json:"msg"`
}

func (*BadRequestError) Tag() string     { return "error.bad_request" }
func (e *BadRequestError) Error() string { return e.Msg }

func NewBadRequestError(meta message.Meta, msg string) *BadRequestError {
	e := &BadRequestError{Msg: msg}
	e.SetMeta(meta)
	return e
}

// NotFoundError reports a referenced entity that doesn't exist.
type NotFoundError struct {
	message.Base
	Msg   string `json:"msg,omitempty"`
	Model string `json:"model"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (*NotFoundError) Tag() string { return "error.not_found" }
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with %s=%s not found", e.Model, e.Key, e.Value)
}

func NewNotFoundError(meta message.Meta, model, key, value string) *NotFoundError {
	e := &NotFoundError{Model: model, Key: key, Value: value}
	e.SetMeta(meta)
	return e
}

// UnauthorizedError reports a permission-denied decision.
type UnauthorizedError struct {
	message.Base
	Permission string `json:"permission"`
}

func (*UnauthorizedError) Tag() string     { return "error.unauthorized" }
func (e *UnauthorizedError) Error() string { return fmt.Sprintf("permission denied: %s", e.Permission) }

func NewUnauthorizedError(meta message.Meta, permission string) *UnauthorizedError {
	e := &UnauthorizedError{Permission: permission}
	e.SetMeta(meta)
	return e
}

// SubscribeError reports a subscribe-specific permission failure,
// carrying just the channel name per §8 scenario 5.
type SubscribeError struct {
	message.Base
	ChannelName string `json:"channel_name"`
}

func (*SubscribeError) Tag() string     { return "error.subscribe" }
func (e *SubscribeError) Error() string { return fmt.Sprintf("subscribe denied for %s", e.ChannelName) }

func NewSubscribeError(meta message.Meta, channelName string) *SubscribeError {
	e := &SubscribeError{ChannelName: channelName}
	e.SetMeta(meta)
	return e
}

// JobError wraps a worker-side exception string. No traceback is exposed,
// only the message (§7).
type JobError struct {
	message.Base
	Msg string `json:"msg"`
}

func (*JobError) Tag() string     { return "error.job" }
func (e *JobError) Error() string { return e.Msg }

func NewJobError(meta message.Meta, msg string) *JobError {
	e := &JobError{Msg: msg}
	e.SetMeta(meta)
	return e
}
