package errtag

import (
	"errors"
	"fmt"
)

type Option func(m *tagMeta)

func WithMsg(message string) Option {
	return func(t *tagMeta) {
		t.msg = message
	}
}
func WithMsgf(format string, a ...any) Option {
	return func(t *tagMeta) {
		t.msg = fmt.Sprintf(format, a...)
	}
}

func WithDetails(details ...string) Option {
	return func(t *tagMeta) {
		t.details = details
	}
}

// Tagger is implemented by every tagged error type. Unlike an HTTP-service
// error taxonomy, Code returns one of the fixed bridge error code strings
// from the runtime bridge protocol (UNKNOWN_COLLECTION, TIMEOUT, ...), so it
// survives serialisation across the bridge envelope unchanged.
type Tagger interface {
	error
	Code() string
	Msg() string
	Details() []string
}

type TaggerPtr[T any] interface {
	*T
	init(cause error, opts ...Option)
}

func Tag[T Tagger, TP TaggerPtr[T]](cause error, opts ...Option) T {
	var t T
	TP(&t).init(cause, opts...)
	return t
}

func NewTagged[T Tagger, TP TaggerPtr[T]](cause string, opts ...Option) error {
	var t T
	TP(&t).init(errors.New(cause), opts...)
	return t
}

type Coder interface {
	Code() string
}

type ErrorTag[C Coder] struct {
	tagMeta
}

type tagMeta struct {
	cause   error
	msg     string
	details []string
}

func (t ErrorTag[C]) Error() string {
	if t.cause == nil {
		return t.Msg()
	}
	return t.cause.Error()
}

func (t ErrorTag[C]) Cause() error {
	return t.cause
}

func (t ErrorTag[C]) Unwrap() error {
	return t.cause
}

func (t ErrorTag[C]) Code() string {
	var c C
	return c.Code()
}

func (t ErrorTag[C]) Msg() string {
	if t.msg == "" {
		return t.Code()
	}
	return t.msg
}

func (t ErrorTag[C]) Details() []string {
	return t.details
}

func (t *ErrorTag[C]) init(cause error, opts ...Option) {
	t.cause = cause
	for _, opt := range opts {
		opt(&t.tagMeta)
	}
}

func HasTag[T Tagger](err error) bool {
	_, ok := AsTag[T](err)
	return ok
}

func AsTag[T Tagger](err error) (T, bool) {
	var out T
	if err == nil {
		return out, false
	}
	ok := errors.As(err, &out)
	return out, ok
}

// RemoteCode returns the bridge error code carried by a Remote-tagged err,
// as forwarded verbatim from the far side's ErrorPayload.Code - the first
// entry of Details(), by the convention Tag[Remote] is constructed under in
// bridge/client.go. Lets a caller branch on the remote's own error code
// without parsing Error()'s message text.
func RemoteCode(err error) (string, bool) {
	tagged, ok := AsTag[Remote](err)
	if !ok || len(tagged.Details()) == 0 {
		return "", false
	}
	return tagged.Details()[0], true
}
