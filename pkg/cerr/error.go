package cerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"

	"buf.build/gen/go/bufbuild/protovalidate/protocolbuffers/go/buf/validate"
	"connectrpc.com/connect"
	"google.golang.org/protobuf/proto"

	"github.com/kazz187/agentdash/pkg/clog"
)

type Error struct {
	Code    Code
	Msg     string          // message returned to the caller together with Code
	Err     error           // underlying error, logged only
	Stack   string          // stack trace for error-level codes
	Details []proto.Message // structured details returned to the caller
}

func NewError(code Code, msg string, underlying error) *Error {
	return &Error{
		Code:  code,
		Msg:   msg,
		Err:   underlying,
		Stack: stackFor(code),
	}
}

// stackFor captures the caller's stack only for codes that log at error level.
func stackFor(code Code) string {
	if clog.ConnectCodeToLevel(code.ConnectCode()) != clog.LevelError {
		return ""
	}
	buf := make([]byte, 2048)
	return string(buf[:runtime.Stack(buf, false)])
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AddFieldViolation records a violation against a request field. The field
// name is stored as the rule id so JSON clients can highlight the input.
func (e *Error) AddFieldViolation(field, msg string) *Error {
	e.Details = append(e.Details, &validate.Violation{
		Message: &msg,
		RuleId:  &field,
	})
	return e
}

// HasViolations reports whether any field violation was recorded. Handlers
// collect violations on one error and return it only when this is true.
func (e *Error) HasViolations() bool {
	return len(e.Violations()) > 0
}

// Violations returns the recorded field violations in insertion order.
func (e *Error) Violations() []HTTPViolation {
	var vs []HTTPViolation
	for _, d := range e.Details {
		v, ok := d.(*validate.Violation)
		if !ok {
			continue
		}
		vs = append(vs, HTTPViolation{Field: v.GetRuleId(), Message: v.GetMessage()})
	}
	return vs
}

func (e *Error) ConnectError() *connect.Error {
	connectErr := connect.NewError(e.Code.ConnectCode(), errors.New(e.Msg))
	for _, msg := range e.Details {
		detail, err := connect.NewErrorDetail(msg)
		if err != nil {
			continue
		}
		connectErr.AddDetail(detail)
	}
	return connectErr
}

// classify turns any handler error into an *Error and records it on the
// request log context. A client that went away is reported as Canceled and
// not logged as a failure.
func classify(ctx context.Context, err error) *Error {
	if isClientGone(err) {
		return NewError(Canceled, "connection closed", err)
	}
	clog.AddError(ctx, err)
	var e *Error
	if !errors.As(err, &e) {
		e = NewError(Unknown, "unknown error", err)
	}
	if e.Stack != "" {
		clog.AddStack(ctx, e.Stack)
	}
	return e
}

func isClientGone(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.Err == "operation was canceled"
}

// ExtractConnectError converts err for a connect handler.
func ExtractConnectError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	return classify(ctx, err).ConnectError()
}

func IsCode(err error, code Code) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code == code
	}
	return false
}
