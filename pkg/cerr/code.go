package cerr

import (
	"errors"
	"net/http"

	"connectrpc.com/connect"
)

// Code values match the connect (and gRPC) code numbering, so conversion is a
// plain cast.
//
//go:generate go tool stringer -type=Code -output=code_string.go code.go
type Code int

const (
	OK                 = Code(0)
	Canceled           = Code(connect.CodeCanceled)
	Unknown            = Code(connect.CodeUnknown)
	InvalidArgument    = Code(connect.CodeInvalidArgument)
	DeadlineExceeded   = Code(connect.CodeDeadlineExceeded)
	NotFound           = Code(connect.CodeNotFound)
	AlreadyExists      = Code(connect.CodeAlreadyExists)
	PermissionDenied   = Code(connect.CodePermissionDenied)
	ResourceExhausted  = Code(connect.CodeResourceExhausted)
	FailedPrecondition = Code(connect.CodeFailedPrecondition)
	Aborted            = Code(connect.CodeAborted)
	OutOfRange         = Code(connect.CodeOutOfRange)
	Unimplemented      = Code(connect.CodeUnimplemented)
	Internal           = Code(connect.CodeInternal)
	Unavailable        = Code(connect.CodeUnavailable)
	DataLoss           = Code(connect.CodeDataLoss)
	Unauthenticated    = Code(connect.CodeUnauthenticated)
)

// statusCanceled is the nginx convention for a client that went away.
const statusCanceled = 499

var httpStatus = map[Code]int{
	OK:                 http.StatusOK,
	Canceled:           statusCanceled,
	InvalidArgument:    http.StatusBadRequest,
	OutOfRange:         http.StatusBadRequest,
	DeadlineExceeded:   http.StatusGatewayTimeout,
	NotFound:           http.StatusNotFound,
	AlreadyExists:      http.StatusConflict,
	Aborted:            http.StatusConflict,
	PermissionDenied:   http.StatusForbidden,
	ResourceExhausted:  http.StatusTooManyRequests,
	FailedPrecondition: http.StatusPreconditionFailed,
	Unimplemented:      http.StatusNotImplemented,
	Unavailable:        http.StatusServiceUnavailable,
	Unauthenticated:    http.StatusUnauthorized,
}

// CodeOf returns the Code carried by err, OK for nil and Unknown for errors
// that were never wrapped in *Error.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return Unknown
}

// ParseCode is the inverse of Code.String, used by API clients decoding the
// JSON error body.
func ParseCode(s string) Code {
	for c := OK; c <= Unauthenticated; c++ {
		if c.String() == s {
			return c
		}
	}
	return Unknown
}

func (c Code) valid() bool {
	return c >= OK && c <= Unauthenticated
}

func (c Code) ConnectCode() connect.Code {
	if !c.valid() {
		return connect.CodeUnknown
	}
	return connect.Code(c)
}

// HTTPCode is the response status for c. Unknown, Internal, DataLoss and
// out-of-range codes are all 500.
func (c Code) HTTPCode() int {
	if s, ok := httpStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}
