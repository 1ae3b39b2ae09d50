package cerr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kazz187/agentdash/pkg/clog"
)

type HTTPViolation struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// HTTPError is the JSON body written for failed API requests.
type HTTPError struct {
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Violations []HTTPViolation `json:"violations,omitempty"`
}

type responseReceiverKey struct{}

// responseReceiver collects what a handler wants to send. The middleware
// renders it after the handler returns, so handlers never touch the writer.
type responseReceiver struct {
	status   int
	response any
	err      error
}

func responseReceiverFromContext(ctx context.Context) *responseReceiver {
	rr, _ := ctx.Value(responseReceiverKey{}).(*responseReceiver)
	return rr
}

func SetJSONResponse(ctx context.Context, response any) {
	SetJSONResponseWithStatus(ctx, http.StatusOK, response)
}

// SetJSONResponseWithStatus is SetJSONResponse with an explicit success
// status, e.g. http.StatusCreated or http.StatusAccepted.
func SetJSONResponseWithStatus(ctx context.Context, status int, response any) {
	if rr := responseReceiverFromContext(ctx); rr != nil {
		rr.status = status
		rr.response = response
	}
}

func SetJSONError(ctx context.Context, err error) {
	if rr := responseReceiverFromContext(ctx); rr != nil {
		rr.err = err
	}
}

func SetNewJSONError(ctx context.Context, code Code, msg string, err error) {
	SetJSONError(ctx, NewError(code, msg, err))
}

// NewJSONResponseChiMiddleware renders the response or error a handler set
// through SetJSONResponse / SetJSONError.
func NewJSONResponseChiMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rr := &responseReceiver{}
			ctx := context.WithValue(r.Context(), responseReceiverKey{}, rr)
			next.ServeHTTP(rw, r.WithContext(ctx))
			rr.write(ctx, rw)
		})
	}
}

func (rr *responseReceiver) write(ctx context.Context, rw http.ResponseWriter) {
	if rr.err != nil {
		writeJSONError(ctx, rw, classify(ctx, rr.err))
		return
	}
	body, err := encodeJSON(rr.response)
	if err != nil {
		writeJSONError(ctx, rw, NewError(Internal, "server error", err))
		return
	}
	status := rr.status
	if status == 0 {
		status = http.StatusOK
	}
	writeBody(ctx, rw, status, body)
}

func (e *Error) httpError() HTTPError {
	return HTTPError{Code: e.Code.String(), Message: e.Msg, Violations: e.Violations()}
}

func writeJSONError(ctx context.Context, rw http.ResponseWriter, e *Error) {
	body, err := encodeJSON(e.httpError())
	if err != nil {
		body = []byte(`{"code":"Internal","message":"server error"}` + "\n")
		clog.AddError(ctx, errors.Join(e, err))
	}
	writeBody(ctx, rw, e.Code.HTTPCode(), body)
}

func writeBody(ctx context.Context, rw http.ResponseWriter, status int, body []byte) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	if _, err := rw.Write(body); err != nil {
		clog.AddError(ctx, NewError(Internal, "write response", err))
	}
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
