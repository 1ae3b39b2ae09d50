package cerr

import (
	"context"

	"connectrpc.com/connect"
)

// NewConnectErrorInterceptor converts handler errors of connect services (the
// gRPC health check) into connect errors with the same code.
func NewConnectErrorInterceptor() connect.Interceptor {
	return connectErrorInterceptor{}
}

type connectErrorInterceptor struct{}

func (connectErrorInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		resp, err := next(ctx, req)
		return resp, ExtractConnectError(ctx, err)
	}
}

func (connectErrorInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (connectErrorInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		return ExtractConnectError(ctx, next(ctx, conn))
	}
}
