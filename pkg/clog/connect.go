package clog

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"
)

// NewSlogConnectInterceptor logs each connect call once it finishes. Streams
// pass through unlogged; the only connect service served is the unary gRPC
// health check.
func NewSlogConnectInterceptor() connect.Interceptor {
	return slogConnectInterceptor{}
}

type slogConnectInterceptor struct{}

func (slogConnectInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		ctx = ContextWithSlog(ctx)
		AddAttributes(ctx, map[string]any{
			"method":    req.HTTPMethod(),
			"procedure": req.Spec().Procedure,
		})

		resp, err := next(ctx, req)

		code, msg := "ok", "Finished"
		level := LevelDebug
		if err != nil {
			var cerr *connect.Error
			if !errors.As(err, &cerr) {
				cerr = connect.NewError(connect.CodeUnknown, err)
			}
			code, msg = cerr.Code().String(), cerr.Message()
			level = ConnectCodeToLevel(cerr.Code())
		}
		AddAttributes(ctx, map[string]any{
			"code":     code,
			"duration": time.Since(start),
		})
		Log(ctx, level, msg)
		return resp, err
	}
}

func (slogConnectInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (slogConnectInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
