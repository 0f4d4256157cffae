package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// unaryInterceptor turns handler panics into codes.Internal and logs every call.
func unaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err = panicStatus(ctx, logger, info.FullMethod, r)
			}
			logRPC(ctx, logger, "grpc_request", info.FullMethod, err, start)
		}()
		return handler(ctx, req)
	}
}

// streamInterceptor is the streaming counterpart of unaryInterceptor.
func streamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		ctx := ss.Context()
		defer func() {
			if r := recover(); r != nil {
				err = panicStatus(ctx, logger, info.FullMethod, r)
			}
			logRPC(ctx, logger, "grpc_stream", info.FullMethod, err, start)
		}()
		return handler(srv, ss)
	}
}

func panicStatus(ctx context.Context, logger *slog.Logger, method string, r any) error {
	logger.ErrorContext(ctx, "grpc_panic_recovered",
		slog.String("method", method),
		slog.Any("panic", r),
		slog.String("stack", string(debug.Stack())),
	)
	return status.Error(codes.Internal, "internal server error")
}

func logRPC(ctx context.Context, logger *slog.Logger, event, method string, err error, start time.Time) {
	code := status.Code(err)
	level := slog.LevelDebug
	switch code {
	case codes.OK, codes.Canceled, codes.NotFound:
	case codes.Internal, codes.Unknown, codes.DataLoss:
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, event,
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
}
