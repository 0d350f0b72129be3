package rpc

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/observability"
)

// TracingUnaryServerInterceptor names the current server span after the
// PoseService method and tags it with the room, request id and, for pose
// queries, the outcome. A span is started when the otelgrpc stats handler
// has not already created one.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(observability.TracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		_, method := observability.SplitMethod(info.FullMethod)
		name := "PoseService/" + method

		span := trace.SpanFromContext(ctx)
		owned := !span.SpanContext().IsValid()
		if owned {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(name)
		}

		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.method", method),
		)
		if id := logging.RequestIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}
		if room := logging.RoomFromContext(ctx); room != "" {
			span.SetAttributes(observability.AttrRoom.String(room))
		}

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, status.Code(err).String())
			return resp, err
		}
		if pr, ok := resp.(*PosesResponse); ok {
			span.SetAttributes(
				attribute.Bool("physics.stale", pr.Stale),
				observability.AttrCursor.Int64(int64(pr.Cursor)),
			)
		}
		return resp, nil
	}
}
