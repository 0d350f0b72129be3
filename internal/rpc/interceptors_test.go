package rpc

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/alive-physics/internal/logging"
)

func TestRequestIDInterceptorUsesIncomingMetadata(t *testing.T) {
	interceptor := RequestIDUnaryServerInterceptor(nil)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-123"))
	info := &grpc.UnaryServerInfo{FullMethod: PosesForStepFullMethod}

	var gotID, gotRoom string
	var gotLogger logging.Logger
	_, err := interceptor(ctx, &PosesRequest{Room: "lobby"}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		gotID = logging.RequestIDFromContext(ctx)
		gotRoom = logging.RoomFromContext(ctx)
		gotLogger = logging.LoggerFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if gotID != "req-123" {
		t.Fatalf("request id = %q, want req-123", gotID)
	}
	if gotRoom != "lobby" {
		t.Fatalf("room = %q, want lobby", gotRoom)
	}
	if gotLogger == nil {
		t.Fatalf("expected a per-request logger on the context")
	}
}

func TestRequestIDInterceptorGeneratesID(t *testing.T) {
	interceptor := RequestIDUnaryServerInterceptor(logging.Noop())
	info := &grpc.UnaryServerInfo{FullMethod: GetCursorFullMethod}

	var gotID string
	_, _ = interceptor(context.Background(), &CursorRequest{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		gotID = logging.RequestIDFromContext(ctx)
		return nil, nil
	})
	if gotID == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestTracingInterceptorPassesThrough(t *testing.T) {
	interceptor := TracingUnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: GetCursorFullMethod}

	resp, err := interceptor(context.Background(), &CursorRequest{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return &CursorResponse{Cursor: 9}, nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if resp.(*CursorResponse).Cursor != 9 {
		t.Fatalf("response = %+v, want cursor 9", resp)
	}
}

func TestJSONCodec(t *testing.T) {
	c := jsonCodec{}
	data, err := c.Marshal(&PosesRequest{Room: "r", TargetStep: 7})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got PosesRequest
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Room != "r" || got.TargetStep != 7 {
		t.Fatalf("Unmarshal() = %+v, want room r target 7", got)
	}
	if err := c.Unmarshal([]byte("{"), &got); err == nil {
		t.Fatalf("Unmarshal(truncated) succeeded, want error")
	}
}

func TestRecoveryInterceptorConvertsPanic(t *testing.T) {
	interceptor := RecoveryUnaryServerInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: GetSnapshotFullMethod}

	_, err := interceptor(context.Background(), &SnapshotRequest{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("error = %v, want Internal", err)
	}
}

func TestTracingInterceptorRecordsPoseOutcome(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	interceptor := TracingUnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: PosesForStepFullMethod}
	ctx := logging.ContextWithRoom(context.Background(), "lobby")

	_, err := interceptor(ctx, &PosesRequest{Room: "lobby"}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return &PosesResponse{Stale: true, Cursor: 12}, nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "PoseService/PosesForStep" {
		t.Fatalf("span name = %q, want PoseService/PosesForStep", got)
	}
	want := map[attribute.Key]attribute.Value{
		"physics.room":   attribute.StringValue("lobby"),
		"physics.stale":  attribute.BoolValue(true),
		"physics.cursor": attribute.Int64Value(12),
	}
	for _, kv := range spans[0].Attributes() {
		if v, ok := want[kv.Key]; ok {
			if kv.Value != v {
				t.Fatalf("attribute %s = %v, want %v", kv.Key, kv.Value.Emit(), v.Emit())
			}
			delete(want, kv.Key)
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing span attributes: %v", want)
	}
}

func TestRequestIDInterceptorLogsHeaderFailure(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
	interceptor := RequestIDUnaryServerInterceptor(log)
	info := &grpc.UnaryServerInfo{FullMethod: GetCursorFullMethod}

	// No server stream on a bare context, so SetHeader fails.
	_, err := interceptor(context.Background(), &CursorRequest{Room: "lobby"}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return &CursorResponse{}, nil
	})
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "request id header not sent") || !strings.Contains(out, `"room":"lobby"`) {
		t.Fatalf("log output = %s, want header failure logged with room", out)
	}
}
