package rpc

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/alive-physics/internal/impulse"
	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/registry"
	"github.com/signalsfoundry/alive-physics/internal/sim/state"
	"github.com/signalsfoundry/alive-physics/internal/sim/window"
	"github.com/signalsfoundry/alive-physics/internal/snapshot"
	"github.com/signalsfoundry/alive-physics/rooms"
)

// ToStatusError maps replay-cache errors onto gRPC status codes. Registry
// invariant violations are also reported to Sentry.
func ToStatusError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, snapshot.ErrCorruptSnapshot),
		errors.Is(err, impulse.ErrInvalidImpulse),
		errors.Is(err, rooms.ErrInvalidRoomID),
		errors.Is(err, window.ErrInvalidWindow):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, state.ErrStepOverflow):
		return status.Error(codes.OutOfRange, err.Error())

	case errors.Is(err, rooms.ErrTooManyRooms):
		return status.Error(codes.ResourceExhausted, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, registry.ErrInvariant):
		reportInvariant(ctx, err)
		return status.Error(codes.Internal, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func reportInvariant(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_class", "registry_invariant")
		if room := logging.RoomFromContext(ctx); room != "" {
			scope.SetTag("room", room)
		}
		if id := logging.RequestIDFromContext(ctx); id != "" {
			scope.SetTag("request_id", id)
		}
		hub.CaptureException(err)
	})
}
