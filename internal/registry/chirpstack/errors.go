package chirpstack

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/stadtnetz/lorabulk/internal/registry"
)

// classify maps a failed gRPC call onto the registry error taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &registry.Error{Op: op, Code: registry.CodeTimeout, Message: "call timed out"}
	}

	st, ok := status.FromError(err)
	if !ok {
		return &registry.Error{Op: op, Code: registry.CodeInternal, Message: err.Error()}
	}

	var code registry.Code
	switch st.Code() {
	case codes.Unauthenticated:
		code = registry.CodeUnauthenticated
	case codes.PermissionDenied:
		code = registry.CodePermissionDenied
	case codes.AlreadyExists:
		code = registry.CodeAlreadyExists
	case codes.NotFound:
		code = registry.CodeNotFound
	case codes.InvalidArgument:
		code = registry.CodeInvalidArgument
	case codes.Unavailable:
		code = registry.CodeUnavailable
	case codes.DeadlineExceeded:
		code = registry.CodeTimeout
	default:
		code = registry.CodeInternal
	}

	return &registry.Error{Op: op, Code: code, Message: st.Message()}
}
