package gateway

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a gateway failure for callers that need to branch on
// it (offline fallback, HTTP status mapping) without inspecting the
// underlying transport error.
type Kind string

const (
	KindNotConnected Kind = "not_connected"
	KindNotFound     Kind = "not_found"
	KindValidation   Kind = "validation"
	KindServer       Kind = "server_error"
)

// Error is a gateway failure tagged with its Kind and the operation
// that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindServer if err is not a
// gateway error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindServer
}

// IsNotFound reports whether err is a not-found gateway error.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsNotConnected reports whether err is a connectivity/auth gateway
// error, i.e. the remote was never reached or refused us.
func IsNotConnected(err error) bool { return isKind(err, KindNotConnected) }

// IsValidation reports whether err is a validation gateway error.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

func isKind(err error, k Kind) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == k
}

// notFound builds a not-found error for the given operation and key.
func notFound(op, key string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("no record for %q", key)}
}

// validationErr builds a validation error for the given operation.
func validationErr(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// wrapRPC maps a transport error onto the gateway taxonomy using its
// gRPC status code.
func wrapRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := KindServer
	switch status.Code(err) {
	case codes.NotFound:
		kind = KindNotFound
	case codes.InvalidArgument, codes.FailedPrecondition:
		kind = KindValidation
	case codes.Unavailable, codes.Unauthenticated, codes.PermissionDenied, codes.DeadlineExceeded:
		kind = KindNotConnected
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindNotConnected
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
