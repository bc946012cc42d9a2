package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies store failures into the categories the sync layer reacts
// to. Anything the coordinator or subscriber branches on must be one of
// these; everything else is KindInternal.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindPermissionDenied
	KindCapabilityUnsupported
	KindTransient
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindCapabilityUnsupported:
		return "capability_unsupported"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	}
	return "internal"
}

// Error wraps an underlying store failure with its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFoundError marks a vanished record; callers treat it as a successful
// local removal.
func NotFoundError(op string) *Error {
	return newError(KindNotFound, op, nil)
}

func ValidationError(op string, msg string) *Error {
	return newError(KindValidation, op, errors.New(msg))
}

// KindOf reports the Kind of err, unwrapping as needed. Unclassified errors
// report KindInternal.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// wrapFirestore maps a Firestore/gRPC failure onto the taxonomy. Missing
// composite indexes surface as FailedPrecondition with an "index" hint in
// the message; that is the capability signal the subscriber falls back on.
func wrapFirestore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTransient, op, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return newError(KindInternal, op, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return newError(KindNotFound, op, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return newError(KindPermissionDenied, op, err)
	case codes.FailedPrecondition:
		if strings.Contains(strings.ToLower(st.Message()), "index") {
			return newError(KindCapabilityUnsupported, op, err)
		}
		return newError(KindInternal, op, err)
	case codes.Unimplemented, codes.InvalidArgument:
		// Firestore rejects unsupported query plans with InvalidArgument in
		// some emulator versions.
		return newError(KindCapabilityUnsupported, op, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return newError(KindTransient, op, err)
	}
	return newError(KindInternal, op, err)
}
