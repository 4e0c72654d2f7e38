// Package apperr defines the business error taxonomy shared by the stock
// ledgers and the requisition engine, along with its mapping onto HTTP
// status codes and gRPC codes for whatever transport sits in front.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error kinds. Every business failure unwraps to exactly one of these, so
// callers match with errors.Is.
var (
	ErrNotFound                = errors.New("not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInsufficientReservation = errors.New("insufficient reservation")
	ErrInvalidAdjustment       = errors.New("invalid adjustment")
	ErrEmptyRequisition        = errors.New("empty requisition")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidInput            = errors.New("invalid input")
	ErrConflict                = errors.New("conflict")
)

// Code is the stable machine-readable name of an error kind.
type Code string

const (
	CodeNotFound                Code = "NOT_FOUND"
	CodeInsufficientStock       Code = "INSUFFICIENT_STOCK"
	CodeInsufficientReservation Code = "INSUFFICIENT_RESERVATION"
	CodeInvalidAdjustment       Code = "INVALID_ADJUSTMENT"
	CodeEmptyRequisition        Code = "EMPTY_REQUISITION"
	CodeInvalidTransition       Code = "INVALID_TRANSITION"
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeConflict                Code = "CONFLICT"
	CodeInternal                Code = "INTERNAL"
)

type kindInfo struct {
	code Code
	grpc codes.Code
	http int
}

var kinds = map[error]kindInfo{
	ErrNotFound:                {CodeNotFound, codes.NotFound, http.StatusNotFound},
	ErrInsufficientStock:       {CodeInsufficientStock, codes.FailedPrecondition, http.StatusUnprocessableEntity},
	ErrInsufficientReservation: {CodeInsufficientReservation, codes.FailedPrecondition, http.StatusUnprocessableEntity},
	ErrInvalidAdjustment:       {CodeInvalidAdjustment, codes.FailedPrecondition, http.StatusUnprocessableEntity},
	ErrEmptyRequisition:        {CodeEmptyRequisition, codes.FailedPrecondition, http.StatusUnprocessableEntity},
	ErrInvalidTransition:       {CodeInvalidTransition, codes.FailedPrecondition, http.StatusUnprocessableEntity},
	ErrUnauthorized:            {CodeUnauthorized, codes.PermissionDenied, http.StatusForbidden},
	ErrInvalidInput:            {CodeInvalidInput, codes.InvalidArgument, http.StatusBadRequest},
	ErrConflict:                {CodeConflict, codes.AlreadyExists, http.StatusConflict},
}

var internal = kindInfo{CodeInternal, codes.Internal, http.StatusInternalServerError}

// Error is a business error carrying its kind and a human-readable message.
type Error struct {
	// Kind is one of the Err* sentinels of this package.
	Kind error

	// Message is shown to the caller as-is.
	Message string

	// Details carries structured context (item id, quantities) for logs and
	// machine consumers.
	Details map[string]any
}

// New creates a business error of the given kind.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// With attaches a detail key and returns the same error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e.Message == "" && e.Kind != nil {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Code returns the stable code for the error's kind.
func (e *Error) Code() Code {
	return lookup(e.Kind).code
}

// GRPCStatus lets grpc/status.FromError translate the error directly.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(lookup(e.Kind).grpc, e.Error())
}

func lookup(kind error) kindInfo {
	if info, ok := kinds[kind]; ok {
		return info
	}
	return internal
}

func classify(err error) kindInfo {
	for kind, info := range kinds {
		if errors.Is(err, kind) {
			return info
		}
	}
	return internal
}

// CodeOf returns the code of err, or CodeInternal when err is not a
// business error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return classify(err).code
}

// HTTPStatus maps err onto an HTTP status code. Unknown errors are 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return classify(err).http
}

// GRPCCode maps err onto a gRPC code. Unknown errors are Internal.
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return classify(err).grpc
}

// IsBusiness reports whether err belongs to the taxonomy.
func IsBusiness(err error) bool {
	return err != nil && classify(err).code != CodeInternal
}

// NotFound builds an ErrNotFound error for the named entity.
func NotFound(entity, id string) *Error {
	return New(ErrNotFound, "%s not found", entity).With("id", id)
}

// Invalid builds an ErrInvalidInput error.
func Invalid(format string, args ...any) *Error {
	return New(ErrInvalidInput, format, args...)
}

// Transition builds an ErrInvalidTransition error.
func Transition(format string, args ...any) *Error {
	return New(ErrInvalidTransition, format, args...)
}
