package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestError_UnwrapsToKind(t *testing.T) {
	err := New(ErrInsufficientStock, "Insufficient stock for %s. Available: %d, Requested: %d", "Stapler", 2, 5)

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("expected errors.Is to match ErrInsufficientStock")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("did not expect errors.Is to match ErrNotFound")
	}
	if got, want := err.Error(), "Insufficient stock for Stapler. Available: 2, Requested: 5"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	wrapped := fmt.Errorf("reserving stock: %w", err)
	if !errors.Is(wrapped, ErrInsufficientStock) {
		t.Error("expected wrapped error to match kind")
	}
	var appErr *Error
	if !errors.As(wrapped, &appErr) {
		t.Fatal("expected errors.As to find *Error")
	}
	if appErr.Code() != CodeInsufficientStock {
		t.Errorf("Code() = %s, want %s", appErr.Code(), CodeInsufficientStock)
	}
}

func TestError_EmptyMessageFallsBackToKind(t *testing.T) {
	err := &Error{Kind: ErrUnauthorized}
	if got := err.Error(); got != "unauthorized" {
		t.Errorf("Error() = %q, want %q", got, "unauthorized")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", NotFound("inventory item", "x"), http.StatusNotFound},
		{"unauthorized", New(ErrUnauthorized, "nope"), http.StatusForbidden},
		{"insufficient stock", New(ErrInsufficientStock, "short"), http.StatusUnprocessableEntity},
		{"invalid transition", Transition("cannot approve"), http.StatusUnprocessableEntity},
		{"empty requisition", New(ErrEmptyRequisition, "no items"), http.StatusUnprocessableEntity},
		{"invalid input", Invalid("quantity must be positive"), http.StatusBadRequest},
		{"conflict", New(ErrConflict, "duplicate code"), http.StatusConflict},
		{"wrapped sentinel", fmt.Errorf("op: %w", ErrInvalidAdjustment), http.StatusUnprocessableEntity},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGRPCStatus(t *testing.T) {
	err := fmt.Errorf("cancelling: %w", New(ErrUnauthorized, "only the requester can cancel"))

	if got := GRPCCode(err); got != codes.PermissionDenied {
		t.Errorf("GRPCCode() = %v, want PermissionDenied", got)
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected *Error")
	}
	st, ok := status.FromError(appErr)
	if !ok {
		t.Fatal("expected status.FromError to recognise GRPCStatus")
	}
	if st.Code() != codes.PermissionDenied {
		t.Errorf("status code = %v, want PermissionDenied", st.Code())
	}
	if st.Message() != "only the requester can cancel" {
		t.Errorf("status message = %q", st.Message())
	}

	if got := GRPCCode(errors.New("boom")); got != codes.Internal {
		t.Errorf("GRPCCode(unknown) = %v, want Internal", got)
	}
}

func TestIsBusinessAndCodeOf(t *testing.T) {
	if IsBusiness(nil) {
		t.Error("nil should not be a business error")
	}
	if IsBusiness(errors.New("io")) {
		t.Error("plain error should not be a business error")
	}
	if !IsBusiness(NotFound("requisition", "r1")) {
		t.Error("NotFound should be a business error")
	}
	if got := CodeOf(errors.New("io")); got != CodeInternal {
		t.Errorf("CodeOf(plain) = %s, want INTERNAL", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrInsufficientReservation, "short").With("item_id", "i1").With("reserved", 3)
	if err.Details["item_id"] != "i1" || err.Details["reserved"] != 3 {
		t.Errorf("unexpected details: %v", err.Details)
	}
}
