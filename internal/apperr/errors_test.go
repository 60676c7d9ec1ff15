package apperr

import (
	"errors"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("api key", "abc123")

	expected := `api key "abc123" not found`
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to wrap ErrNotFound")
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound should return true")
	}
	if !IsOperational(err) {
		t.Error("not-found errors are operational")
	}
}

func TestNotFoundError_NoID(t *testing.T) {
	err := NewNotFoundError("subscription", "")

	expected := "subscription not found"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("email", "must be a valid email address")

	expected := "email: must be a valid email address"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("expected error to wrap ErrInvalidInput")
	}
	if !IsValidationError(err) {
		t.Error("IsValidationError should return true")
	}
}

func TestRequiredError(t *testing.T) {
	err := RequiredError("user_id")

	expected := "user_id: is required"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !IsValidationError(err) {
		t.Error("IsValidationError should return true for RequiredError")
	}
}

func TestLimitError(t *testing.T) {
	err := NewLimitError("API key", 5)

	expected := "API key limit reached (5)"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !IsLimitError(err) {
		t.Error("IsLimitError should return true")
	}
	if !IsConflict(err) {
		t.Error("limit errors classify as conflicts")
	}
	if !IsOperational(err) {
		t.Error("limit errors are operational")
	}
}

func TestBusinessError_Operational(t *testing.T) {
	err := NewBusinessError("plan downgrade requires removing extra keys")

	if !IsBusinessError(err) {
		t.Error("IsBusinessError should return true")
	}
	if !IsOperational(err) {
		t.Error("business errors are operational")
	}
}

func TestExternalError_NotOperational(t *testing.T) {
	err := NewExternalError("stripe", errors.New("connection refused"))

	if IsOperational(err) {
		t.Error("external errors must stay retryable")
	}
	if err.Error() != "stripe: connection refused" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestOwnershipError(t *testing.T) {
	err := NewOwnershipError("key", "key789", "user123")

	expected := "key key789 does not belong to user user123"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, ErrForbidden) {
		t.Error("expected error to wrap ErrForbidden")
	}
	if !IsOwnershipError(err) {
		t.Error("IsOwnershipError should return true")
	}

	var oe *OwnershipError
	if !errors.As(err, &oe) {
		t.Fatal("expected errors.As to succeed")
	}
	if oe.ID != "key789" || oe.UserID != "user123" {
		t.Errorf("unexpected fields: %+v", oe)
	}
}

func TestEnsureOwnership(t *testing.T) {
	if err := EnsureOwnership("u1", "u1", "key", "k1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := EnsureOwnership("u1", "u2", "key", "k1"); !IsOwnershipError(err) {
		t.Error("expected OwnershipError for mismatched users")
	}
	if err := EnsureOwnership("", "u2", "key", "k1"); !IsOwnershipError(err) {
		t.Error("expected OwnershipError for empty resource owner")
	}
}

func TestWrapServiceError(t *testing.T) {
	underlying := NewNotFoundError("api key", "xyz")
	err := WrapServiceError("apikeys", "Toggle", underlying)

	expected := `apikeys.Toggle: api key "xyz" not found`
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("wrapped error should still match ErrNotFound")
	}

	if WrapServiceError("apikeys", "Toggle", nil) != nil {
		t.Error("WrapServiceError(nil) should return nil")
	}
}

func TestStandardErrors(t *testing.T) {
	tests := []struct {
		err  error
		name string
	}{
		{ErrNotFound, "ErrNotFound"},
		{ErrAlreadyExists, "ErrAlreadyExists"},
		{ErrInvalidInput, "ErrInvalidInput"},
		{ErrUnauthorized, "ErrUnauthorized"},
		{ErrForbidden, "ErrForbidden"},
		{ErrConflict, "ErrConflict"},
		{ErrRateLimited, "ErrRateLimited"},
		{ErrServiceUnavailable, "ErrServiceUnavailable"},
		{ErrTimeout, "ErrTimeout"},
		{ErrInternal, "ErrInternal"},
	}

	for _, tc := range tests {
		if tc.err == nil {
			t.Errorf("%s should not be nil", tc.name)
		}
		if tc.err.Error() == "" {
			t.Errorf("%s should have non-empty message", tc.name)
		}
	}
}
