package apperr

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	stripe "github.com/stripe/stripe-go/v76"
)

func TestTranslate_ValidationError(t *testing.T) {
	tr := NewTranslator(true, nil)
	out := tr.Translate(NewValidationError("email", "must be a valid email address"))

	if out.Kind != KindValidation {
		t.Fatalf("expected KindValidation, got %d", out.Kind)
	}
	msgs := out.FieldErrors["email"]
	if len(msgs) != 1 || msgs[0] != "must be a valid email address" {
		t.Fatalf("unexpected field errors: %v", out.FieldErrors)
	}
}

func TestTranslate_BusinessError(t *testing.T) {
	tr := NewTranslator(true, nil)
	out := tr.Translate(NewBusinessError("email local parts with three or more dots are not supported"))

	if out.Kind != KindBusiness {
		t.Fatalf("expected KindBusiness, got %d", out.Kind)
	}
	if out.Message != "email local parts with three or more dots are not supported" {
		t.Fatalf("business message must pass through unchanged, got %q", out.Message)
	}
}

func TestTranslate_LimitError_NamesLimit(t *testing.T) {
	tr := NewTranslator(true, nil)
	out := tr.Translate(NewLimitError("API key", 5))

	if out.Message != "API key limit reached (5). Remove one before adding another." {
		t.Fatalf("unexpected message: %q", out.Message)
	}
}

func TestTranslate_IdentityProviderCodes(t *testing.T) {
	tr := NewTranslator(true, nil)

	tests := []struct {
		code string
		want string
	}{
		{"UsernameExistsException", "An account with this email already exists."},
		{"TooManyRequestsException", "Too many attempts. Please try again later."},
		{"NotAuthorizedException", "Incorrect email or password."},
	}
	for _, tc := range tests {
		err := awserr.New(tc.code, "raw provider detail", nil)
		out := tr.Translate(err)
		if out.Message != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.code, tc.want, out.Message)
		}
	}
}

func TestTranslate_UnknownIdentityCode_LoggedAndGeneric(t *testing.T) {
	var seen error
	tr := NewTranslator(true, func(err error) { seen = err })

	err := awserr.New("SomeNewException", "internal detail", nil)
	out := tr.Translate(err)

	if out.Message != msgGenericService {
		t.Fatalf("expected generic service message, got %q", out.Message)
	}
	if seen == nil {
		t.Fatal("unmatched provider errors must be reported for follow-up")
	}
}

func TestTranslate_StripeCardError(t *testing.T) {
	tr := NewTranslator(true, nil)
	err := &stripe.Error{Type: stripe.ErrorTypeCard, Msg: "Your card was declined."}

	out := tr.Translate(err)
	if out.Message != msgPaymentFailed {
		t.Fatalf("expected %q, got %q", msgPaymentFailed, out.Message)
	}
	if out.Message == err.Msg {
		t.Fatal("raw provider message must never surface")
	}
}

func TestTranslate_StripeRateLimit(t *testing.T) {
	tr := NewTranslator(true, nil)
	err := &stripe.Error{Type: stripe.ErrorTypeAPI, Code: stripe.ErrorCodeRateLimit}

	out := tr.Translate(err)
	if out.Kind != KindRateLimit {
		t.Fatalf("expected KindRateLimit, got %d", out.Kind)
	}
}

func TestTranslate_TransientNetworkPatterns(t *testing.T) {
	tr := NewTranslator(true, nil)

	for _, msg := range []string{
		"dial tcp: lookup api.stripe.com: no such host",
		"read tcp 10.0.0.1:443: connection reset by peer",
		"context deadline exceeded (Client.Timeout exceeded)",
	} {
		out := tr.Translate(errors.New(msg))
		if out.Message != msgGenericService {
			t.Errorf("%q: expected generic service message, got %q", msg, out.Message)
		}
	}
}

func TestTranslate_UnknownError_ProductionHidesDetail(t *testing.T) {
	raw := errors.New("pq: deadlock detected on relation api_keys")

	prod := NewTranslator(true, nil).Translate(raw)
	if prod.Message != msgUnexpected {
		t.Fatalf("production must hide detail, got %q", prod.Message)
	}

	dev := NewTranslator(false, nil).Translate(raw)
	if dev.Message != raw.Error() {
		t.Fatalf("development should expose detail, got %q", dev.Message)
	}
}
