package apperr

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
	stripe "github.com/stripe/stripe-go/v76"
)

// Kind buckets an error for transport-level handling (HTTP status mapping).
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthentication
	KindPermission
	KindNotFound
	KindConflict
	KindRateLimit
	KindBusiness
	KindExternal
)

// Translation is the user-safe rendering of an error.
type Translation struct {
	Kind        Kind
	Message     string
	FieldErrors map[string][]string
}

const (
	msgGenericService = "The service is temporarily unavailable. Please try again later."
	msgUnexpected     = "An unexpected error occurred. Please try again."
	msgPaymentFailed  = "Payment failed. Please check your payment method."
)

// identityMessages maps identity-provider error names to user messages.
// Unlisted names fall through to provider metadata handling below.
var identityMessages = map[string]string{
	"UsernameExistsException":        "An account with this email already exists.",
	"UserNotFoundException":          "No account found with this email.",
	"NotAuthorizedException":         "Incorrect email or password.",
	"UserNotConfirmedException":      "Please verify your email address before signing in.",
	"CodeMismatchException":          "The verification code is incorrect.",
	"ExpiredCodeException":           "The verification code has expired. Request a new one.",
	"InvalidPasswordException":       "Password does not meet the security requirements.",
	"LimitExceededException":         "Too many attempts. Please try again later.",
	"TooManyRequestsException":       "Too many attempts. Please try again later.",
	"PasswordResetRequiredException": "A password reset is required for this account.",
}

// transientPatterns are substrings of well-known transient network failures.
var transientPatterns = []string{
	"no such host",
	"connection refused",
	"connection reset",
	"i/o timeout",
	"tls handshake timeout",
	"deadline exceeded",
	"temporary failure",
	"unexpected eof",
}

// Translator renders errors into user-safe messages. In production mode the
// raw cause of unknown errors is never exposed.
type Translator struct {
	production  bool
	onUnmatched func(err error)
}

// NewTranslator builds a translator. onUnmatched is invoked for provider
// errors with no catalog entry so they can be logged for follow-up; it may
// be nil.
func NewTranslator(production bool, onUnmatched func(err error)) *Translator {
	return &Translator{production: production, onUnmatched: onUnmatched}
}

// Translate classifies err. Dispatch is priority ordered: structured app
// errors, identity-provider codes, payment-provider types, then generic
// pattern matching.
func (t *Translator) Translate(err error) Translation {
	if err == nil {
		return Translation{}
	}

	// 1. Structured application errors.
	var ve *ValidationError
	if errors.As(err, &ve) {
		return Translation{
			Kind:        KindValidation,
			Message:     "Please correct the highlighted fields.",
			FieldErrors: map[string][]string{ve.Field: {ve.Reason}},
		}
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return Translation{Kind: KindBusiness, Message: be.Msg}
	}
	var le *LimitError
	if errors.As(err, &le) {
		return Translation{Kind: KindBusiness, Message: le.Error() + ". Remove one before adding another."}
	}
	var nfe *NotFoundError
	if errors.As(err, &nfe) {
		return Translation{Kind: KindNotFound, Message: "The requested " + nfe.Resource + " was not found."}
	}
	if errors.Is(err, ErrUnauthorized) {
		return Translation{Kind: KindAuthentication, Message: "Authentication required"}
	}
	if errors.Is(err, ErrForbidden) {
		return Translation{Kind: KindPermission, Message: "You do not have access to this resource."}
	}
	if IsConflict(err) {
		return Translation{Kind: KindConflict, Message: "This conflicts with an existing resource."}
	}
	if errors.Is(err, ErrRateLimited) {
		return Translation{Kind: KindRateLimit, Message: "Too many requests. Please slow down and try again."}
	}

	// 2. Identity-provider errors, keyed by error name.
	var ae awserr.Error
	if errors.As(err, &ae) {
		if msg, ok := identityMessages[ae.Code()]; ok {
			return Translation{Kind: KindExternal, Message: msg}
		}
		if t.onUnmatched != nil {
			t.onUnmatched(err)
		}
		return Translation{Kind: KindExternal, Message: msgGenericService}
	}

	// 3. Payment-provider errors, keyed by type discriminator.
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.Code == stripe.ErrorCodeRateLimit {
			return Translation{Kind: KindRateLimit, Message: "Too many requests. Please slow down and try again."}
		}
		switch se.Type {
		case stripe.ErrorTypeCard:
			return Translation{Kind: KindBusiness, Message: msgPaymentFailed}
		case stripe.ErrorTypeInvalidRequest:
			return Translation{Kind: KindBusiness, Message: "The billing request was invalid. Please contact support."}
		default:
			return Translation{Kind: KindExternal, Message: msgGenericService}
		}
	}

	// 4. Generic errors: transient network conditions, then catch-all.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrServiceUnavailable) {
		return Translation{Kind: KindExternal, Message: msgGenericService}
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(lower, pattern) {
			return Translation{Kind: KindExternal, Message: msgGenericService}
		}
	}

	if t.production {
		return Translation{Kind: KindUnknown, Message: msgUnexpected}
	}
	return Translation{Kind: KindUnknown, Message: err.Error()}
}
