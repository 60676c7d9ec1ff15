package identity

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"

	"github.com/chainpulse/console/internal/apperr"
	"github.com/chainpulse/console/internal/app/storage/memory"
	"github.com/chainpulse/console/internal/retry"
	consolesession "github.com/chainpulse/console/internal/session"
)

type fakeCognito struct {
	signUpCalls  int
	authCalls    int
	authErrs     []error
	userAttrs    []*cognitoidentityprovider.AttributeType
	signUpErr    error
	confirmCalls int
}

func (f *fakeCognito) SignUpWithContext(ctx aws.Context, in *cognitoidentityprovider.SignUpInput, opts ...request.Option) (*cognitoidentityprovider.SignUpOutput, error) {
	f.signUpCalls++
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return &cognitoidentityprovider.SignUpOutput{}, nil
}

func (f *fakeCognito) ConfirmSignUpWithContext(ctx aws.Context, in *cognitoidentityprovider.ConfirmSignUpInput, opts ...request.Option) (*cognitoidentityprovider.ConfirmSignUpOutput, error) {
	f.confirmCalls++
	return &cognitoidentityprovider.ConfirmSignUpOutput{}, nil
}

func (f *fakeCognito) InitiateAuthWithContext(ctx aws.Context, in *cognitoidentityprovider.InitiateAuthInput, opts ...request.Option) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	f.authCalls++
	if len(f.authErrs) > 0 {
		err := f.authErrs[0]
		f.authErrs = f.authErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &cognitoidentityprovider.InitiateAuthOutput{
		AuthenticationResult: &cognitoidentityprovider.AuthenticationResultType{
			AccessToken: aws.String("access-token"),
		},
	}, nil
}

func (f *fakeCognito) GetUserWithContext(ctx aws.Context, in *cognitoidentityprovider.GetUserInput, opts ...request.Option) (*cognitoidentityprovider.GetUserOutput, error) {
	return &cognitoidentityprovider.GetUserOutput{UserAttributes: f.userAttrs}, nil
}

func (f *fakeCognito) ResendConfirmationCodeWithContext(ctx aws.Context, in *cognitoidentityprovider.ResendConfirmationCodeInput, opts ...request.Option) (*cognitoidentityprovider.ResendConfirmationCodeOutput, error) {
	return &cognitoidentityprovider.ResendConfirmationCodeOutput{}, nil
}

func (f *fakeCognito) ForgotPasswordWithContext(ctx aws.Context, in *cognitoidentityprovider.ForgotPasswordInput, opts ...request.Option) (*cognitoidentityprovider.ForgotPasswordOutput, error) {
	return &cognitoidentityprovider.ForgotPasswordOutput{}, nil
}

func (f *fakeCognito) ConfirmForgotPasswordWithContext(ctx aws.Context, in *cognitoidentityprovider.ConfirmForgotPasswordInput, opts ...request.Option) (*cognitoidentityprovider.ConfirmForgotPasswordOutput, error) {
	return &cognitoidentityprovider.ConfirmForgotPasswordOutput{}, nil
}

func newService(fc *fakeCognito) (*Service, *memory.Store) {
	store := memory.New()
	sessions := consolesession.NewManager([]byte("test-secret"), "console", time.Hour, store, store, nil)
	svc := NewService(fc, "client-id", store, sessions, nil)
	svc.retry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return svc, store
}

func TestSignUp_RejectsDottedLocalPartBeforeProviderCall(t *testing.T) {
	fc := &fakeCognito{}
	svc, _ := newService(fc)

	err := svc.SignUp(context.Background(), "a.b.c.d@example.com", "Passw0rd!", "")
	if !apperr.IsBusinessError(err) {
		t.Fatalf("expected business error, got %v", err)
	}
	if fc.signUpCalls != 0 {
		t.Fatal("provider must not be called for rejected addresses")
	}

	// Two dots are fine.
	if err := svc.SignUp(context.Background(), "a.b.c@example.com", "Passw0rd!", ""); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if fc.signUpCalls != 1 {
		t.Fatalf("signUpCalls = %d", fc.signUpCalls)
	}
}

func TestSignIn_MirrorsUserAndIssuesToken(t *testing.T) {
	fc := &fakeCognito{
		userAttrs: []*cognitoidentityprovider.AttributeType{
			{Name: aws.String("sub"), Value: aws.String("user-1")},
			{Name: aws.String("email"), Value: aws.String("dev@example.com")},
			{Name: aws.String("name"), Value: aws.String("Dev")},
			{Name: aws.String("email_verified"), Value: aws.String("true")},
		},
	}
	svc, store := newService(fc)

	res, err := svc.SignIn(context.Background(), "dev@example.com", "Passw0rd!")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if res.Token == "" {
		t.Fatal("expected a session token")
	}
	if res.User.ID != "user-1" || !res.User.EmailVerified {
		t.Fatalf("unexpected user: %+v", res.User)
	}

	stored, err := store.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("mirrored user missing: %v", err)
	}
	if stored.Email != "dev@example.com" {
		t.Fatalf("stored email = %q", stored.Email)
	}

	uc, err := svc.sessions.Resolve(context.Background(), res.Token)
	if err != nil || uc == nil {
		t.Fatalf("token did not resolve: %v", err)
	}
	if uc.UserID != "user-1" || !uc.IsVerified {
		t.Fatalf("unexpected context: %+v", uc)
	}
}

func TestSignIn_BadCredentialsNotRetried(t *testing.T) {
	rejection := awserr.New("NotAuthorizedException", "Incorrect username or password.", nil)
	fc := &fakeCognito{authErrs: []error{rejection, rejection, rejection}}
	svc, _ := newService(fc)

	_, err := svc.SignIn(context.Background(), "dev@example.com", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}
	if fc.authCalls != 1 {
		t.Fatalf("provider rejection retried %d times", fc.authCalls)
	}

	out := apperr.NewTranslator(true, nil).Translate(err)
	if out.Message != "Incorrect email or password." {
		t.Fatalf("translated to %q", out.Message)
	}
}

func TestSignIn_ThrottleRetried(t *testing.T) {
	throttle := awserr.New(cognitoidentityprovider.ErrCodeTooManyRequestsException, "slow down", nil)
	fc := &fakeCognito{
		authErrs: []error{throttle},
		userAttrs: []*cognitoidentityprovider.AttributeType{
			{Name: aws.String("sub"), Value: aws.String("user-1")},
			{Name: aws.String("email"), Value: aws.String("dev@example.com")},
		},
	}
	svc, _ := newService(fc)

	if _, err := svc.SignIn(context.Background(), "dev@example.com", "Passw0rd!"); err != nil {
		t.Fatalf("sign in after retry: %v", err)
	}
	if fc.authCalls != 2 {
		t.Fatalf("authCalls = %d", fc.authCalls)
	}
}

func TestSignIn_SecondSignInUpdatesMirror(t *testing.T) {
	fc := &fakeCognito{
		userAttrs: []*cognitoidentityprovider.AttributeType{
			{Name: aws.String("sub"), Value: aws.String("user-1")},
			{Name: aws.String("email"), Value: aws.String("dev@example.com")},
		},
	}
	svc, store := newService(fc)

	if _, err := svc.SignIn(context.Background(), "dev@example.com", "pw"); err != nil {
		t.Fatalf("first sign in: %v", err)
	}

	fc.userAttrs = []*cognitoidentityprovider.AttributeType{
		{Name: aws.String("sub"), Value: aws.String("user-1")},
		{Name: aws.String("email"), Value: aws.String("dev@example.com")},
		{Name: aws.String("email_verified"), Value: aws.String("true")},
	}
	if _, err := svc.SignIn(context.Background(), "dev@example.com", "pw"); err != nil {
		t.Fatalf("second sign in: %v", err)
	}

	stored, err := store.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !stored.EmailVerified {
		t.Fatal("verification flag not refreshed on sign-in")
	}
}
