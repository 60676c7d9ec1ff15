// Package identity wraps the hosted identity provider (Cognito). The
// provider is the system of record for credentials; sign-in mirrors the
// account into the local user store and issues a dashboard session.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"

	"github.com/chainpulse/console/internal/apperr"
	"github.com/chainpulse/console/internal/app/domain/user"
	"github.com/chainpulse/console/internal/app/storage"
	"github.com/chainpulse/console/internal/config"
	"github.com/chainpulse/console/internal/retry"
	consolesession "github.com/chainpulse/console/internal/session"
	"github.com/chainpulse/console/pkg/logger"
)

const msgUnsupportedEmail = "This email address format is not supported. Please use a different address."

// Client is the subset of the Cognito API the service uses.
type Client interface {
	SignUpWithContext(ctx aws.Context, in *cognitoidentityprovider.SignUpInput, opts ...request.Option) (*cognitoidentityprovider.SignUpOutput, error)
	ConfirmSignUpWithContext(ctx aws.Context, in *cognitoidentityprovider.ConfirmSignUpInput, opts ...request.Option) (*cognitoidentityprovider.ConfirmSignUpOutput, error)
	InitiateAuthWithContext(ctx aws.Context, in *cognitoidentityprovider.InitiateAuthInput, opts ...request.Option) (*cognitoidentityprovider.InitiateAuthOutput, error)
	GetUserWithContext(ctx aws.Context, in *cognitoidentityprovider.GetUserInput, opts ...request.Option) (*cognitoidentityprovider.GetUserOutput, error)
	ResendConfirmationCodeWithContext(ctx aws.Context, in *cognitoidentityprovider.ResendConfirmationCodeInput, opts ...request.Option) (*cognitoidentityprovider.ResendConfirmationCodeOutput, error)
	ForgotPasswordWithContext(ctx aws.Context, in *cognitoidentityprovider.ForgotPasswordInput, opts ...request.Option) (*cognitoidentityprovider.ForgotPasswordOutput, error)
	ConfirmForgotPasswordWithContext(ctx aws.Context, in *cognitoidentityprovider.ConfirmForgotPasswordInput, opts ...request.Option) (*cognitoidentityprovider.ConfirmForgotPasswordOutput, error)
}

// NewClient builds a Cognito client from config.
func NewClient(cfg config.IdentityConfig) (Client, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, apperr.WrapServiceError("identity", "new_client", err)
	}
	return cognitoidentityprovider.New(sess), nil
}

// Service drives sign-up, confirmation and sign-in.
type Service struct {
	client   Client
	clientID string
	users    storage.UserStore
	sessions *consolesession.Manager
	retry    retry.Config
	log      *logger.Logger
}

func NewService(client Client, clientID string, users storage.UserStore, sessions *consolesession.Manager, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		client:   client,
		clientID: clientID,
		users:    users,
		sessions: sessions,
		retry:    retry.DefaultConfig(),
		log:      log,
	}
}

// SignInResult is what a successful sign-in returns.
type SignInResult struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

// SignUp registers a new account with the provider. Addresses whose local
// part carries three or more dots are rejected before any provider call;
// the provider accepts them but downstream mail delivery does not.
func (s *Service) SignUp(ctx context.Context, email, password, name string) error {
	if err := checkEmailShape(email); err != nil {
		return err
	}

	attrs := []*cognitoidentityprovider.AttributeType{
		{Name: aws.String("email"), Value: aws.String(email)},
	}
	if name != "" {
		attrs = append(attrs, &cognitoidentityprovider.AttributeType{
			Name: aws.String("name"), Value: aws.String(name),
		})
	}

	_, err := s.client.SignUpWithContext(ctx, &cognitoidentityprovider.SignUpInput{
		ClientId:       aws.String(s.clientID),
		Username:       aws.String(email),
		Password:       aws.String(password),
		UserAttributes: attrs,
	})
	if err != nil {
		return apperr.WrapServiceError("identity", "sign_up", err)
	}
	s.log.WithField("email", email).Info("sign-up submitted")
	return nil
}

// ConfirmSignUp confirms the account with the emailed code.
func (s *Service) ConfirmSignUp(ctx context.Context, email, code string) error {
	_, err := s.client.ConfirmSignUpWithContext(ctx, &cognitoidentityprovider.ConfirmSignUpInput{
		ClientId:         aws.String(s.clientID),
		Username:         aws.String(email),
		ConfirmationCode: aws.String(code),
	})
	if err != nil {
		return apperr.WrapServiceError("identity", "confirm_sign_up", err)
	}
	return nil
}

// ResendCode requests a fresh confirmation code.
func (s *Service) ResendCode(ctx context.Context, email string) error {
	_, err := s.client.ResendConfirmationCodeWithContext(ctx, &cognitoidentityprovider.ResendConfirmationCodeInput{
		ClientId: aws.String(s.clientID),
		Username: aws.String(email),
	})
	if err != nil {
		return apperr.WrapServiceError("identity", "resend_code", err)
	}
	return nil
}

// ForgotPassword starts the reset flow.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	_, err := s.client.ForgotPasswordWithContext(ctx, &cognitoidentityprovider.ForgotPasswordInput{
		ClientId: aws.String(s.clientID),
		Username: aws.String(email),
	})
	if err != nil {
		return apperr.WrapServiceError("identity", "forgot_password", err)
	}
	return nil
}

// ConfirmForgotPassword completes the reset flow with the emailed code.
func (s *Service) ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error {
	_, err := s.client.ConfirmForgotPasswordWithContext(ctx, &cognitoidentityprovider.ConfirmForgotPasswordInput{
		ClientId:         aws.String(s.clientID),
		Username:         aws.String(email),
		ConfirmationCode: aws.String(code),
		Password:         aws.String(newPassword),
	})
	if err != nil {
		return apperr.WrapServiceError("identity", "confirm_forgot_password", err)
	}
	return nil
}

// SignIn authenticates against the provider, mirrors the account locally
// and issues a session token. The auth call is retried on transient
// provider failures; provider rejections are operational and pass through
// untouched for the translator.
func (s *Service) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	out, err := retry.Do(ctx, s.retry, func(ctx context.Context) (*cognitoidentityprovider.InitiateAuthOutput, error) {
		res, err := s.client.InitiateAuthWithContext(ctx, &cognitoidentityprovider.InitiateAuthInput{
			AuthFlow: aws.String(cognitoidentityprovider.AuthFlowTypeUserPasswordAuth),
			ClientId: aws.String(s.clientID),
			AuthParameters: map[string]*string{
				"USERNAME": aws.String(email),
				"PASSWORD": aws.String(password),
			},
		})
		return res, classifyProviderErr(err)
	})
	if err != nil {
		return nil, apperr.WrapServiceError("identity", "sign_in", err)
	}
	if out.AuthenticationResult == nil || out.AuthenticationResult.AccessToken == nil {
		// Challenge flows (MFA, forced reset) are not part of the dashboard.
		return nil, apperr.NewBusinessError("Additional verification is required. Please reset your password.")
	}

	profile, err := s.fetchProfile(ctx, aws.StringValue(out.AuthenticationResult.AccessToken), email)
	if err != nil {
		return nil, err
	}

	u, err := s.mirror(ctx, profile)
	if err != nil {
		return nil, err
	}

	token, err := s.sessions.IssueToken(ctx, u.ID)
	if err != nil {
		return nil, apperr.WrapServiceError("identity", "issue_token", err)
	}
	return &SignInResult{Token: token, User: u}, nil
}

// fetchProfile reads the provider's view of the account.
func (s *Service) fetchProfile(ctx context.Context, accessToken, fallbackEmail string) (user.User, error) {
	out, err := s.client.GetUserWithContext(ctx, &cognitoidentityprovider.GetUserInput{
		AccessToken: aws.String(accessToken),
	})
	if err != nil {
		return user.User{}, apperr.WrapServiceError("identity", "get_user", err)
	}

	u := user.User{Email: fallbackEmail}
	for _, attr := range out.UserAttributes {
		switch aws.StringValue(attr.Name) {
		case "sub":
			u.ID = aws.StringValue(attr.Value)
		case "email":
			u.Email = aws.StringValue(attr.Value)
		case "name":
			u.Name = aws.StringValue(attr.Value)
		case "email_verified":
			u.EmailVerified = aws.StringValue(attr.Value) == "true"
		}
	}
	return u, nil
}

// mirror upserts the provider account into the local store, preserving
// dashboard-local fields (role, billing linkage).
func (s *Service) mirror(ctx context.Context, profile user.User) (user.User, error) {
	existing, err := s.users.GetUser(ctx, profile.ID)
	if apperr.IsNotFound(err) {
		created, createErr := s.users.CreateUser(ctx, profile)
		if createErr != nil {
			return user.User{}, apperr.WrapServiceError("identity", "mirror_create", createErr)
		}
		return created, nil
	}
	if err != nil {
		return user.User{}, apperr.WrapServiceError("identity", "mirror_get", err)
	}

	existing.Email = profile.Email
	existing.Name = profile.Name
	existing.EmailVerified = profile.EmailVerified
	updated, err := s.users.UpdateUser(ctx, existing)
	if err != nil {
		return user.User{}, apperr.WrapServiceError("identity", "mirror_update", err)
	}
	return updated, nil
}

// SignOut revokes the dashboard session.
func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// providerFault marks a provider rejection caused by the request itself
// (bad credentials, unknown user). Retrying cannot help.
type providerFault struct {
	err error
}

func (f providerFault) Error() string     { return f.err.Error() }
func (f providerFault) Unwrap() error     { return f.err }
func (f providerFault) Operational() bool { return true }

// classifyProviderErr distinguishes throttling and provider outages, which
// are worth another attempt, from request faults, which are not.
func classifyProviderErr(err error) error {
	if err == nil {
		return nil
	}
	var ae awserr.Error
	if !errors.As(err, &ae) {
		return err
	}
	switch ae.Code() {
	case cognitoidentityprovider.ErrCodeTooManyRequestsException,
		cognitoidentityprovider.ErrCodeInternalErrorException:
		return err
	}
	return providerFault{err: err}
}

func checkEmailShape(email string) error {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return apperr.NewValidationError("email", "must be a valid email address")
	}
	if strings.Count(email[:at], ".") >= 3 {
		return apperr.NewBusinessError(msgUnsupportedEmail)
	}
	return nil
}
