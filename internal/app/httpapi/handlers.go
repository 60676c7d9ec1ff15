package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/chainpulse/console/internal/action"
	"github.com/chainpulse/console/internal/app/domain/apikey"
	billingdomain "github.com/chainpulse/console/internal/app/domain/billing"
	usagedomain "github.com/chainpulse/console/internal/app/domain/usage"
	"github.com/chainpulse/console/internal/app/services/apikeys"
	"github.com/chainpulse/console/internal/app/services/system"
	"github.com/chainpulse/console/internal/app/services/usage"
	"github.com/chainpulse/console/internal/identity"
	"github.com/chainpulse/console/internal/session"
)

// messageOut is the payload for actions whose success has no data.
type messageOut struct {
	Message string `json:"message"`
}

// --- Auth --------------------------------------------------------------------

type signUpInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"max=100"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "auth.signup", Level: action.Public, RateLimit: rate.Limit(1), Burst: 10}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), readBody(r),
		func(ctx context.Context, in signUpInput, actx *action.Context) (messageOut, error) {
			if err := s.identity.SignUp(ctx, in.Email, in.Password, in.Name); err != nil {
				return messageOut{}, err
			}
			return messageOut{Message: "Check your email for a confirmation code."}, nil
		}))
}

type confirmInput struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,min=4,max=10"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "auth.confirm", Level: action.Public, RateLimit: rate.Limit(1), Burst: 10}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), readBody(r),
		func(ctx context.Context, in confirmInput, actx *action.Context) (messageOut, error) {
			if err := s.identity.ConfirmSignUp(ctx, in.Email, in.Code); err != nil {
				return messageOut{}, err
			}
			return messageOut{Message: "Email confirmed. You can sign in now."}, nil
		}))
}

type emailInput struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "auth.resend", Level: action.Public, RateLimit: rate.Limit(0.2), Burst: 3}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), readBody(r),
		func(ctx context.Context, in emailInput, actx *action.Context) (messageOut, error) {
			if err := s.identity.ResendCode(ctx, in.Email); err != nil {
				return messageOut{}, err
			}
			return messageOut{Message: "A new code is on its way."}, nil
		}))
}

type signInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "auth.signin", Level: action.Public, RateLimit: rate.Limit(2), Burst: 20}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), readBody(r),
		func(ctx context.Context, in signInInput, actx *action.Context) (identity.SignInResult, error) {
			res, err := s.identity.SignIn(ctx, in.Email, in.Password)
			if err != nil {
				return identity.SignInResult{}, err
			}
			return *res, nil
		}))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	cfg := action.Config{Name: "auth.signout", Level: action.Authenticated}
	respond(w, action.Run(r.Context(), s.executor, cfg, token, nil,
		func(ctx context.Context, in action.NoInput, actx *action.Context) (messageOut, error) {
			if err := s.identity.SignOut(ctx, token); err != nil {
				return messageOut{}, err
			}
			return messageOut{Message: "Signed out."}, nil
		}))
}

func (s *Server) handleForgot(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "auth.forgot", Level: action.Public, RateLimit: rate.Limit(0.2), Burst: 3}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), readBody(r),
		func(ctx context.Context, in emailInput, actx *action.Context) (messageOut, error) {
			if err := s.identity.ForgotPassword(ctx, in.Email); err != nil {
				return messageOut{}, err
			}
			return messageOut{Message: "Check your email for a reset code."}, nil
		}))
}

type resetInput struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,min=4,max=10"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "auth.reset", Level: action.Public, RateLimit: rate.Limit(0.5), Burst: 5}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), readBody(r),
		func(ctx context.Context, in resetInput, actx *action.Context) (messageOut, error) {
			if err := s.identity.ConfirmForgotPassword(ctx, in.Email, in.Code, in.NewPassword); err != nil {
				return messageOut{}, err
			}
			return messageOut{Message: "Password updated. You can sign in now."}, nil
		}))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "me.get", Level: action.Authenticated}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), nil,
		func(ctx context.Context, in action.NoInput, actx *action.Context) (session.UserContext, error) {
			return *actx.User, nil
		}))
}

// --- API keys ----------------------------------------------------------------

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "keys.list", Level: action.Authenticated}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), nil,
		func(ctx context.Context, in action.NoInput, actx *action.Context) ([]apikey.Key, error) {
			return s.keys.List(ctx, actx.User.UserID)
		}))
}

type createKeyInput struct {
	Name string `json:"name" validate:"required,min=3,max=40"`
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "keys.create", Level: action.Verified}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), readBody(r),
		func(ctx context.Context, in createKeyInput, actx *action.Context) (apikeys.CreatedKey, error) {
			created, err := s.keys.Create(ctx, actx.User.UserID, in.Name)
			if err != nil {
				return apikeys.CreatedKey{}, err
			}
			actx.Invalidate(apikeys.Tag(actx.User.UserID))
			return *created, nil
		}))
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["id"]
	cfg := action.Config{Name: "keys.delete", Level: action.Verified}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), nil,
		func(ctx context.Context, in action.NoInput, actx *action.Context) (messageOut, error) {
			if err := s.keys.Delete(ctx, actx.User.UserID, keyID); err != nil {
				return messageOut{}, err
			}
			actx.Invalidate(apikeys.Tag(actx.User.UserID))
			return messageOut{Message: "API key deleted."}, nil
		}))
}

type toggleKeyInput struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (s *Server) handleToggleKey(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["id"]
	cfg := action.Config{Name: "keys.toggle", Level: action.Verified}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), readBody(r),
		func(ctx context.Context, in toggleKeyInput, actx *action.Context) (apikey.Key, error) {
			updated, err := s.keys.SetEnabled(ctx, actx.User.UserID, keyID, *in.Enabled)
			if err != nil {
				return apikey.Key{}, err
			}
			actx.Invalidate(apikeys.Tag(actx.User.UserID))
			return updated, nil
		}))
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["id"]
	cfg := action.Config{Name: "keys.rotate", Level: action.Verified}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), nil,
		func(ctx context.Context, in action.NoInput, actx *action.Context) (apikeys.CreatedKey, error) {
			rotated, err := s.keys.Rotate(ctx, actx.User.UserID, keyID)
			if err != nil {
				return apikeys.CreatedKey{}, err
			}
			actx.Invalidate(apikeys.Tag(actx.User.UserID))
			return *rotated, nil
		}))
}

// --- Usage -------------------------------------------------------------------

type usageQuery struct {
	Days int `json:"days" validate:"min=1,max=365"`
}

// usageRaw synthesizes the pipeline input from the query string so GET
// endpoints go through the same validation as POST bodies.
func usageRaw(r *http.Request) []byte {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			days = n
		}
	}
	return []byte(fmt.Sprintf(`{"days":%d}`, days))
}

func (s *Server) handleUsageDaily(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "usage.daily", Level: action.Authenticated}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), usageRaw(r),
		func(ctx context.Context, in usageQuery, actx *action.Context) ([]usagedomain.DailyPoint, error) {
			return s.usage.DailySeries(ctx, actx.User.UserID, usage.LastDays(in.Days, time.Now()))
		}))
}

func (s *Server) handleUsageEndpoints(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "usage.endpoints", Level: action.Authenticated}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), usageRaw(r),
		func(ctx context.Context, in usageQuery, actx *action.Context) ([]usagedomain.EndpointStat, error) {
			return s.usage.ByEndpoint(ctx, actx.User.UserID, usage.LastDays(in.Days, time.Now()))
		}))
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "usage.summary", Level: action.Authenticated}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), usageRaw(r),
		func(ctx context.Context, in usageQuery, actx *action.Context) (usagedomain.Summary, error) {
			return s.usage.Summarize(ctx, actx.User.UserID, usage.LastDays(in.Days, time.Now()))
		}))
}

// handleUsageExport streams CSV, so it sits outside the JSON envelope.
func (s *Server) handleUsageExport(w http.ResponseWriter, r *http.Request) {
	uc, err := s.sessions.Resolve(r.Context(), bearerToken(r))
	if err != nil || uc == nil {
		jsonError(w, action.MsgAuthenticationRequired, http.StatusUnauthorized)
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 365 {
			days = n
		}
	}

	out, err := s.usage.ExportCSV(r.Context(), uc.UserID, usage.LastDays(days, time.Now()))
	if err != nil {
		jsonError(w, "Export failed. Please try again.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="usage.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// --- Billing -----------------------------------------------------------------

func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "billing.plans", Level: action.Public}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), nil,
		func(ctx context.Context, in action.NoInput, actx *action.Context) ([]billingdomain.Plan, error) {
			return s.billing.ListPlans(ctx)
		}))
}

type subscriptionOut struct {
	Subscription *billingdomain.Subscription `json:"subscription"`
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "billing.subscription", Level: action.Authenticated}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), nil,
		func(ctx context.Context, in action.NoInput, actx *action.Context) (subscriptionOut, error) {
			sub, err := s.billing.GetSubscription(ctx, actx.User.UserID)
			if err != nil {
				return subscriptionOut{}, err
			}
			return subscriptionOut{Subscription: sub}, nil
		}))
}

type checkoutInput struct {
	PriceID    string `json:"price_id" validate:"required"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

type redirectOut struct {
	URL string `json:"url"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "billing.checkout", Level: action.Verified}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), readBody(r),
		func(ctx context.Context, in checkoutInput, actx *action.Context) (redirectOut, error) {
			url, err := s.billing.CreateCheckout(ctx, actx.User.UserID, in.PriceID, in.SuccessURL, in.CancelURL)
			if err != nil {
				return redirectOut{}, err
			}
			return redirectOut{URL: url}, nil
		}))
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "billing.portal", Level: action.Authenticated}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), nil,
		func(ctx context.Context, in action.NoInput, actx *action.Context) (redirectOut, error) {
			url, err := s.billing.CreatePortal(ctx, actx.User.UserID)
			if err != nil {
				return redirectOut{}, err
			}
			return redirectOut{URL: url}, nil
		}))
}

// handleWebhook verifies and applies provider deliveries. It never goes
// through the pipeline: the caller is the provider, not a signed-in user.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload := readBody(r)
	if err := s.webhook.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.log.WithError(err).Warn("webhook rejected")
		jsonError(w, "webhook rejected", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}

// --- Overview ----------------------------------------------------------------

type overviewOut struct {
	Keys  []apikey.Key        `json:"keys"`
	Usage usagedomain.Summary `json:"usage"`
}

// handleOverview fans the independent dashboard fetches out in parallel and
// joins them before rendering.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "overview.get", Level: action.Authenticated}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), nil,
		func(ctx context.Context, in action.NoInput, actx *action.Context) (overviewOut, error) {
			userID := actx.User.UserID

			type keysRes struct {
				keys []apikey.Key
				err  error
			}
			type usageRes struct {
				summary usagedomain.Summary
				err     error
			}
			keysCh := make(chan keysRes, 1)
			usageCh := make(chan usageRes, 1)

			go func() {
				keys, err := s.keys.List(ctx, userID)
				keysCh <- keysRes{keys: keys, err: err}
			}()
			go func() {
				summary, err := s.usage.Summarize(ctx, userID, usage.LastDays(30, time.Now()))
				usageCh <- usageRes{summary: summary, err: err}
			}()

			kr := <-keysCh
			ur := <-usageCh
			if kr.err != nil {
				return overviewOut{}, kr.err
			}
			if ur.err != nil {
				return overviewOut{}, ur.err
			}
			return overviewOut{Keys: kr.keys, Usage: ur.summary}, nil
		}))
}

// --- Admin -------------------------------------------------------------------

func (s *Server) handleAdminSystem(w http.ResponseWriter, r *http.Request) {
	cfg := action.Config{Name: "admin.system", Level: action.Admin}
	respond(w, action.Run(r.Context(), s.executor, cfg, bearerToken(r), nil,
		func(ctx context.Context, in action.NoInput, actx *action.Context) (system.Status, error) {
			return s.system.Snapshot(ctx)
		}))
}
