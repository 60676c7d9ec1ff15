package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/chainpulse/console/internal/apperr"
	"github.com/chainpulse/console/internal/cache"
	"github.com/chainpulse/console/internal/session"
	"github.com/chainpulse/console/pkg/logger"
)

type staticResolver struct {
	uc *session.UserContext
}

func (r staticResolver) Resolve(ctx context.Context, token string) (*session.UserContext, error) {
	if token == "" {
		return nil, nil
	}
	return r.uc, nil
}

func newExecutor(uc *session.UserContext) (*Executor, *cache.Cache) {
	c := cache.New(cache.NewMemory(), nil)
	tr := apperr.NewTranslator(true, nil)
	ex := NewExecutor(staticResolver{uc: uc}, c, tr, logger.Nop(), nil)
	return ex, c
}

type createKeyInput struct {
	Name    string `json:"name" validate:"required,min=3,max=40"`
	Profile struct {
		Email string `json:"email" validate:"required,email"`
	} `json:"profile"`
}

func TestRun_ValidationFailure_FieldErrors(t *testing.T) {
	ex, _ := newExecutor(nil)
	cfg := Config{Name: "keys.create", Level: Public}

	handlerRan := false
	res := Run(context.Background(), ex, cfg, "", []byte(`{"name":"ab","profile":{"email":"nope"}}`),
		func(ctx context.Context, in createKeyInput, actx *Context) (string, error) {
			handlerRan = true
			return "", nil
		})

	if res.Success {
		t.Fatal("expected failure")
	}
	if handlerRan {
		t.Fatal("handler must not run on validation failure")
	}
	if res.Data != nil {
		t.Fatal("data must be absent on failure")
	}
	if len(res.FieldErrors["name"]) == 0 {
		t.Fatalf("expected error for name, got %v", res.FieldErrors)
	}
	if len(res.FieldErrors["profile.email"]) == 0 {
		t.Fatalf("expected dotted path for nested field, got %v", res.FieldErrors)
	}
}

func TestValidateInput_CollidingPathsAppend(t *testing.T) {
	ex, _ := newExecutor(nil)

	// Two struct fields sharing one json name land on the same dotted path;
	// both messages must survive under it.
	type input struct {
		First  string `json:"code" validate:"required"`
		Second string `json:"code" validate:"min=5"`
	}
	errs := ex.validateInput(input{Second: "ab"})
	if len(errs["code"]) != 2 {
		t.Fatalf("expected two messages under one path, got %v", errs)
	}
}

func TestValidateInput_NumericRangeWording(t *testing.T) {
	ex, _ := newExecutor(nil)

	type input struct {
		Days int    `json:"days" validate:"min=1,max=365"`
		Name string `json:"name" validate:"min=3"`
	}

	errs := ex.validateInput(input{Days: 400, Name: "ok!"})
	if got := errs["days"]; len(got) != 1 || got[0] != "must be 365 or less" {
		t.Fatalf("days errors = %v", got)
	}

	errs = ex.validateInput(input{Days: 0, Name: "ab"})
	if got := errs["days"]; len(got) != 1 || got[0] != "must be 1 or greater" {
		t.Fatalf("days errors = %v", got)
	}
	if got := errs["name"]; len(got) != 1 || got[0] != "must be at least 3 characters long" {
		t.Fatalf("name errors = %v", got)
	}
}

func TestRun_AuthLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   AuthLevel
		uc      *session.UserContext
		token   string
		wantErr string
	}{
		{"public no session", Public, nil, "", ""},
		{"authenticated no session", Authenticated, nil, "", MsgAuthenticationRequired},
		{"authenticated with session", Authenticated, &session.UserContext{UserID: "u1"}, "tok", ""},
		{"verified unverified user", Verified, &session.UserContext{UserID: "u1"}, "tok", MsgVerificationRequired},
		{"verified verified user", Verified, &session.UserContext{UserID: "u1", IsVerified: true}, "tok", ""},
		{"admin non-admin", Admin, &session.UserContext{UserID: "u1", IsVerified: true}, "tok", MsgAdminRequired},
		{"admin admin", Admin, &session.UserContext{UserID: "u1", IsAdmin: true}, "tok", ""},
		{"admin no session", Admin, nil, "", MsgAuthenticationRequired},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ex, _ := newExecutor(tc.uc)
			res := Run(context.Background(), ex, Config{Name: "t", Level: tc.level}, tc.token, nil,
				func(ctx context.Context, in NoInput, actx *Context) (string, error) {
					return "ok", nil
				})

			if tc.wantErr == "" {
				if !res.Success {
					t.Fatalf("expected success, got %q", res.Error)
				}
				return
			}
			if res.Success {
				t.Fatal("expected failure")
			}
			if res.Error != tc.wantErr {
				t.Fatalf("expected %q, got %q", tc.wantErr, res.Error)
			}
		})
	}
}

func TestRun_HandlerErrorTranslated(t *testing.T) {
	ex, _ := newExecutor(nil)

	res := Run(context.Background(), ex, Config{Name: "t", Level: Public}, "", nil,
		func(ctx context.Context, in NoInput, actx *Context) (string, error) {
			return "", apperr.NewLimitError("API key", 5)
		})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != "API key limit reached (5). Remove one before adding another." {
		t.Fatalf("unexpected message: %q", res.Error)
	}
}

func TestRun_HandlerPanicContained(t *testing.T) {
	ex, _ := newExecutor(nil)

	res := Run(context.Background(), ex, Config{Name: "t", Level: Public}, "", nil,
		func(ctx context.Context, in NoInput, actx *Context) (string, error) {
			panic("boom")
		})

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error == "" {
		t.Fatal("expected an error message")
	}
}

func TestRun_SuccessInvalidatesDeclaredTags(t *testing.T) {
	uc := &session.UserContext{UserID: "u1"}
	ex, c := newExecutor(uc)

	// Seed a cached entry tagged with the user's key listing.
	tag := cache.Tag("api-keys", "u1")
	fetches := 0
	opts := cache.Options{TTL: time.Hour, Tags: []string{tag}}
	fetch := func(ctx context.Context) (int, error) { fetches++; return 1, nil }
	_, _ = cache.Fetch(context.Background(), c, "api-keys:u1", opts, fetch)

	res := Run(context.Background(), ex, Config{Name: "keys.delete", Level: Authenticated}, "tok", nil,
		func(ctx context.Context, in NoInput, actx *Context) (string, error) {
			actx.Invalidate(cache.Tag("api-keys", actx.User.UserID))
			return "deleted", nil
		})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}

	_, _ = cache.Fetch(context.Background(), c, "api-keys:u1", opts, fetch)
	if fetches != 2 {
		t.Fatalf("expected refetch after invalidation, fetcher ran %d times", fetches)
	}
}

func TestRun_FailureSkipsQueuedInvalidations(t *testing.T) {
	uc := &session.UserContext{UserID: "u1"}
	ex, c := newExecutor(uc)

	tag := cache.Tag("api-keys", "u1")
	fetches := 0
	opts := cache.Options{TTL: time.Hour, Tags: []string{tag}}
	fetch := func(ctx context.Context) (int, error) { fetches++; return 1, nil }
	_, _ = cache.Fetch(context.Background(), c, "api-keys:u1", opts, fetch)

	_ = Run(context.Background(), ex, Config{Name: "keys.delete", Level: Authenticated}, "tok", nil,
		func(ctx context.Context, in NoInput, actx *Context) (string, error) {
			actx.Invalidate(tag)
			return "", errors.New("store unavailable")
		})

	_, _ = cache.Fetch(context.Background(), c, "api-keys:u1", opts, fetch)
	if fetches != 1 {
		t.Fatalf("failed handler must not invalidate, fetcher ran %d times", fetches)
	}
}

func TestRun_RateLimit(t *testing.T) {
	ex, _ := newExecutor(nil)
	cfg := Config{Name: "auth.login", Level: Public, RateLimit: rate.Limit(0.001), Burst: 1}

	ok := Run(context.Background(), ex, cfg, "", nil,
		func(ctx context.Context, in NoInput, actx *Context) (string, error) { return "ok", nil })
	if !ok.Success {
		t.Fatalf("first call should pass, got %q", ok.Error)
	}

	limited := Run(context.Background(), ex, cfg, "", nil,
		func(ctx context.Context, in NoInput, actx *Context) (string, error) { return "ok", nil })
	if limited.Success {
		t.Fatal("second call should be rate limited")
	}
	if limited.Kind() != apperr.KindRateLimit {
		t.Fatalf("expected rate limit kind, got %d", limited.Kind())
	}
}

func TestRun_InvalidJSONPayload(t *testing.T) {
	ex, _ := newExecutor(nil)

	res := Run(context.Background(), ex, Config{Name: "t", Level: Public}, "", []byte(`{"name":`),
		func(ctx context.Context, in createKeyInput, actx *Context) (string, error) {
			return "", nil
		})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != "Invalid request payload." {
		t.Fatalf("unexpected message: %q", res.Error)
	}
}
