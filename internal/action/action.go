// Package action provides the uniform execution pipeline every dashboard
// operation funnels through: validation, authorization, context build,
// handler execution, and cache invalidation, with a single result contract.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/chainpulse/console/internal/apperr"
	"github.com/chainpulse/console/internal/cache"
	"github.com/chainpulse/console/internal/session"
	"github.com/chainpulse/console/pkg/logger"
)

// AuthLevel is the minimum session requirement an action declares.
type AuthLevel int

const (
	Public AuthLevel = iota
	Authenticated
	Verified
	Admin
)

// Authorization failure messages are level specific so clients can react
// differently (e.g. show a "verify email" button).
const (
	MsgAuthenticationRequired = "Authentication required"
	MsgVerificationRequired   = "Email verification required"
	MsgAdminRequired          = "Admin access required"
)

// Config is attached to an action at definition time and never mutated.
type Config struct {
	Name       string
	Level      AuthLevel
	RateLimit  rate.Limit // 0 disables per-action rate limiting
	Burst      int
	Revalidate []string // tags invalidated after a successful mutation
}

// Result is the sole return contract of every action.
type Result[T any] struct {
	Success     bool                `json:"success"`
	Data        *T                  `json:"data,omitempty"`
	Error       string              `json:"error,omitempty"`
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`

	kind apperr.Kind
}

// Kind exposes the error classification for transport status mapping.
func (r Result[T]) Kind() apperr.Kind { return r.kind }

// Context is the request-scoped bundle handed to handlers.
type Context struct {
	User *session.UserContext
	Log  *logger.Logger

	mu   sync.Mutex
	tags []string
}

// Invalidate queues cache tags to purge after the handler succeeds. Queued
// tags are discarded when the handler fails.
func (c *Context) Invalidate(tags ...string) {
	c.mu.Lock()
	c.tags = append(c.tags, tags...)
	c.mu.Unlock()
}

// Resolver derives the current user context from a bearer token.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*session.UserContext, error)
}

// Observer receives completion notifications for metrics.
type Observer interface {
	ActionCompleted(name string, success bool)
}

// Executor runs actions. It is safe for concurrent use.
type Executor struct {
	sessions   Resolver
	cache      *cache.Cache
	translator *apperr.Translator
	log        *logger.Logger
	validate   *validator.Validate
	observer   Observer

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewExecutor wires the pipeline. observer may be nil.
func NewExecutor(sessions Resolver, c *cache.Cache, translator *apperr.Translator, log *logger.Logger, observer Observer) *Executor {
	if log == nil {
		log = logger.NewDefault("action")
	}
	return &Executor{
		sessions:   sessions,
		cache:      c,
		translator: translator,
		log:        log,
		validate:   newValidator(),
		observer:   observer,
		limiters:   make(map[string]*rate.Limiter),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NoInput is the input type for actions that take no payload.
type NoInput struct{}

// Handler is the body of an action. It runs only after validation and
// authorization have both succeeded.
type Handler[I, O any] func(ctx context.Context, in I, actx *Context) (O, error)

// Run executes one action invocation. It never panics and never returns an
// error: every failure mode surfaces as Result{Success: false}.
func Run[I, O any](ctx context.Context, ex *Executor, cfg Config, token string, raw []byte, handler Handler[I, O]) Result[O] {
	res := run(ctx, ex, cfg, token, raw, handler)
	if ex.observer != nil {
		ex.observer.ActionCompleted(cfg.Name, res.Success)
	}
	return res
}

func run[I, O any](ctx context.Context, ex *Executor, cfg Config, token string, raw []byte, handler Handler[I, O]) Result[O] {
	if !ex.allow(cfg) {
		return failure[O](apperr.Translation{
			Kind:    apperr.KindRateLimit,
			Message: "Too many requests. Please slow down and try again.",
		})
	}

	// Step 1: validation.
	var in I
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return failure[O](apperr.Translation{
				Kind:    apperr.KindValidation,
				Message: "Invalid request payload.",
			})
		}
	}
	if fieldErrs := ex.validateInput(in); len(fieldErrs) > 0 {
		return failure[O](apperr.Translation{
			Kind:        apperr.KindValidation,
			Message:     "Please correct the highlighted fields.",
			FieldErrors: fieldErrs,
		})
	}

	// Step 2: authorization.
	var userCtx *session.UserContext
	if ex.sessions != nil {
		uc, err := ex.sessions.Resolve(ctx, token)
		if err != nil {
			return translate[O](ex, cfg, err)
		}
		userCtx = uc
	}
	if msg := authorize(cfg.Level, userCtx); msg != "" {
		kind := apperr.KindAuthentication
		if userCtx != nil {
			kind = apperr.KindPermission
		}
		return failure[O](apperr.Translation{Kind: kind, Message: msg})
	}

	// Step 3: request-scoped context.
	actx := &Context{
		User: userCtx,
		Log:  ex.log.WithField("action", cfg.Name),
	}

	// Step 4: handler execution behind a recover barrier.
	out, err := invoke(ctx, in, actx, handler)
	if err != nil {
		return translate[O](ex, cfg, err)
	}

	// Step 5: post-success invalidations.
	tags := append([]string(nil), cfg.Revalidate...)
	actx.mu.Lock()
	tags = append(tags, actx.tags...)
	actx.mu.Unlock()
	if len(tags) > 0 && ex.cache != nil {
		if _, err := ex.cache.Invalidate(ctx, tags...); err != nil {
			actx.Log.WithError(err).Warn("cache invalidation failed")
		}
	}

	return Result[O]{Success: true, Data: &out}
}

func invoke[I, O any](ctx context.Context, in I, actx *Context, handler Handler[I, O]) (out O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()
	return handler(ctx, in, actx)
}

func authorize(level AuthLevel, uc *session.UserContext) string {
	switch level {
	case Public:
		return ""
	case Authenticated:
		if uc == nil {
			return MsgAuthenticationRequired
		}
	case Verified:
		if uc == nil {
			return MsgAuthenticationRequired
		}
		if !uc.IsVerified {
			return MsgVerificationRequired
		}
	case Admin:
		if uc == nil {
			return MsgAuthenticationRequired
		}
		if !uc.IsAdmin {
			return MsgAdminRequired
		}
	}
	return ""
}

func (ex *Executor) allow(cfg Config) bool {
	if cfg.RateLimit <= 0 {
		return true
	}
	ex.mu.Lock()
	lim, ok := ex.limiters[cfg.Name]
	if !ok {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(cfg.RateLimit, burst)
		ex.limiters[cfg.Name] = lim
	}
	ex.mu.Unlock()
	return lim.Allow()
}

func (ex *Executor) validateInput(in any) map[string][]string {
	err := ex.validate.Struct(in)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// Non-struct inputs (e.g. NoInput aliases) have nothing to check.
		return nil
	}

	out := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		path := fieldPath(fe)
		out[path] = append(out[path], messageFor(fe))
	}
	return out
}

// fieldPath strips the root struct name, leaving the dotted json path.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if numericKind(fe.Kind()) {
			return fmt.Sprintf("must be %s or greater", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "max":
		if numericKind(fe.Kind()) {
			return fmt.Sprintf("must be %s or less", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be %s or greater", fe.Param())
	case "lte":
		return fmt.Sprintf("must be %s or less", fe.Param())
	case "uuid":
		return "must be a valid identifier"
	default:
		return fmt.Sprintf("is invalid (%s)", fe.Tag())
	}
}

// numericKind reports whether min/max constrain a value rather than a length.
func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func failure[O any](tr apperr.Translation) Result[O] {
	return Result[O]{
		Error:       tr.Message,
		FieldErrors: tr.FieldErrors,
		kind:        tr.Kind,
	}
}

func translate[O any](ex *Executor, cfg Config, err error) Result[O] {
	tr := ex.translator.Translate(err)
	if tr.Kind == apperr.KindUnknown || tr.Kind == apperr.KindExternal {
		ex.log.WithField("action", cfg.Name).WithError(err).Error("action failed")
	}
	return failure[O](tr)
}
