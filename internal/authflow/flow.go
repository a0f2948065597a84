package authflow

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mpetrunic88/webrover/api/schemas"
)

// Flow drives a credential login against a backend as a strictly linear
// sequence: navigate, locate the username field, enter the username, enter
// the password, submit, wait, verify. A step runs only after every earlier
// step succeeded, and a failure halts the flow immediately with the step it
// died on.
type Flow struct {
	settleDelay time.Duration
	waitTimeout time.Duration
	logger      *zap.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// New builds a Flow. settleDelay is the pause after submitting before the
// outcome is checked; waitTimeout bounds each element lookup.
func New(settleDelay, waitTimeout time.Duration, logger *zap.Logger) *Flow {
	if settleDelay <= 0 {
		settleDelay = time.Second
	}
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Second
	}
	return &Flow{
		settleDelay: settleDelay,
		waitTimeout: waitTimeout,
		logger:      logger.Named("authflow"),
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Authenticate runs the flow once. The returned AuthResult is terminal:
// either Authenticated with the post-login URL, or a failure tagged with the
// step that halted it. Authenticate never returns a Go error; every problem
// is folded into the result.
func (f *Flow) Authenticate(ctx context.Context, backend schemas.Backend, cfg schemas.AuthConfig, cred schemas.Credential) schemas.AuthResult {
	cfg = cfg.Normalize()
	log := f.logger.With(zap.String("login_url", cfg.LoginURL))

	if err := cfg.Validate(); err != nil {
		return fail(schemas.AuthNotStarted, err.Error())
	}
	if cred.Username == "" || cred.Password == "" {
		return fail(schemas.AuthNotStarted, "username and password are required")
	}

	flowCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	log.Info("Starting authentication flow.")

	if _, err := backend.Navigate(flowCtx, cfg.LoginURL); err != nil {
		return fail(schemas.AuthNavigated, "failed to load login page: "+err.Error())
	}

	if err := backend.WaitFor(flowCtx, cfg.UsernameSelector, f.waitTimeout); err != nil {
		return fail(schemas.AuthFieldFound, "username field not found")
	}

	if err := backend.Fill(flowCtx, cfg.UsernameSelector, cred.Username); err != nil {
		return fail(schemas.AuthUsernameEntered, "failed to enter username: "+err.Error())
	}

	if err := backend.Fill(flowCtx, cfg.PasswordSelector, cred.Password); err != nil {
		return fail(schemas.AuthPasswordEntered, "password field not found")
	}

	if err := backend.Click(flowCtx, cfg.SubmitSelector); err != nil {
		return fail(schemas.AuthSubmitted, "submit button not found")
	}

	f.sleep(flowCtx, f.settleDelay)

	return f.verify(flowCtx, backend, cfg, log)
}

// verify decides the outcome of a submitted login. An explicit success
// indicator is authoritative when configured; otherwise the flow falls back
// to the URL heuristic: landing away from the login page means success.
func (f *Flow) verify(ctx context.Context, backend schemas.Backend, cfg schemas.AuthConfig, log *zap.Logger) schemas.AuthResult {
	if cfg.FailureIndicator != "" {
		if err := backend.WaitFor(ctx, cfg.FailureIndicator, f.settleDelay); err == nil {
			log.Warn("Authentication rejected.", zap.String("indicator", cfg.FailureIndicator))
			return fail(schemas.AuthAwaitingRedirect, "authentication rejected: failure indicator present")
		}
	}

	if cfg.SuccessIndicator != "" {
		if err := backend.WaitFor(ctx, cfg.SuccessIndicator, f.waitTimeout); err != nil {
			return fail(schemas.AuthAwaitingRedirect, "authentication failed: success indicator never appeared")
		}
		url, _ := backend.CurrentURL(ctx)
		log.Info("Authentication succeeded.", zap.String("url", url))
		return success(url)
	}

	url, err := backend.CurrentURL(ctx)
	if err != nil {
		return fail(schemas.AuthAwaitingRedirect, "failed to read post-login URL: "+err.Error())
	}
	if sameLoginPage(url, cfg.LoginURL) {
		log.Warn("Still on login page after submit.", zap.String("url", url))
		return fail(schemas.AuthAwaitingRedirect, "authentication failed - still on login page")
	}

	log.Info("Authentication succeeded.", zap.String("url", url))
	return success(url)
}

// sameLoginPage reports whether the browser is still on the login page,
// ignoring query string and fragment noise added by failed submissions.
func sameLoginPage(current, login string) bool {
	trim := func(u string) string {
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		return strings.TrimRight(u, "/")
	}
	return trim(current) == trim(login)
}

func fail(step schemas.AuthStep, msg string) schemas.AuthResult {
	return schemas.AuthResult{
		Authenticated: false,
		FailedAt:      step,
		Error:         msg,
		Timestamp:     time.Now(),
	}
}

func success(url string) schemas.AuthResult {
	return schemas.AuthResult{
		Authenticated: true,
		CurrentURL:    url,
		Timestamp:     time.Now(),
	}
}
