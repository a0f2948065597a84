package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mpetrunic88/webrover/api/schemas"
	"github.com/mpetrunic88/webrover/internal/config"
)

// Authenticator drives a login flow against a backend. Implemented by the
// authflow package; declared here so the dispatcher stays decoupled from it.
type Authenticator interface {
	Authenticate(ctx context.Context, backend schemas.Backend, cfg schemas.AuthConfig, cred schemas.Credential) schemas.AuthResult
}

// handler executes one validated action and returns its result.
type handler func(ctx context.Context, action schemas.Action) schemas.ActionResult

// Dispatcher translates symbolic actions into backend calls. Calls are
// serialized: one action runs at a time, and every call appends exactly one
// entry to the session history regardless of outcome. Backend errors never
// escape as Go errors; they come back as failed ActionResults.
type Dispatcher struct {
	backend schemas.Backend
	auth    Authenticator
	network config.NetworkConfig
	shotDir string
	logger  *zap.Logger
	state   *State

	mu       sync.Mutex
	closed   bool
	handlers map[schemas.ActionType]handler

	now func() time.Time
}

// NewDispatcher builds a dispatcher around a backend. auth may be nil, in
// which case the authenticate action fails cleanly.
func NewDispatcher(backend schemas.Backend, auth Authenticator, cfg *config.Config, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		backend: backend,
		auth:    auth,
		network: cfg.Network,
		shotDir: cfg.Browser.ScreenshotDir,
		logger:  logger.Named("dispatch"),
		state:   NewState(),
		now:     time.Now,
	}
	d.handlers = map[schemas.ActionType]handler{
		schemas.ActionNavigate:     d.handleNavigate,
		schemas.ActionClick:        d.handleClick,
		schemas.ActionTypeText:     d.handleType,
		schemas.ActionWait:         d.handleWait,
		schemas.ActionEvaluate:     d.handleEvaluate,
		schemas.ActionSnapshot:     d.handleSnapshot,
		schemas.ActionGetHTML:      d.handleGetHTML,
		schemas.ActionAuthenticate: d.handleAuthenticate,
		schemas.ActionClose:        d.handleClose,
	}
	return d
}

// State exposes the session state for read access.
func (d *Dispatcher) State() *State { return d.state }

// Dispatch executes one symbolic action. Unknown actions, bad parameters,
// backend errors, and timeouts all come back as failed results; the only
// thing Dispatch never does is panic or return a partial envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, action schemas.Action) schemas.ActionResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if action.Timestamp.IsZero() {
		action.Timestamp = d.now()
	}

	var result schemas.ActionResult
	switch {
	case !action.Type.Known():
		result = schemas.Fail("unsupported action: %s", action.Type)
	case d.closed && action.Type != schemas.ActionClose:
		result = schemas.Fail("session is closed")
	default:
		result = d.handlers[action.Type](ctx, action)
	}

	d.state.appendHistory(action, result)

	if result.Success {
		d.logger.Debug("Action completed.", zap.String("action", string(action.Type)))
	} else {
		d.logger.Warn("Action failed.",
			zap.String("action", string(action.Type)), zap.String("error", result.Error))
	}
	return result
}

// Close releases the backend. Idempotent; equivalent to dispatching a close
// action without recording one.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.state.reset()
	return d.backend.Close(ctx)
}

func (d *Dispatcher) handleNavigate(ctx context.Context, action schemas.Action) schemas.ActionResult {
	url, ok := stringParam(action.Params, "url")
	if !ok {
		return schemas.Fail("navigate: missing required parameter 'url'")
	}

	opCtx, cancel := context.WithTimeout(ctx, d.network.NavigationTimeout)
	defer cancel()

	status, err := d.backend.Navigate(opCtx, url)
	if err != nil {
		return failOp("navigate", err, d.network.NavigationTimeout)
	}
	d.state.setCurrentURL(url)
	if cookies, err := d.backend.Cookies(opCtx); err == nil {
		d.state.setCookies(cookies)
	}
	return schemas.OK(map[string]any{"url": url, "status": status})
}

func (d *Dispatcher) handleClick(ctx context.Context, action schemas.Action) schemas.ActionResult {
	selector, ok := stringParam(action.Params, "selector")
	if !ok {
		return schemas.Fail("click: missing required parameter 'selector'")
	}

	opCtx, cancel := context.WithTimeout(ctx, d.network.ActionTimeout)
	defer cancel()

	if err := d.backend.Click(opCtx, selector); err != nil {
		return failOp("click", err, d.network.ActionTimeout)
	}
	return schemas.OK(map[string]any{"selector": selector, "clicked": true})
}

func (d *Dispatcher) handleType(ctx context.Context, action schemas.Action) schemas.ActionResult {
	selector, ok := stringParam(action.Params, "selector")
	if !ok {
		return schemas.Fail("type: missing required parameter 'selector'")
	}
	text, ok := stringParam(action.Params, "text")
	if !ok {
		return schemas.Fail("type: missing required parameter 'text'")
	}

	opCtx, cancel := context.WithTimeout(ctx, d.network.ActionTimeout)
	defer cancel()

	if err := d.backend.Fill(opCtx, selector, text); err != nil {
		return failOp("type", err, d.network.ActionTimeout)
	}
	return schemas.OK(map[string]any{"selector": selector, "typed": len(text)})
}

func (d *Dispatcher) handleWait(ctx context.Context, action schemas.Action) schemas.ActionResult {
	selector, ok := stringParam(action.Params, "selector")
	if !ok {
		return schemas.Fail("wait: missing required parameter 'selector'")
	}
	timeout := durationParam(action.Params, "timeout", d.network.WaitTimeout)

	if err := d.backend.WaitFor(ctx, selector, timeout); err != nil {
		return failOp("wait", err, timeout)
	}
	return schemas.OK(map[string]any{"selector": selector, "found": true})
}

func (d *Dispatcher) handleEvaluate(ctx context.Context, action schemas.Action) schemas.ActionResult {
	script, ok := stringParam(action.Params, "script")
	if !ok {
		return schemas.Fail("evaluate: missing required parameter 'script'")
	}

	opCtx, cancel := context.WithTimeout(ctx, d.network.ActionTimeout)
	defer cancel()

	var res any
	if err := d.backend.Evaluate(opCtx, script, &res); err != nil {
		return failOp("evaluate", err, d.network.ActionTimeout)
	}
	return schemas.OK(map[string]any{"result": res})
}

func (d *Dispatcher) handleSnapshot(ctx context.Context, action schemas.Action) schemas.ActionResult {
	path, ok := stringParam(action.Params, "path")
	if !ok {
		path = filepath.Join(d.shotDir, ScreenshotName(d.now()))
	}

	opCtx, cancel := context.WithTimeout(ctx, d.network.ActionTimeout)
	defer cancel()

	if err := d.backend.Screenshot(opCtx, path); err != nil {
		return failOp("snapshot", err, d.network.ActionTimeout)
	}

	// Title and URL are best effort; the screenshot is the snapshot.
	title, _ := d.backend.Title(opCtx)
	url, err := d.backend.CurrentURL(opCtx)
	if err != nil {
		url = d.state.CurrentURL()
	}
	return schemas.OK(map[string]any{"path": path, "title": title, "url": url})
}

func (d *Dispatcher) handleGetHTML(ctx context.Context, action schemas.Action) schemas.ActionResult {
	opCtx, cancel := context.WithTimeout(ctx, d.network.ActionTimeout)
	defer cancel()

	html, err := d.backend.Content(opCtx)
	if err != nil {
		return failOp("get_html", err, d.network.ActionTimeout)
	}
	url, err := d.backend.CurrentURL(opCtx)
	if err != nil {
		url = d.state.CurrentURL()
	}
	return schemas.OK(map[string]any{"html": html, "url": url})
}

func (d *Dispatcher) handleAuthenticate(ctx context.Context, action schemas.Action) schemas.ActionResult {
	if d.auth == nil {
		return schemas.Fail("authenticate: no authenticator configured")
	}

	cred := schemas.Credential{}
	cred.Username, _ = stringParam(action.Params, "username")
	cred.Password, _ = stringParam(action.Params, "password")
	if cred.Username == "" || cred.Password == "" {
		return schemas.Fail("authenticate: missing required parameters 'username' and 'password'")
	}

	cfg := schemas.AuthConfig{}
	cfg.LoginURL, _ = stringParam(action.Params, "login_url")
	if cfg.LoginURL == "" {
		cfg.LoginURL = d.state.CurrentURL()
	}
	cfg.UsernameSelector, _ = stringParam(action.Params, "username_selector")
	cfg.PasswordSelector, _ = stringParam(action.Params, "password_selector")
	cfg.SubmitSelector, _ = stringParam(action.Params, "submit_selector")
	cfg.SuccessIndicator, _ = stringParam(action.Params, "success_indicator")
	cfg.FailureIndicator, _ = stringParam(action.Params, "failure_indicator")
	cfg.Timeout = durationParam(action.Params, "timeout", 0)
	if err := cfg.Validate(); err != nil {
		return schemas.Fail("authenticate: %v", err)
	}

	res := d.auth.Authenticate(ctx, d.backend, cfg, cred)
	if res.CurrentURL != "" {
		d.state.setCurrentURL(res.CurrentURL)
	}
	if res.Authenticated {
		d.state.setAuthenticated(true)
		if cookies, err := d.backend.Cookies(ctx); err == nil {
			d.state.setCookies(cookies)
		}
		return schemas.OK(map[string]any{
			"authenticated": true,
			"url":           res.CurrentURL,
		})
	}
	return schemas.Fail("authenticate: %s (step: %s)", res.Error, res.FailedAt)
}

func (d *Dispatcher) handleClose(ctx context.Context, action schemas.Action) schemas.ActionResult {
	if d.closed {
		return schemas.OK(map[string]any{"closed": true})
	}
	d.closed = true
	d.state.reset()
	if err := d.backend.Close(ctx); err != nil {
		return schemas.FailErr("close", err)
	}
	return schemas.OK(map[string]any{"closed": true})
}

// ScreenshotName produces the timestamped default screenshot filename.
func ScreenshotName(t time.Time) string {
	return fmt.Sprintf("screenshot_%s.png", t.Format("20060102_150405"))
}

// failOp converts a backend error into a failed result, rewording deadline
// errors so callers see the timeout instead of a raw context error.
func failOp(op string, err error, timeout time.Duration) schemas.ActionResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return schemas.Fail("%s timed out after %s", op, timeout)
	}
	return schemas.FailErr(op, err)
}

// stringParam fetches a non-empty string parameter.
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// durationParam reads a timeout parameter given either as seconds (number)
// or as a Go duration string ("5s").
func durationParam(params map[string]any, key string, fallback time.Duration) time.Duration {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch t := v.(type) {
	case time.Duration:
		if t > 0 {
			return t
		}
	case float64:
		if t > 0 {
			return time.Duration(t * float64(time.Second))
		}
	case int:
		if t > 0 {
			return time.Duration(t) * time.Second
		}
	case string:
		if d, err := time.ParseDuration(t); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
