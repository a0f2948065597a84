package authflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpetrunic88/webrover/api/schemas"
)

// loginBackend simulates a login form. The selectors it "renders" and the
// URL it lands on after submit are scripted per test.
type loginBackend struct {
	calls []string

	visible      map[string]bool
	postLoginURL string
	currentURL   string
	navigateErr  error
	fillErr      map[string]error
}

func newLoginBackend() *loginBackend {
	return &loginBackend{
		visible: map[string]bool{
			schemas.DefaultUsernameSelector: true,
			schemas.DefaultPasswordSelector: true,
			schemas.DefaultSubmitSelector:   true,
		},
		postLoginURL: "https://example.com/dashboard",
	}
}

func (b *loginBackend) Navigate(ctx context.Context, url string) (int, error) {
	b.calls = append(b.calls, "navigate")
	if b.navigateErr != nil {
		return 0, b.navigateErr
	}
	b.currentURL = url
	return 200, nil
}

func (b *loginBackend) Fill(ctx context.Context, selector, text string) error {
	b.calls = append(b.calls, "fill:"+selector)
	if err := b.fillErr[selector]; err != nil {
		return err
	}
	if !b.visible[selector] {
		return errors.New("no element matches selector")
	}
	return nil
}

func (b *loginBackend) Click(ctx context.Context, selector string) error {
	b.calls = append(b.calls, "click:"+selector)
	if !b.visible[selector] {
		return errors.New("no element matches selector")
	}
	b.currentURL = b.postLoginURL
	return nil
}

func (b *loginBackend) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	b.calls = append(b.calls, "wait:"+selector)
	if !b.visible[selector] {
		return errors.New("element did not appear")
	}
	return nil
}

func (b *loginBackend) Evaluate(ctx context.Context, script string, res any) error { return nil }
func (b *loginBackend) Content(ctx context.Context) (string, error)               { return "", nil }
func (b *loginBackend) Title(ctx context.Context) (string, error)                 { return "", nil }
func (b *loginBackend) Screenshot(ctx context.Context, path string) error         { return nil }
func (b *loginBackend) Cookies(ctx context.Context) (map[string]string, error)    { return nil, nil }
func (b *loginBackend) Close(ctx context.Context) error                           { return nil }

func (b *loginBackend) CurrentURL(ctx context.Context) (string, error) {
	return b.currentURL, nil
}

func newTestFlow() *Flow {
	f := New(time.Millisecond, 50*time.Millisecond, zap.NewNop())
	f.sleep = func(ctx context.Context, d time.Duration) {}
	return f
}

var testCred = schemas.Credential{Username: "admin", Password: "hunter2"}

func testAuthConfig() schemas.AuthConfig {
	return schemas.AuthConfig{LoginURL: "https://example.com/login"}
}

func TestAuthenticateSuccess(t *testing.T) {
	backend := newLoginBackend()
	res := newTestFlow().Authenticate(context.Background(), backend, testAuthConfig(), testCred)

	require.True(t, res.Authenticated, res.Error)
	assert.Equal(t, "https://example.com/dashboard", res.CurrentURL)
	assert.Empty(t, res.FailedAt)
	assert.Empty(t, res.Error)

	// Steps must run in order: navigate, locate, username, password, submit.
	assert.Equal(t, []string{
		"navigate",
		"wait:" + schemas.DefaultUsernameSelector,
		"fill:" + schemas.DefaultUsernameSelector,
		"fill:" + schemas.DefaultPasswordSelector,
		"click:" + schemas.DefaultSubmitSelector,
	}, backend.calls)
}

func TestAuthenticateUsernameFieldMissing(t *testing.T) {
	backend := newLoginBackend()
	backend.visible[schemas.DefaultUsernameSelector] = false

	res := newTestFlow().Authenticate(context.Background(), backend, testAuthConfig(), testCred)

	require.False(t, res.Authenticated)
	assert.Equal(t, schemas.AuthFieldFound, res.FailedAt)
	assert.Equal(t, "username field not found", res.Error)

	// The flow must halt: nothing is filled or clicked after the miss.
	for _, call := range backend.calls {
		assert.NotContains(t, call, "fill:")
		assert.NotContains(t, call, "click:")
	}
}

func TestAuthenticatePasswordFieldMissing(t *testing.T) {
	backend := newLoginBackend()
	backend.visible[schemas.DefaultPasswordSelector] = false

	res := newTestFlow().Authenticate(context.Background(), backend, testAuthConfig(), testCred)

	require.False(t, res.Authenticated)
	assert.Equal(t, schemas.AuthPasswordEntered, res.FailedAt)
	assert.Equal(t, "password field not found", res.Error)
}

func TestAuthenticateSubmitMissing(t *testing.T) {
	backend := newLoginBackend()
	backend.visible[schemas.DefaultSubmitSelector] = false

	res := newTestFlow().Authenticate(context.Background(), backend, testAuthConfig(), testCred)

	require.False(t, res.Authenticated)
	assert.Equal(t, schemas.AuthSubmitted, res.FailedAt)
	assert.Equal(t, "submit button not found", res.Error)
}

func TestAuthenticateStillOnLoginPage(t *testing.T) {
	backend := newLoginBackend()
	backend.postLoginURL = "https://example.com/login?error=1"

	res := newTestFlow().Authenticate(context.Background(), backend, testAuthConfig(), testCred)

	require.False(t, res.Authenticated)
	assert.Equal(t, schemas.AuthAwaitingRedirect, res.FailedAt)
	assert.Equal(t, "authentication failed - still on login page", res.Error)
}

func TestAuthenticateSuccessIndicator(t *testing.T) {
	t.Run("indicator present", func(t *testing.T) {
		backend := newLoginBackend()
		backend.visible[".user-menu"] = true
		cfg := testAuthConfig()
		cfg.SuccessIndicator = ".user-menu"

		res := newTestFlow().Authenticate(context.Background(), backend, cfg, testCred)
		require.True(t, res.Authenticated, res.Error)
	})

	t.Run("indicator never appears", func(t *testing.T) {
		backend := newLoginBackend()
		cfg := testAuthConfig()
		cfg.SuccessIndicator = ".user-menu"

		res := newTestFlow().Authenticate(context.Background(), backend, cfg, testCred)
		require.False(t, res.Authenticated)
		assert.Equal(t, schemas.AuthAwaitingRedirect, res.FailedAt)
		assert.Contains(t, res.Error, "success indicator never appeared")
	})
}

func TestAuthenticateFailureIndicator(t *testing.T) {
	backend := newLoginBackend()
	backend.visible[".error-banner"] = true
	cfg := testAuthConfig()
	cfg.FailureIndicator = ".error-banner"

	res := newTestFlow().Authenticate(context.Background(), backend, cfg, testCred)

	require.False(t, res.Authenticated)
	assert.Contains(t, res.Error, "failure indicator present")
}

func TestAuthenticateRejectsBadInput(t *testing.T) {
	t.Run("missing login url", func(t *testing.T) {
		res := newTestFlow().Authenticate(context.Background(), newLoginBackend(), schemas.AuthConfig{}, testCred)
		require.False(t, res.Authenticated)
		assert.Equal(t, schemas.AuthNotStarted, res.FailedAt)
	})

	t.Run("missing credentials", func(t *testing.T) {
		res := newTestFlow().Authenticate(context.Background(), newLoginBackend(), testAuthConfig(), schemas.Credential{Username: "admin"})
		require.False(t, res.Authenticated)
		assert.Equal(t, schemas.AuthNotStarted, res.FailedAt)
		assert.Contains(t, res.Error, "required")
	})
}

func TestAuthenticateNavigateFailure(t *testing.T) {
	backend := newLoginBackend()
	backend.navigateErr = errors.New("connection refused")

	res := newTestFlow().Authenticate(context.Background(), backend, testAuthConfig(), testCred)

	require.False(t, res.Authenticated)
	assert.Equal(t, schemas.AuthNavigated, res.FailedAt)
	assert.Contains(t, res.Error, "failed to load login page")
}

func TestSameLoginPage(t *testing.T) {
	tests := []struct {
		current string
		login   string
		want    bool
	}{
		{"https://x.com/login", "https://x.com/login", true},
		{"https://x.com/login?error=1", "https://x.com/login", true},
		{"https://x.com/login#top", "https://x.com/login/", true},
		{"https://x.com/dashboard", "https://x.com/login", false},
		{"https://x.com/login/reset", "https://x.com/login", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sameLoginPage(tt.current, tt.login), "current=%s", tt.current)
	}
}
