package schemas

import (
	"fmt"
	"time"
)

// Credential holds a username and password pair.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthConfig describes one authentication attempt against a login form.
// Constructed once per attempt and treated as immutable.
type AuthConfig struct {
	LoginURL         string        `json:"login_url"`
	UsernameSelector string        `json:"username_selector"`
	PasswordSelector string        `json:"password_selector"`
	SubmitSelector   string        `json:"submit_selector"`
	SuccessIndicator string        `json:"success_indicator,omitempty"`
	FailureIndicator string        `json:"failure_indicator,omitempty"`
	Timeout          time.Duration `json:"timeout"`
}

// Default selectors match the common name-attribute login form.
const (
	DefaultUsernameSelector = `input[name='username']`
	DefaultPasswordSelector = `input[name='password']`
	DefaultSubmitSelector   = `button[type='submit']`
)

// Normalize fills unset selectors and timeout with defaults. It returns a
// copy so the caller's config stays immutable.
func (c AuthConfig) Normalize() AuthConfig {
	if c.UsernameSelector == "" {
		c.UsernameSelector = DefaultUsernameSelector
	}
	if c.PasswordSelector == "" {
		c.PasswordSelector = DefaultPasswordSelector
	}
	if c.SubmitSelector == "" {
		c.SubmitSelector = DefaultSubmitSelector
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Validate rejects configs that cannot drive an authentication attempt.
func (c *AuthConfig) Validate() error {
	if c.LoginURL == "" {
		return fmt.Errorf("auth config: login_url is required")
	}
	return nil
}

// AuthStep identifies where in the linear authentication state machine an
// attempt currently is, or where it halted.
type AuthStep string

const (
	AuthNotStarted       AuthStep = "not_started"
	AuthNavigated        AuthStep = "navigated"
	AuthFieldFound       AuthStep = "field_found"
	AuthUsernameEntered  AuthStep = "username_entered"
	AuthPasswordEntered  AuthStep = "password_entered"
	AuthSubmitted        AuthStep = "submitted"
	AuthAwaitingRedirect AuthStep = "awaiting_redirect"
	AuthAuthenticated    AuthStep = "authenticated"
	AuthFailed           AuthStep = "failed"
)

// AuthResult is the terminal outcome of one authentication attempt. FailedAt
// names the step at which the flow halted; it is empty on success.
type AuthResult struct {
	Authenticated bool      `json:"authenticated"`
	CurrentURL    string    `json:"current_url,omitempty"`
	FailedAt      AuthStep  `json:"failed_at,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
