package dispatch

import (
	"sync"

	"github.com/mpetrunic88/webrover/api/schemas"
)

// State is the session-scoped record the dispatcher maintains: the URL of the
// last successful navigation, whether authentication succeeded, cookies
// captured after navigations and logins, and the append-only action history.
// All access is mutex guarded.
type State struct {
	mu            sync.Mutex
	currentURL    string
	authenticated bool
	cookies       map[string]string
	history       []schemas.HistoryEntry
}

// NewState returns an empty session state.
func NewState() *State {
	return &State{cookies: make(map[string]string)}
}

// CurrentURL returns the URL of the most recent successful navigation, or ""
// before the first one.
func (s *State) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURL
}

func (s *State) setCurrentURL(url string) {
	s.mu.Lock()
	s.currentURL = url
	s.mu.Unlock()
}

// Authenticated reports whether an authenticate action has succeeded on this
// session.
func (s *State) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *State) setAuthenticated(v bool) {
	s.mu.Lock()
	s.authenticated = v
	s.mu.Unlock()
}

// reset clears the live session fields on close. The history survives; it is
// the session's record, not a resource.
func (s *State) reset() {
	s.mu.Lock()
	s.currentURL = ""
	s.authenticated = false
	s.cookies = make(map[string]string)
	s.mu.Unlock()
}

// Cookies returns a copy of the captured cookie map.
func (s *State) Cookies() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.cookies))
	for k, v := range s.cookies {
		out[k] = v
	}
	return out
}

func (s *State) setCookies(cookies map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = make(map[string]string, len(cookies))
	for k, v := range cookies {
		s.cookies[k] = v
	}
}

// History returns a copy of the action history. Every dispatched action
// appears exactly once, successes and failures alike, in dispatch order.
func (s *State) History() []schemas.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

func (s *State) appendHistory(action schemas.Action, result schemas.ActionResult) {
	s.mu.Lock()
	s.history = append(s.history, schemas.HistoryEntry{Action: action, Result: result})
	s.mu.Unlock()
}
