package schemas

import (
	"fmt"
	"time"
)

// ActionType is the closed vocabulary of symbolic actions the dispatcher
// understands. It is stable over the lifetime of a session.
type ActionType string

const (
	ActionNavigate     ActionType = "navigate"
	ActionClick        ActionType = "click"
	ActionTypeText     ActionType = "type"
	ActionWait         ActionType = "wait"
	ActionEvaluate     ActionType = "evaluate"
	ActionSnapshot     ActionType = "snapshot"
	ActionGetHTML      ActionType = "get_html"
	ActionAuthenticate ActionType = "authenticate"
	ActionClose        ActionType = "close"
)

// knownActions is the authoritative membership set for the closed enumeration.
var knownActions = map[ActionType]struct{}{
	ActionNavigate:     {},
	ActionClick:        {},
	ActionTypeText:     {},
	ActionWait:         {},
	ActionEvaluate:     {},
	ActionSnapshot:     {},
	ActionGetHTML:      {},
	ActionAuthenticate: {},
	ActionClose:        {},
}

// Known reports whether t is a member of the closed action vocabulary.
func (t ActionType) Known() bool {
	_, ok := knownActions[t]
	return ok
}

// Action records one dispatched operation: the symbolic name, the parameters
// it was called with, and when it was issued. Immutable once appended to a
// session's history.
type Action struct {
	Type      ActionType     `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ActionResult is the uniform envelope every dispatcher operation returns.
// Success and Error are mutually exclusive: a successful result carries Data
// and an empty Error, a failed result carries Error and nil Data.
type ActionResult struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// OK builds a successful ActionResult carrying the given data.
func OK(data map[string]any) ActionResult {
	return ActionResult{Success: true, Data: data, Timestamp: time.Now()}
}

// Fail builds a failed ActionResult with a formatted error message.
func Fail(format string, args ...any) ActionResult {
	return ActionResult{Success: false, Error: fmt.Sprintf(format, args...), Timestamp: time.Now()}
}

// FailErr wraps an underlying error as a failed ActionResult, prefixing it
// with the operation that failed so callers can tell which step broke.
func FailErr(op string, err error) ActionResult {
	return ActionResult{Success: false, Error: fmt.Sprintf("%s: %v", op, err), Timestamp: time.Now()}
}

// HistoryEntry pairs an Action with the result it produced. The session
// history is an append-only slice of these.
type HistoryEntry struct {
	Action Action       `json:"action"`
	Result ActionResult `json:"result"`
}
