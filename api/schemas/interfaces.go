package schemas

import (
	"context"
	"time"
)

// Backend is the collaborator contract expected of a browser-automation
// engine. The dispatcher is polymorphic over any implementation: every
// backend error is caught at the dispatch boundary and converted into an
// ActionResult failure, so no backend error type is ever visible above it.
type Backend interface {
	// Navigate loads a URL and returns the final HTTP status code.
	Navigate(ctx context.Context, url string) (int, error)
	// Fill types text into the element matching the selector.
	Fill(ctx context.Context, selector, text string) error
	// Click clicks the element matching the selector.
	Click(ctx context.Context, selector string) error
	// WaitFor blocks until the selector matches a visible element or the
	// timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// Evaluate runs a JavaScript expression in the page and unmarshals the
	// result into res when res is non-nil.
	Evaluate(ctx context.Context, script string, res any) error
	// Content returns the current page HTML.
	Content(ctx context.Context) (string, error)
	// CurrentURL returns the page URL as the browser sees it, which may
	// differ from the last navigated URL after redirects or submissions.
	CurrentURL(ctx context.Context) (string, error)
	// Title returns the current document title.
	Title(ctx context.Context) (string, error)
	// Screenshot captures the full page to the given path.
	Screenshot(ctx context.Context, path string) error
	// Cookies returns the session's cookies as an opaque name->value map.
	Cookies(ctx context.Context) (map[string]string, error)
	// Close releases the browser resources. It must be idempotent and safe
	// to call after any failure, including timeouts.
	Close(ctx context.Context) error
}

// Extractor turns raw HTML into an ExtractionResult independent of how the
// HTML was obtained.
type Extractor interface {
	ExtractPlain(html, baseURL string) ExtractionResult
	ExtractStructured(html, baseURL string, schema ExtractionSchema) ExtractionResult
	ExtractWithInstruction(ctx context.Context, html, baseURL, instruction string) ExtractionResult
}

// Fetcher retrieves page HTML over plain HTTP, for extraction paths that do
// not need a browser session.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (html string, statusCode int, err error)
}

// GenerationRequest encapsulates one request to the language-model backend.
type GenerationRequest struct {
	SystemPrompt string  `json:"system_prompt"`
	UserPrompt   string  `json:"user_prompt"`
	Temperature  float64 `json:"temperature"`
	ForceJSON    bool    `json:"force_json"`
}

// LLMClient abstracts the natural-language extraction backend. The core only
// passes content through; it implements no language logic of its own.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// HistoryStore persists completed workflow results and their action
// histories. Implementations must be safe for concurrent use.
type HistoryStore interface {
	SaveWorkflowResult(ctx context.Context, sessionID string, result *WorkflowResult) error
	SaveHistory(ctx context.Context, sessionID string, entries []HistoryEntry) error
	WorkflowResults(ctx context.Context, sessionID string) ([]WorkflowResult, error)
	Close()
}
