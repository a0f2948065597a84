package schemas

import "time"

// WorkflowKind names one of the fixed orchestrator sequences.
type WorkflowKind string

const (
	WorkflowNavigateExtract WorkflowKind = "navigate_and_extract"
	WorkflowLoginExtract    WorkflowKind = "login_and_extract"
	WorkflowInteractive     WorkflowKind = "interactive_crawl"
	WorkflowParallel        WorkflowKind = "parallel_extract"
	WorkflowDynamic         WorkflowKind = "dynamic_content_extract"
	WorkflowFormSubmit      WorkflowKind = "form_submit_extract"
)

// CrawlAction is one scripted step of an interactive crawl. ExtractAfter
// marks the step as an extraction point: after the action runs, the current
// page HTML is fetched and plain-extracted.
type CrawlAction struct {
	Type         ActionType     `json:"type"`
	Params       map[string]any `json:"params,omitempty"`
	ExtractAfter bool           `json:"extract_after,omitempty"`
}

// CrawlStepResult is the per-step record an interactive crawl accumulates.
type CrawlStepResult struct {
	Action       CrawlAction       `json:"action"`
	ActionResult ActionResult      `json:"action_result"`
	Extraction   *ExtractionResult `json:"extraction,omitempty"`
}

// WorkflowResult is the combined outcome of one orchestrated workflow.
// Fields beyond Kind/ID/URL are populated per workflow: navigation and
// extraction for navigate_and_extract, authentication for login flows, steps
// for interactive crawls, and extractions for the parallel fan-out (ordered
// to match the input URL list).
type WorkflowResult struct {
	ID        string       `json:"id"`
	Kind      WorkflowKind `json:"workflow"`
	URL       string       `json:"url,omitempty"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Navigation     *ActionResult      `json:"navigation,omitempty"`
	Authentication *AuthResult        `json:"authentication,omitempty"`
	Extraction     *ExtractionResult  `json:"extraction,omitempty"`
	Steps          []CrawlStepResult  `json:"steps,omitempty"`
	Extractions    []ExtractionResult `json:"extractions,omitempty"`
}
