package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mpetrunic88/webrover/api/schemas"
	"github.com/mpetrunic88/webrover/internal/config"
	"github.com/mpetrunic88/webrover/internal/dispatch"
)

// SessionFactory opens a fresh browser-backed session for one workflow.
type SessionFactory func(ctx context.Context) (schemas.Backend, error)

// ExtractOptions selects the extraction mode a workflow finishes with.
// Mode defaults to plain; structured requires Schema, instruction requires
// Instruction.
type ExtractOptions struct {
	Mode        schemas.ExtractionMode
	Schema      *schemas.ExtractionSchema
	Instruction string
}

func (o ExtractOptions) mode() schemas.ExtractionMode {
	if o.Mode == "" {
		return schemas.ModePlain
	}
	return o.Mode
}

// Orchestrator composes dispatcher, authentication, and extraction into a
// fixed set of high-level workflows. Each workflow opens its own session,
// closes it on every path, and appends its outcome to the result log.
type Orchestrator struct {
	newBackend SessionFactory
	auth       dispatch.Authenticator
	extractor  schemas.Extractor
	fetcher    schemas.Fetcher
	store      schemas.HistoryStore
	cfg        *config.Config
	logger     *zap.Logger

	mu      sync.Mutex
	results []schemas.WorkflowResult
}

// New builds an Orchestrator. fetcher powers the browserless parallel
// workflow; store is optional and may be nil.
func New(newBackend SessionFactory, auth dispatch.Authenticator, extractor schemas.Extractor,
	fetcher schemas.Fetcher, store schemas.HistoryStore, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		newBackend: newBackend,
		auth:       auth,
		extractor:  extractor,
		fetcher:    fetcher,
		store:      store,
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
	}
}

// Results returns a copy of the workflow result log, oldest first.
func (o *Orchestrator) Results() []schemas.WorkflowResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]schemas.WorkflowResult, len(o.results))
	copy(out, o.results)
	return out
}

// begin opens a workflow result envelope.
func (o *Orchestrator) begin(kind schemas.WorkflowKind, url string) *schemas.WorkflowResult {
	return &schemas.WorkflowResult{
		ID:        uuid.NewString(),
		Kind:      kind,
		URL:       url,
		StartedAt: time.Now(),
	}
}

// finish stamps the result, appends it to the log, and persists it together
// with the session's action history when a store is configured.
func (o *Orchestrator) finish(ctx context.Context, result *schemas.WorkflowResult, d *dispatch.Dispatcher) *schemas.WorkflowResult {
	result.Duration = time.Since(result.StartedAt)

	o.mu.Lock()
	o.results = append(o.results, *result)
	o.mu.Unlock()

	if o.store != nil {
		// Persistence failures are logged, never propagated into the result.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.store.SaveWorkflowResult(saveCtx, result.ID, result); err != nil {
			o.logger.Warn("Failed to persist workflow result.", zap.Error(err))
		}
		if d != nil {
			if err := o.store.SaveHistory(saveCtx, result.ID, d.State().History()); err != nil {
				o.logger.Warn("Failed to persist action history.", zap.Error(err))
			}
		}
	}

	o.logger.Info("Workflow finished.",
		zap.String("workflow", string(result.Kind)),
		zap.String("id", result.ID),
		zap.Bool("success", result.Success),
		zap.Duration("duration", result.Duration))
	return result
}

// openDispatcher starts a session wrapped in a dispatcher.
func (o *Orchestrator) openDispatcher(ctx context.Context) (*dispatch.Dispatcher, error) {
	backend, err := o.newBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	return dispatch.NewDispatcher(backend, o.auth, o.cfg, o.logger), nil
}

// extractByMode runs the configured extraction over already-fetched HTML.
func (o *Orchestrator) extractByMode(ctx context.Context, html, url string, opts ExtractOptions) schemas.ExtractionResult {
	switch opts.mode() {
	case schemas.ModeStructured:
		if opts.Schema == nil {
			return schemas.ExtractionResult{Success: false, URL: url, Error: "structured extraction requires a schema"}
		}
		return o.extractor.ExtractStructured(html, url, *opts.Schema)
	case schemas.ModeInstruction:
		return o.extractor.ExtractWithInstruction(ctx, html, url, opts.Instruction)
	case schemas.ModePlain:
		return o.extractor.ExtractPlain(html, url)
	default:
		return schemas.ExtractionResult{Success: false, URL: url, Error: fmt.Sprintf("unknown extraction mode %q", opts.Mode)}
	}
}

// pageHTML pulls the current page HTML and URL through the dispatcher so the
// fetch lands in the action history like any other action.
func pageHTML(ctx context.Context, d *dispatch.Dispatcher) (html, url string, err error) {
	res := d.Dispatch(ctx, schemas.Action{Type: schemas.ActionGetHTML})
	if !res.Success {
		return "", "", fmt.Errorf("%s", res.Error)
	}
	html, _ = res.Data["html"].(string)
	url, _ = res.Data["url"].(string)
	return html, url, nil
}

// NavigateAndExtract loads a page and extracts its content.
func (o *Orchestrator) NavigateAndExtract(ctx context.Context, url string, opts ExtractOptions) *schemas.WorkflowResult {
	result := o.begin(schemas.WorkflowNavigateExtract, url)

	d, err := o.openDispatcher(ctx)
	if err != nil {
		result.Error = err.Error()
		return o.finish(ctx, result, nil)
	}
	defer d.Close(ctx)

	nav := d.Dispatch(ctx, schemas.Action{
		Type:   schemas.ActionNavigate,
		Params: map[string]any{"url": url},
	})
	result.Navigation = &nav
	if !nav.Success {
		result.Error = nav.Error
		return o.finish(ctx, result, d)
	}

	o.settle(ctx)

	html, pageURL, err := pageHTML(ctx, d)
	if err != nil {
		result.Error = err.Error()
		return o.finish(ctx, result, d)
	}

	extraction := o.extractByMode(ctx, html, pageURL, opts)
	result.Extraction = &extraction
	result.Success = extraction.Success
	if !extraction.Success {
		result.Error = extraction.Error
	}
	return o.finish(ctx, result, d)
}

// LoginAndExtract authenticates and then extracts from a target page. With
// an empty targetURL the post-login page is extracted.
func (o *Orchestrator) LoginAndExtract(ctx context.Context, authCfg schemas.AuthConfig, cred schemas.Credential,
	targetURL string, opts ExtractOptions) *schemas.WorkflowResult {
	result := o.begin(schemas.WorkflowLoginExtract, authCfg.LoginURL)

	d, err := o.openDispatcher(ctx)
	if err != nil {
		result.Error = err.Error()
		return o.finish(ctx, result, nil)
	}
	defer d.Close(ctx)

	authCfg = authCfg.Normalize()
	authRes := d.Dispatch(ctx, schemas.Action{
		Type: schemas.ActionAuthenticate,
		Params: map[string]any{
			"username":          cred.Username,
			"password":          cred.Password,
			"login_url":         authCfg.LoginURL,
			"username_selector": authCfg.UsernameSelector,
			"password_selector": authCfg.PasswordSelector,
			"submit_selector":   authCfg.SubmitSelector,
			"success_indicator": authCfg.SuccessIndicator,
			"failure_indicator": authCfg.FailureIndicator,
			"timeout":           authCfg.Timeout,
		},
	})
	auth := schemas.AuthResult{
		Authenticated: authRes.Success,
		CurrentURL:    d.State().CurrentURL(),
		Error:         authRes.Error,
		Timestamp:     authRes.Timestamp,
	}
	result.Authentication = &auth
	if !authRes.Success {
		result.Error = authRes.Error
		return o.finish(ctx, result, d)
	}

	if targetURL != "" {
		nav := d.Dispatch(ctx, schemas.Action{
			Type:   schemas.ActionNavigate,
			Params: map[string]any{"url": targetURL},
		})
		result.Navigation = &nav
		if !nav.Success {
			result.Error = nav.Error
			return o.finish(ctx, result, d)
		}
		o.settle(ctx)
	}

	html, pageURL, err := pageHTML(ctx, d)
	if err != nil {
		result.Error = err.Error()
		return o.finish(ctx, result, d)
	}

	extraction := o.extractByMode(ctx, html, pageURL, opts)
	result.Extraction = &extraction
	result.Success = extraction.Success
	if !extraction.Success {
		result.Error = extraction.Error
	}
	return o.finish(ctx, result, d)
}

// InteractiveCrawl loads a start page and then runs a scripted sequence of
// actions, extracting after each step marked ExtractAfter. A failed step is
// recorded and the crawl moves on; the workflow succeeds only if every step
// did.
func (o *Orchestrator) InteractiveCrawl(ctx context.Context, startURL string, steps []schemas.CrawlAction) *schemas.WorkflowResult {
	result := o.begin(schemas.WorkflowInteractive, startURL)

	d, err := o.openDispatcher(ctx)
	if err != nil {
		result.Error = err.Error()
		return o.finish(ctx, result, nil)
	}
	defer d.Close(ctx)

	nav := d.Dispatch(ctx, schemas.Action{
		Type:   schemas.ActionNavigate,
		Params: map[string]any{"url": startURL},
	})
	result.Navigation = &nav
	if !nav.Success {
		result.Error = nav.Error
		return o.finish(ctx, result, d)
	}

	allOK := true
	for _, step := range steps {
		actRes := d.Dispatch(ctx, schemas.Action{Type: step.Type, Params: step.Params})
		stepResult := schemas.CrawlStepResult{Action: step, ActionResult: actRes}
		if !actRes.Success {
			allOK = false
		}

		if step.ExtractAfter && actRes.Success {
			o.settle(ctx)
			if html, pageURL, err := pageHTML(ctx, d); err == nil {
				extraction := o.extractor.ExtractPlain(html, pageURL)
				stepResult.Extraction = &extraction
			}
		}
		result.Steps = append(result.Steps, stepResult)
	}

	result.Success = allOK
	if !allOK {
		result.Error = "one or more crawl steps failed"
	}
	return o.finish(ctx, result, d)
}

// ParallelExtract fetches and extracts a list of URLs concurrently without a
// browser. Results come back in input order and each URL fails
// independently; one bad URL never aborts the batch.
func (o *Orchestrator) ParallelExtract(ctx context.Context, urls []string, opts ExtractOptions) *schemas.WorkflowResult {
	result := o.begin(schemas.WorkflowParallel, "")
	result.Extractions = make([]schemas.ExtractionResult, len(urls))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Extraction.Concurrency)

	for i, url := range urls {
		g.Go(func() error {
			html, _, err := o.fetcher.Fetch(groupCtx, url)
			if err != nil {
				result.Extractions[i] = schemas.ExtractionResult{Success: false, URL: url, Error: err.Error()}
				return nil
			}
			result.Extractions[i] = o.extractByMode(groupCtx, html, url, opts)
			return nil
		})
	}
	// Workers report per-URL failures in place, never as errors.
	_ = g.Wait()

	failed := 0
	for _, e := range result.Extractions {
		if !e.Success {
			failed++
		}
	}
	result.Success = failed == 0
	if failed > 0 {
		result.Error = fmt.Sprintf("%d of %d pages failed", failed, len(urls))
	}
	return o.finish(ctx, result, nil)
}

// scrollScript pushes the viewport to the bottom of the page, triggering
// lazy loaders and infinite-scroll listeners.
const scrollScript = "window.scrollTo(0, document.body.scrollHeight)"

// DynamicContentExtract loads a page, waits for a selector that signals the
// dynamic content has rendered, scrolls to the bottom scrollTimes times to
// flush lazy-loaded content, then extracts.
func (o *Orchestrator) DynamicContentExtract(ctx context.Context, url, waitSelector string, scrollTimes int, opts ExtractOptions) *schemas.WorkflowResult {
	result := o.begin(schemas.WorkflowDynamic, url)

	d, err := o.openDispatcher(ctx)
	if err != nil {
		result.Error = err.Error()
		return o.finish(ctx, result, nil)
	}
	defer d.Close(ctx)

	nav := d.Dispatch(ctx, schemas.Action{
		Type:   schemas.ActionNavigate,
		Params: map[string]any{"url": url},
	})
	result.Navigation = &nav
	if !nav.Success {
		result.Error = nav.Error
		return o.finish(ctx, result, d)
	}

	if waitSelector != "" {
		wait := d.Dispatch(ctx, schemas.Action{
			Type:   schemas.ActionWait,
			Params: map[string]any{"selector": waitSelector},
		})
		if !wait.Success {
			result.Error = wait.Error
			return o.finish(ctx, result, d)
		}
	} else {
		o.settle(ctx)
	}

	for i := 0; i < scrollTimes; i++ {
		scroll := d.Dispatch(ctx, schemas.Action{
			Type:   schemas.ActionEvaluate,
			Params: map[string]any{"script": scrollScript},
		})
		if !scroll.Success {
			result.Error = scroll.Error
			return o.finish(ctx, result, d)
		}
		o.settle(ctx)
	}

	// Scrolling may have replaced the page content; wait the selector back in
	// before reading the document.
	if scrollTimes > 0 && waitSelector != "" {
		wait := d.Dispatch(ctx, schemas.Action{
			Type:   schemas.ActionWait,
			Params: map[string]any{"selector": waitSelector},
		})
		if !wait.Success {
			result.Error = wait.Error
			return o.finish(ctx, result, d)
		}
	}

	html, pageURL, err := pageHTML(ctx, d)
	if err != nil {
		result.Error = err.Error()
		return o.finish(ctx, result, d)
	}

	extraction := o.extractByMode(ctx, html, pageURL, opts)
	result.Extraction = &extraction
	result.Success = extraction.Success
	if !extraction.Success {
		result.Error = extraction.Error
	}
	return o.finish(ctx, result, d)
}

// FormSubmitExtract loads a page, fills the given fields, submits, and
// extracts from wherever the submission lands. The extraction URL is the
// post-submit URL, not the form page.
func (o *Orchestrator) FormSubmitExtract(ctx context.Context, url string, fields map[string]string,
	submitSelector, waitSelector string, opts ExtractOptions) *schemas.WorkflowResult {
	result := o.begin(schemas.WorkflowFormSubmit, url)

	d, err := o.openDispatcher(ctx)
	if err != nil {
		result.Error = err.Error()
		return o.finish(ctx, result, nil)
	}
	defer d.Close(ctx)

	nav := d.Dispatch(ctx, schemas.Action{
		Type:   schemas.ActionNavigate,
		Params: map[string]any{"url": url},
	})
	result.Navigation = &nav
	if !nav.Success {
		result.Error = nav.Error
		return o.finish(ctx, result, d)
	}

	for selector, value := range fields {
		typed := d.Dispatch(ctx, schemas.Action{
			Type:   schemas.ActionTypeText,
			Params: map[string]any{"selector": selector, "text": value},
		})
		if !typed.Success {
			result.Error = typed.Error
			return o.finish(ctx, result, d)
		}
	}

	if submitSelector == "" {
		submitSelector = schemas.DefaultSubmitSelector
	}
	clicked := d.Dispatch(ctx, schemas.Action{
		Type:   schemas.ActionClick,
		Params: map[string]any{"selector": submitSelector},
	})
	if !clicked.Success {
		result.Error = clicked.Error
		return o.finish(ctx, result, d)
	}

	if waitSelector != "" {
		wait := d.Dispatch(ctx, schemas.Action{
			Type:   schemas.ActionWait,
			Params: map[string]any{"selector": waitSelector},
		})
		if !wait.Success {
			result.Error = wait.Error
			return o.finish(ctx, result, d)
		}
	} else {
		o.settle(ctx)
	}

	html, pageURL, err := pageHTML(ctx, d)
	if err != nil {
		result.Error = err.Error()
		return o.finish(ctx, result, d)
	}

	extraction := o.extractByMode(ctx, html, pageURL, opts)
	result.Extraction = &extraction
	result.Success = extraction.Success
	if !extraction.Success {
		result.Error = extraction.Error
	}
	return o.finish(ctx, result, d)
}

// settle pauses briefly to let dynamic pages render after a navigation or
// submission.
func (o *Orchestrator) settle(ctx context.Context) {
	delay := o.cfg.Network.SettleDelay
	if delay <= 0 {
		return
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
