package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpetrunic88/webrover/api/schemas"
	"github.com/mpetrunic88/webrover/internal/authflow"
	"github.com/mpetrunic88/webrover/internal/config"
	"github.com/mpetrunic88/webrover/internal/extract"
)

// scriptedBackend simulates a browser for workflow tests. Pages are keyed by
// URL; clicking the submit selector moves the browser to postSubmitURL.
type scriptedBackend struct {
	mu sync.Mutex

	pages         map[string]string
	currentURL    string
	postSubmitURL string
	navigateErr   error
	clickErr      error
	waitErr       error
	evalErr       error
	evalScripts   []string
	closeCount    int
}

func (b *scriptedBackend) Navigate(ctx context.Context, url string) (int, error) {
	if b.navigateErr != nil {
		return 0, b.navigateErr
	}
	b.mu.Lock()
	b.currentURL = url
	b.mu.Unlock()
	return 200, nil
}

func (b *scriptedBackend) Fill(ctx context.Context, selector, text string) error { return nil }

func (b *scriptedBackend) Click(ctx context.Context, selector string) error {
	if b.clickErr != nil {
		return b.clickErr
	}
	if b.postSubmitURL != "" {
		b.mu.Lock()
		b.currentURL = b.postSubmitURL
		b.mu.Unlock()
	}
	return nil
}

func (b *scriptedBackend) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return b.waitErr
}

func (b *scriptedBackend) Evaluate(ctx context.Context, script string, res any) error {
	b.mu.Lock()
	b.evalScripts = append(b.evalScripts, script)
	b.mu.Unlock()
	return b.evalErr
}

func (b *scriptedBackend) Content(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if html, ok := b.pages[b.currentURL]; ok {
		return html, nil
	}
	return "<html><body>default page</body></html>", nil
}

func (b *scriptedBackend) CurrentURL(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentURL, nil
}

func (b *scriptedBackend) Title(ctx context.Context) (string, error)         { return "", nil }
func (b *scriptedBackend) Screenshot(ctx context.Context, path string) error { return nil }

func (b *scriptedBackend) Cookies(ctx context.Context) (map[string]string, error) {
	return map[string]string{"sid": "tok"}, nil
}

func (b *scriptedBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closeCount++
	b.mu.Unlock()
	return nil
}

// mapFetcher serves HTML from a map, failing for unknown URLs.
type mapFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *mapFetcher) Fetch(ctx context.Context, url string) (string, int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if html, ok := f.pages[url]; ok {
		return html, 200, nil
	}
	return "", 404, fmt.Errorf("unexpected status 404 from %s", url)
}

// memoryStore records persistence calls.
type memoryStore struct {
	mu       sync.Mutex
	results  []schemas.WorkflowResult
	sessions map[string][]schemas.HistoryEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string][]schemas.HistoryEntry)}
}

func (s *memoryStore) SaveWorkflowResult(ctx context.Context, sessionID string, result *schemas.WorkflowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, *result)
	return nil
}

func (s *memoryStore) SaveHistory(ctx context.Context, sessionID string, entries []schemas.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = entries
	return nil
}

func (s *memoryStore) WorkflowResults(ctx context.Context, sessionID string) ([]schemas.WorkflowResult, error) {
	return nil, nil
}

func (s *memoryStore) Close() {}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Network.SettleDelay = time.Millisecond
	cfg.Network.WaitTimeout = 50 * time.Millisecond
	return cfg
}

func newTestOrchestrator(backend *scriptedBackend, fetcher schemas.Fetcher, store schemas.HistoryStore) *Orchestrator {
	cfg := testConfig()
	flow := authflow.New(time.Millisecond, 50*time.Millisecond, zap.NewNop())
	adapter := extract.NewAdapter(nil, zap.NewNop())
	factory := func(ctx context.Context) (schemas.Backend, error) { return backend, nil }
	return New(factory, flow, adapter, fetcher, store, cfg, zap.NewNop())
}

const catalogHTML = `<html><head><title>Catalog</title></head><body>
<div class="item"><span class="name">Sprocket</span></div>
<div class="item"><span class="name">Flange</span></div>
<a href="/next">Next</a>
</body></html>`

func TestNavigateAndExtract(t *testing.T) {
	backend := &scriptedBackend{pages: map[string]string{"https://shop.test/catalog": catalogHTML}}
	o := newTestOrchestrator(backend, nil, nil)

	res := o.NavigateAndExtract(context.Background(), "https://shop.test/catalog", ExtractOptions{})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, schemas.WorkflowNavigateExtract, res.Kind)
	assert.NotEmpty(t, res.ID)
	require.NotNil(t, res.Navigation)
	assert.True(t, res.Navigation.Success)
	require.NotNil(t, res.Extraction)
	assert.Equal(t, "Catalog", res.Extraction.Title)
	assert.Contains(t, res.Extraction.Text, "Sprocket")
	assert.Equal(t, 1, backend.closeCount, "workflow must close its session")

	log := o.Results()
	require.Len(t, log, 1)
	assert.Equal(t, res.ID, log[0].ID)
}

func TestNavigateAndExtractStructured(t *testing.T) {
	backend := &scriptedBackend{pages: map[string]string{"https://shop.test/catalog": catalogHTML}}
	o := newTestOrchestrator(backend, nil, nil)

	res := o.NavigateAndExtract(context.Background(), "https://shop.test/catalog", ExtractOptions{
		Mode: schemas.ModeStructured,
		Schema: &schemas.ExtractionSchema{
			BaseSelector: ".item",
			Fields:       []schemas.SchemaField{{Name: "name", Selector: ".name"}},
		},
	})

	require.True(t, res.Success, res.Error)
	require.Len(t, res.Extraction.Records, 2)
	assert.Equal(t, "Sprocket", res.Extraction.Records[0]["name"])
	assert.Equal(t, "Flange", res.Extraction.Records[1]["name"])
}

func TestNavigateAndExtractNavigationFailure(t *testing.T) {
	backend := &scriptedBackend{navigateErr: errors.New("net::ERR_CONNECTION_REFUSED")}
	o := newTestOrchestrator(backend, nil, nil)

	res := o.NavigateAndExtract(context.Background(), "https://down.test/", ExtractOptions{})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "ERR_CONNECTION_REFUSED")
	assert.Nil(t, res.Extraction)
	assert.Equal(t, 1, backend.closeCount, "session must close on the failure path too")
}

func TestLoginAndExtract(t *testing.T) {
	backend := &scriptedBackend{
		pages: map[string]string{
			"https://app.test/reports": "<html><head><title>Reports</title></head><body>Q3 numbers</body></html>",
		},
		postSubmitURL: "https://app.test/dashboard",
	}
	o := newTestOrchestrator(backend, nil, nil)

	res := o.LoginAndExtract(context.Background(),
		schemas.AuthConfig{LoginURL: "https://app.test/login"},
		schemas.Credential{Username: "admin", Password: "hunter2"},
		"https://app.test/reports", ExtractOptions{})

	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Authentication)
	assert.True(t, res.Authentication.Authenticated)
	require.NotNil(t, res.Extraction)
	assert.Equal(t, "Reports", res.Extraction.Title)
}

func TestLoginAndExtractAuthFailure(t *testing.T) {
	// Submit never moves off the login page, so the URL heuristic rejects it.
	backend := &scriptedBackend{postSubmitURL: ""}
	o := newTestOrchestrator(backend, nil, nil)

	res := o.LoginAndExtract(context.Background(),
		schemas.AuthConfig{LoginURL: "https://app.test/login"},
		schemas.Credential{Username: "admin", Password: "wrong"},
		"https://app.test/reports", ExtractOptions{})

	require.False(t, res.Success)
	require.NotNil(t, res.Authentication)
	assert.False(t, res.Authentication.Authenticated)
	assert.Contains(t, res.Error, "still on login page")
	assert.Nil(t, res.Extraction, "no extraction after failed login")
}

func TestInteractiveCrawl(t *testing.T) {
	backend := &scriptedBackend{pages: map[string]string{"https://shop.test/": catalogHTML}}
	o := newTestOrchestrator(backend, nil, nil)

	res := o.InteractiveCrawl(context.Background(), "https://shop.test/", []schemas.CrawlAction{
		{Type: schemas.ActionClick, Params: map[string]any{"selector": "#more"}, ExtractAfter: true},
		{Type: schemas.ActionEvaluate, Params: map[string]any{"script": "window.scrollTo(0, 99999)"}},
	})

	require.True(t, res.Success, res.Error)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[0].ActionResult.Success)
	require.NotNil(t, res.Steps[0].Extraction, "extract_after step must carry an extraction")
	assert.Nil(t, res.Steps[1].Extraction)
}

func TestInteractiveCrawlContinuesPastFailedStep(t *testing.T) {
	backend := &scriptedBackend{clickErr: errors.New("no such element")}
	o := newTestOrchestrator(backend, nil, nil)

	res := o.InteractiveCrawl(context.Background(), "https://shop.test/", []schemas.CrawlAction{
		{Type: schemas.ActionClick, Params: map[string]any{"selector": "#gone"}},
		{Type: schemas.ActionGetHTML},
	})

	require.False(t, res.Success)
	require.Len(t, res.Steps, 2, "crawl must run every step despite failures")
	assert.False(t, res.Steps[0].ActionResult.Success)
	assert.True(t, res.Steps[1].ActionResult.Success)
	assert.Contains(t, res.Error, "crawl steps failed")
}

func TestParallelExtract(t *testing.T) {
	fetcher := &mapFetcher{pages: map[string]string{
		"https://a.test/": "<html><head><title>A</title></head><body>alpha</body></html>",
		"https://b.test/": "<html><head><title>B</title></head><body>beta</body></html>",
		"https://c.test/": "<html><head><title>C</title></head><body>gamma</body></html>",
	}}
	o := newTestOrchestrator(&scriptedBackend{}, fetcher, nil)

	urls := []string{"https://a.test/", "https://missing.test/", "https://b.test/", "https://c.test/"}
	res := o.ParallelExtract(context.Background(), urls, ExtractOptions{})

	require.Len(t, res.Extractions, 4)

	t.Run("results keep input order", func(t *testing.T) {
		assert.Equal(t, "A", res.Extractions[0].Title)
		assert.Equal(t, "B", res.Extractions[2].Title)
		assert.Equal(t, "C", res.Extractions[3].Title)
	})

	t.Run("failures stay independent", func(t *testing.T) {
		assert.False(t, res.Success)
		assert.False(t, res.Extractions[1].Success)
		assert.Contains(t, res.Extractions[1].Error, "404")
		assert.True(t, res.Extractions[0].Success)
		assert.Contains(t, res.Error, "1 of 4 pages failed")
	})

	t.Run("every url is fetched", func(t *testing.T) {
		assert.Len(t, fetcher.calls, 4)
	})
}

func TestDynamicContentExtract(t *testing.T) {
	backend := &scriptedBackend{pages: map[string]string{"https://spa.test/": catalogHTML}}
	o := newTestOrchestrator(backend, nil, nil)

	t.Run("waits for the selector", func(t *testing.T) {
		res := o.DynamicContentExtract(context.Background(), "https://spa.test/", ".item", 0, ExtractOptions{})
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.Extraction.Text, "Sprocket")
	})

	t.Run("wait failure aborts extraction", func(t *testing.T) {
		backend.waitErr = errors.New("element did not appear")
		defer func() { backend.waitErr = nil }()

		res := o.DynamicContentExtract(context.Background(), "https://spa.test/", ".never", 0, ExtractOptions{})
		require.False(t, res.Success)
		assert.Nil(t, res.Extraction)
	})

	t.Run("scrolls the requested number of times", func(t *testing.T) {
		backend.evalScripts = nil

		res := o.DynamicContentExtract(context.Background(), "https://spa.test/", ".item", 3, ExtractOptions{})
		require.True(t, res.Success, res.Error)
		require.Len(t, backend.evalScripts, 3)
		for _, script := range backend.evalScripts {
			assert.Contains(t, script, "scrollTo")
		}
	})

	t.Run("scroll failure aborts extraction", func(t *testing.T) {
		backend.evalErr = errors.New("execution context destroyed")
		defer func() { backend.evalErr = nil }()

		res := o.DynamicContentExtract(context.Background(), "https://spa.test/", "", 2, ExtractOptions{})
		require.False(t, res.Success)
		assert.Nil(t, res.Extraction)
	})
}

func TestFormSubmitExtract(t *testing.T) {
	backend := &scriptedBackend{
		pages: map[string]string{
			"https://shop.test/search":  "<html><body>search form</body></html>",
			"https://shop.test/results": "<html><head><title>Results</title></head><body>3 hits</body></html>",
		},
		postSubmitURL: "https://shop.test/results",
	}
	o := newTestOrchestrator(backend, nil, nil)

	res := o.FormSubmitExtract(context.Background(), "https://shop.test/search",
		map[string]string{"input[name='q']": "sprocket"}, "button[type='submit']", "", ExtractOptions{})

	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Extraction)
	assert.Equal(t, "Results", res.Extraction.Title)
	assert.Equal(t, "https://shop.test/results", res.Extraction.URL,
		"extraction must use the post-submit URL")
}

func TestWorkflowPersistence(t *testing.T) {
	store := newMemoryStore()
	backend := &scriptedBackend{pages: map[string]string{"https://shop.test/": catalogHTML}}
	o := newTestOrchestrator(backend, nil, store)

	res := o.NavigateAndExtract(context.Background(), "https://shop.test/", ExtractOptions{})
	require.True(t, res.Success, res.Error)

	require.Len(t, store.results, 1)
	assert.Equal(t, res.ID, store.results[0].ID)

	history := store.sessions[res.ID]
	require.NotEmpty(t, history, "the action history must be persisted")
	assert.Equal(t, schemas.ActionNavigate, history[0].Action.Type)
}

func TestResultLogAccumulates(t *testing.T) {
	backend := &scriptedBackend{pages: map[string]string{}}
	o := newTestOrchestrator(backend, nil, nil)

	o.NavigateAndExtract(context.Background(), "https://one.test/", ExtractOptions{})
	o.NavigateAndExtract(context.Background(), "https://two.test/", ExtractOptions{})

	log := o.Results()
	require.Len(t, log, 2)
	assert.Equal(t, "https://one.test/", log[0].URL)
	assert.Equal(t, "https://two.test/", log[1].URL)
	assert.NotEqual(t, log[0].ID, log[1].ID)
}
