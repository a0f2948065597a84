package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mpetrunic88/webrover/internal/config"
)

// Session is one browser tab. It implements schemas.Backend: every method
// runs on the tab's context chain while honoring the caller's deadline, and
// Close is idempotent.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	release func()

	closeOnce sync.Once
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// run executes chromedp actions on the tab, canceled early if the caller's
// context expires.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL and returns the HTTP status of the main document
// response. Same-document navigations produce no network response and are
// reported as 200.
func (s *Session) Navigate(ctx context.Context, url string) (int, error) {
	s.logger.Debug("Navigating.", zap.String("url", url))

	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return 0, fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if resp == nil {
		return 200, nil
	}
	return int(resp.Status), nil
}

// Fill clears the element matching the selector and types text into it.
func (s *Session) Fill(ctx context.Context, selector, text string) error {
	s.logger.Debug("Filling element.", zap.String("selector", selector))
	err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to fill %q: %w", selector, err)
	}
	return nil
}

// Click clicks the first element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Clicking element.", zap.String("selector", selector))
	err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

// WaitFor blocks until the selector matches a visible element or the timeout
// elapses.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	s.logger.Debug("Waiting for element.",
		zap.String("selector", selector), zap.Duration("timeout", timeout))

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q did not appear within %s: %w", selector, timeout, err)
	}
	return nil
}

// Evaluate runs a JavaScript expression in the page. The result is
// unmarshaled into res when res is non-nil, discarded otherwise.
func (s *Session) Evaluate(ctx context.Context, script string, res any) error {
	s.logger.Debug("Evaluating script.", zap.Int("script_length", len(script)))
	if err := s.run(ctx, chromedp.Evaluate(script, res)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// Content returns the serialized HTML of the current document.
func (s *Session) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// CurrentURL returns the page URL as the browser sees it.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return url, nil
}

// Title returns the current document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read page title: %w", err)
	}
	return title, nil
}

// Screenshot captures the full page as PNG and writes it to path, creating
// parent directories as needed.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	s.logger.Debug("Capturing screenshot.", zap.String("path", path))

	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return fmt.Errorf("screenshot capture failed: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create screenshot directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

// Cookies returns the tab's cookies as a name->value map.
func (s *Session) Cookies(ctx context.Context) (map[string]string, error) {
	cookies := make(map[string]string)
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cs, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cs {
			cookies[c.Name] = c.Value
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

// Close releases the tab. It is safe to call multiple times and after any
// failed operation; subsequent calls are no-ops.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing browser session.")
		s.cancel()
		if s.release != nil {
			s.release()
		}
	})
	return nil
}
