package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mpetrunic88/webrover/internal/config"
)

// Manager owns the browser process allocator and hands out per-tab Sessions.
// The underlying Chrome instance is launched lazily on the first session and
// torn down by Shutdown.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	initOnce    sync.Once
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a Manager. No browser process is started until the
// first NewSession call.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser"),
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) init() {
	m.initOnce.Do(func() {
		opts := allocatorOptions(m.cfg)
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		m.logger.Debug("Browser allocator initialized.",
			zap.Bool("headless", m.cfg.Headless),
			zap.Int("window_width", m.cfg.WindowWidth),
			zap.Int("window_height", m.cfg.WindowHeight))
	})
}

// allocatorOptions maps BrowserConfig onto chromedp exec allocator options.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	for _, arg := range cfg.Args {
		name, value := splitArg(arg)
		if name == "" {
			continue
		}
		if value == "" {
			opts = append(opts, chromedp.Flag(name, true))
		} else {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	return opts
}

// splitArg parses a raw command line argument ("--proxy-server=addr" or
// "--incognito") into a flag name and optional value.
func splitArg(arg string) (name, value string) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", ""
	}
	if i := strings.IndexByte(arg, '='); i >= 0 {
		return arg[:i], arg[i+1:]
	}
	return arg, ""
}

// NewSession opens a fresh browser tab and returns a Session bound to it.
// The session inherits the manager's allocator; closing the session closes
// only its tab.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is shut down")
	}
	m.mu.Unlock()

	m.init()

	id := uuid.NewString()
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx)

	// Launch the tab (and, on first use, the browser process) up front so
	// failures surface here instead of on the first action.
	startCtx, startCancel := CombineContext(tabCtx, ctx)
	err := chromedp.Run(startCtx)
	startCancel()
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	s := &Session{
		id:     id,
		cfg:    m.cfg,
		logger: m.logger.With(zap.String("session_id", id)),
		ctx:    tabCtx,
		cancel: tabCancel,
	}
	s.release = func() { m.forget(id) }

	// Shutdown may have started while the tab was launching; registering the
	// session now would leave it outside the shutdown snapshot.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		tabCancel()
		return nil, fmt.Errorf("browser manager is shut down")
	}
	m.sessions[id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	s.logger.Info("Browser session started.")
	return s, nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.wg.Done()
	}
}

// ActiveSessions returns the number of currently open sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every open session and stops the browser process. Safe to
// call more than once.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		_ = s.Close(ctx)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for sessions to close.")
	}

	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.logger.Info("Browser manager shut down.")
}
