package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/edgecomet/render-agent/internal/render/engine"
	"github.com/edgecomet/render-agent/pkg/types"
)

// commandTimeout bounds single housekeeping CDP commands
const commandTimeout = 2 * time.Second

// Session drives one tab on an owned Chrome instance
type Session struct {
	pool      *ChromePool
	instance  *ChromeInstance
	requestID string
	logger    *zap.Logger

	cfg            engine.SessionConfig
	tabCtx         context.Context
	tabCancel      context.CancelFunc
	proxyContextID cdp.BrowserContextID // Non-empty when a proxied browser context must be disposed

	mu           sync.Mutex
	loadURL      string
	loadCancel   context.CancelFunc
	scriptResult string
	closed       bool

	closeOnce sync.Once
}

var _ engine.Session = (*Session)(nil)

func newSession(pool *ChromePool, instance *ChromeInstance, requestID string) *Session {
	return &Session{
		pool:      pool,
		instance:  instance,
		requestID: requestID,
		logger: pool.logger.With(
			zap.String("request_id", requestID),
			zap.Int("instance_id", instance.ID)),
	}
}

// Configure opens the tab the session renders in.
// A proxy gets its own disposable browser context. Without useCookie the tab is
// isolated too; with it and no proxy the tab shares the instance cookie jar.
func (s *Session) Configure(cfg engine.SessionConfig) error {
	if s.tabCtx != nil {
		return errors.New("session already configured")
	}
	s.cfg = cfg

	switch {
	case cfg.Proxy != nil:
		id, err := s.createProxyContext(cfg.Proxy)
		if err != nil {
			return err
		}
		s.proxyContextID = id
		s.tabCtx, s.tabCancel = s.instance.NewTabInContext(id)
	case cfg.UseCookies:
		s.tabCtx, s.tabCancel = s.instance.NewTab()
	default:
		s.tabCtx, s.tabCancel = s.instance.NewIsolatedTab()
	}

	// First Run allocates the tab and must use the tab context itself
	if err := chromedp.Run(s.tabCtx, s.prepareTasks()); err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}

	s.logger.Debug("Session configured",
		zap.Bool("proxy", cfg.Proxy != nil),
		zap.Bool("use_cookies", cfg.UseCookies),
		zap.Bool("intercept", s.intercepts()))

	return nil
}

func (s *Session) createProxyContext(proxy *types.ProxySpec) (cdp.BrowserContextID, error) {
	ctx, cancel := context.WithTimeout(s.instance.ctx, commandTimeout)
	defer cancel()

	id, err := target.CreateBrowserContext().
		WithDisposeOnDetach(true).
		WithProxyServer(proxy.Server()).
		Do(s.instance.BrowserExecutor(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to create proxied browser context: %w", err)
	}
	return id, nil
}

// intercepts reports whether requests must pass through the fetch domain
func (s *Session) intercepts() bool {
	return s.cfg.PostBody != "" || (s.cfg.Proxy != nil && s.cfg.Proxy.HasCredentials()) || s.pool.blocklist.Enabled()
}

func (s *Session) prepareTasks() chromedp.Tasks {
	tasks := chromedp.Tasks{enableLifeCycle()}
	if !s.intercepts() {
		return tasks
	}

	interceptor := newInterceptor(s.cfg, s.pool.blocklist, s.logger)
	return append(tasks,
		chromedp.ActionFunc(func(ctx context.Context) error {
			chromedp.ListenTarget(ctx, func(event interface{}) {
				switch ev := event.(type) {
				case *fetch.EventRequestPaused:
					// Never block the event loop on CDP commands
					go interceptor.onRequestPaused(ctx, ev)
				case *fetch.EventAuthRequired:
					go interceptor.onAuthRequired(ctx, ev)
				}
			})
			return nil
		}),
		fetch.Enable().WithHandleAuthRequests(s.cfg.Proxy != nil && s.cfg.Proxy.HasCredentials()),
	)
}

// Load starts navigation in its own goroutine and returns at once
func (s *Session) Load(ctx context.Context, opts engine.LoadOptions) *engine.Completion {
	completion := engine.NewCompletion()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		completion.Resolve(fmt.Errorf("%w: %v", engine.ErrLoadFailed, ErrSessionClosed))
		return completion
	}
	if s.tabCtx == nil {
		completion.Resolve(fmt.Errorf("%w: %v", engine.ErrLoadFailed, ErrNotConfigured))
		return completion
	}

	loadCtx, cancel := context.WithCancel(s.tabCtx)
	stopAfter := context.AfterFunc(ctx, cancel)

	s.mu.Lock()
	s.loadURL = opts.URL
	s.loadCancel = cancel
	s.mu.Unlock()

	go func() {
		defer stopAfter()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Page load panicked", zap.Any("panic", r), zap.Stack("stack"))
				completion.Resolve(fmt.Errorf("%w: panic: %v", engine.ErrLoadFailed, r))
			}
		}()

		if err := chromedp.Run(loadCtx, s.loadTasks(opts)); err != nil {
			completion.Resolve(fmt.Errorf("%w: %v", engine.ErrLoadFailed, err))
			return
		}
		completion.Resolve(nil)
	}()

	return completion
}

func (s *Session) loadTasks(opts engine.LoadOptions) chromedp.Tasks {
	viewport := s.pool.config
	return chromedp.Tasks{
		emulation.SetUserAgentOverride(opts.UserAgent),
		emulation.SetDeviceMetricsOverride(int64(viewport.ViewportWidth), int64(viewport.ViewportHeight), 1.0, false),
		navigateAndWait(opts.URL),
		settle(opts.Settle),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if s.cfg.Script == "" {
				return nil
			}
			result, err := evaluateScript(ctx, s.cfg.Script)
			if err != nil {
				// Script errors never fail the render
				s.logger.Warn("Script evaluation failed",
					zap.String("url", opts.URL),
					zap.Error(err))
				return nil
			}
			s.mu.Lock()
			s.scriptResult = result
			s.mu.Unlock()
			return nil
		}),
	}
}

// Abort cancels the in-flight load and stops the page from loading further
func (s *Session) Abort() {
	s.mu.Lock()
	cancel := s.loadCancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	ctx, done := context.WithTimeout(s.tabCtx, commandTimeout)
	defer done()
	if err := chromedp.Run(ctx, page.StopLoading()); err != nil {
		s.logger.Debug("Failed to stop loading", zap.Error(err))
	}
}

// TextContent returns the serialized DOM
func (s *Session) TextContent() string {
	if s.tabCtx == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(s.tabCtx, s.pool.config.ExtractTimeout)
	defer cancel()

	var html string
	if err := chromedp.Run(ctx, extractHTML(&html)); err != nil {
		s.logger.Warn("Failed to extract HTML", zap.Error(err))
		return ""
	}
	return html
}

// ScriptResult returns the stringified script value, empty when no script ran
func (s *Session) ScriptResult() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scriptResult
}

// CurrentURL returns the main frame URL, falling back to the navigation target
func (s *Session) CurrentURL() string {
	s.mu.Lock()
	fallback := s.loadURL
	s.mu.Unlock()

	if s.tabCtx == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(s.tabCtx, commandTimeout)
	defer cancel()

	var location string
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil || location == "" || location == "about:blank" {
		return fallback
	}
	return location
}

// PDF prints the page with backgrounds
func (s *Session) PDF(ctx context.Context) ([]byte, error) {
	runCtx, cancel, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var buf []byte
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		buf = data
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("print to PDF: %w", err)
	}
	return buf, nil
}

// Image captures a PNG. Without size the full page is captured at the session viewport.
func (s *Session) Image(ctx context.Context, size *types.ImageSize) ([]byte, error) {
	runCtx, cancel, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var buf []byte
	var tasks chromedp.Tasks
	if size == nil {
		tasks = chromedp.Tasks{chromedp.FullScreenshot(&buf, 100)}
	} else {
		tasks = chromedp.Tasks{
			emulation.SetDeviceMetricsOverride(int64(size.Width), int64(size.Height), 1.0, false),
			chromedp.CaptureScreenshot(&buf),
		}
	}

	if err := chromedp.Run(runCtx, tasks); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// bind derives a tab context that follows ctx cancellation and deadline
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if s.tabCtx == nil {
		return nil, nil, ErrNotConfigured
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.tabCtx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(s.tabCtx)
	}
	stop := context.AfterFunc(ctx, cancel)

	return runCtx, func() {
		stop()
		cancel()
	}, nil
}

// Close closes the tab, disposes a proxied browser context and releases the instance
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.loadCancel != nil {
			s.loadCancel()
		}
		s.mu.Unlock()

		if s.tabCancel != nil {
			s.tabCancel()
		}

		if s.proxyContextID != "" {
			ctx, cancel := context.WithTimeout(s.instance.ctx, commandTimeout)
			err := target.DisposeBrowserContext(s.proxyContextID).Do(s.instance.BrowserExecutor(ctx))
			cancel()
			if err != nil {
				s.logger.Debug("Failed to dispose browser context", zap.Error(err))
			}
		}

		s.pool.release(s.instance)
	})
}

// enableLifeCycle enables page lifecycle events
func enableLifeCycle() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}

// navigateAndWait navigates and blocks until the load lifecycle event of that navigation.
// The caller bounds the wait through ctx.
func navigateAndWait(url string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		loaded := make(chan struct{})
		var once sync.Once
		var frameID cdp.FrameID
		var loaderID cdp.LoaderID
		var idsMu sync.Mutex

		listenerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Listen before navigating so a fast load is not missed
		var early []*page.EventLifecycleEvent
		chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
			e, ok := ev.(*page.EventLifecycleEvent)
			if !ok || e.Name != "load" {
				return
			}
			idsMu.Lock()
			defer idsMu.Unlock()
			if frameID == "" {
				early = append(early, e)
				return
			}
			if e.FrameID == frameID && e.LoaderID == loaderID {
				once.Do(func() { close(loaded) })
			}
		})

		fid, lid, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return errors.Join(ErrNavigateFailed, err)
		}
		if errorText != "" {
			return fmt.Errorf("%w: %s", ErrNavigateFailed, errorText)
		}

		idsMu.Lock()
		frameID, loaderID = fid, lid
		for _, e := range early {
			if e.FrameID == fid && e.LoaderID == lid {
				once.Do(func() { close(loaded) })
			}
		}
		early = nil
		idsMu.Unlock()

		select {
		case <-loaded:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// settle waits the requested period after load, honoring cancellation
func settle(d time.Duration) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// extractHTML extracts the page HTML with retry logic
func extractHTML(output *string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		var lastErr error

		for attempt := 0; attempt < 3; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(300 * time.Millisecond):
				case <-ctx.Done():
					return fmt.Errorf("%w: %v", ErrExtractHTML, ctx.Err())
				}
			}

			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				lastErr = err
				continue
			}

			html, err := dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			if err != nil {
				lastErr = err
				continue
			}

			*output = html
			return nil
		}

		return fmt.Errorf("%w after 3 attempts: %v", ErrExtractHTML, lastErr)
	}
}

// evaluateScript runs an expression and stringifies its value
func evaluateScript(ctx context.Context, script string) (string, error) {
	obj, exception, err := cdpruntime.Evaluate(script).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		Do(ctx)
	if err != nil {
		return "", err
	}
	if exception != nil {
		return "", fmt.Errorf("script exception: %s", exceptionText(exception))
	}
	return formatScriptValue(obj), nil
}
