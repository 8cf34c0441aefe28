package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mowaffer/grocery-scraper/internal/scraper"
)

// BrowserConfig holds the process-wide browser settings.
type BrowserConfig struct {
	Headless      bool
	UserAgent     string
	NavTimeout    time.Duration
	ProxyServer   string
	ProxyUsername string
	ProxyPassword string

	// DomainQPS is a hard per-domain navigation budget, independent of
	// the randomized pacing policy. It guards against an extractor bug
	// issuing rapid navigations. Zero disables it.
	DomainQPS float64
}

// Browser owns one headless Chrome process and opens per-domain tab
// sessions from it. It implements Opener.
type Browser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	cfg           BrowserConfig
	logger        *zap.Logger
}

// NewBrowser launches Chrome and warms up the browser context.
func NewBrowser(ctx context.Context, cfg BrowserConfig, logger *zap.Logger) (*Browser, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.NoSandbox,
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyServer))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chrome warmup: %w", err)
	}

	return &Browser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		cfg:           cfg,
		logger:        logger,
	}, nil
}

// Open creates a fresh tab session for the domain.
func (b *Browser) Open(_ context.Context, domain string) (scraper.Session, error) {
	if b.browserCtx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", scraper.ErrBrowserUnavailable, b.browserCtx.Err())
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)

	sess := &chromeSession{
		domain:     domain,
		tabCtx:     tabCtx,
		tabCancel:  tabCancel,
		navTimeout: b.cfg.NavTimeout,
		logger:     b.logger.With(zap.String("domain", domain)),
	}
	if b.cfg.DomainQPS > 0 {
		sess.budget = rate.NewLimiter(rate.Limit(b.cfg.DomainQPS), 1)
	}
	sess.listen()

	actions := []chromedp.Action{network.Enable()}
	if b.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(b.cfg.UserAgent))
	}
	if b.cfg.ProxyUsername != "" {
		sess.proxyUser = b.cfg.ProxyUsername
		sess.proxyPass = b.cfg.ProxyPassword
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		tabCancel()
		if b.browserCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", scraper.ErrBrowserUnavailable, err)
		}
		return nil, fmt.Errorf("open tab for %q: %w", domain, err)
	}
	return sess, nil
}

// Close tears down the browser and allocator. Call after the session pool
// has released its tabs.
func (b *Browser) Close() {
	b.browserCancel()
	b.allocCancel()
}

// chromeSession is a single long-lived tab bound to one domain.
type chromeSession struct {
	domain     string
	tabCtx     context.Context
	tabCancel  context.CancelFunc
	navTimeout time.Duration
	budget     *rate.Limiter
	logger     *zap.Logger

	proxyUser string
	proxyPass string

	mu           sync.Mutex
	lastActivity time.Time
	captures     []*capture
}

func (s *chromeSession) Domain() string { return s.domain }

func (s *chromeSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *chromeSession) Touch(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.After(s.lastActivity) {
		s.lastActivity = at
	}
}

// Close releases the tab. Called by the pool on ReleaseAll.
func (s *chromeSession) Close() {
	s.tabCancel()
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if s.budget != nil {
		if err := s.budget.Wait(ctx); err != nil {
			return fmt.Errorf("navigation budget: %w", err)
		}
	}
	s.logger.Debug("navigating", zap.String("url", url))
	if err := s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) WaitVisible(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (s *chromeSession) ScrollToBottom(ctx context.Context) error {
	err := s.run(ctx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
	if err != nil {
		return fmt.Errorf("scroll to bottom: %w", err)
	}
	return nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return "", fmt.Errorf("text %q: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

// QueryText checks for the selector with an immediate querySelector,
// never waiting for the node to appear. Text is waiting; loops that
// check for optional markers must use this instead.
func (s *chromeSession) QueryText(ctx context.Context, selector string) (string, bool, error) {
	expr := fmt.Sprintf(
		`(() => { const n = document.querySelector(%q); return {found: n !== null, text: n?.textContent ?? ""}; })()`,
		selector)
	var res struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}
	if err := s.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return "", false, fmt.Errorf("query text %q: %w", selector, err)
	}
	return strings.TrimSpace(res.Text), res.Found, nil
}

// run executes chromedp actions on the tab under the navigation timeout,
// honoring cancellation of the caller's context.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.tabCtx, s.navTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(taskCtx, actions...)
}

// forwardCancel cancels the task when the parent context finishes.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// listen installs the single target listener that dispatches network
// events to active captures and answers proxy auth challenges.
func (s *chromeSession) listen() {
	chromedp.ListenTarget(s.tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			s.eachCapture(func(c *capture) { c.onResponse(e) })
		case *network.EventLoadingFinished:
			s.eachCapture(func(c *capture) { c.onLoadingFinished(e.RequestID) })
		case *fetch.EventAuthRequired:
			go s.answerAuth(e)
		case *fetch.EventRequestPaused:
			go s.continueRequest(e)
		}
	})
}

func (s *chromeSession) eachCapture(fn func(*capture)) {
	s.mu.Lock()
	captures := make([]*capture, len(s.captures))
	copy(captures, s.captures)
	s.mu.Unlock()
	for _, c := range captures {
		fn(c)
	}
}

func (s *chromeSession) answerAuth(ev *fetch.EventAuthRequired) {
	exec := s.executor()
	err := fetch.ContinueWithAuth(ev.RequestID, &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: s.proxyUser,
		Password: s.proxyPass,
	}).Do(exec)
	if err != nil {
		s.logger.Warn("proxy auth response failed", zap.Error(err))
	}
}

func (s *chromeSession) continueRequest(ev *fetch.EventRequestPaused) {
	if err := fetch.ContinueRequest(ev.RequestID).Do(s.executor()); err != nil {
		s.logger.Debug("continue request failed", zap.Error(err))
	}
}

func (s *chromeSession) executor() context.Context {
	c := chromedp.FromContext(s.tabCtx)
	return cdp.WithExecutor(s.tabCtx, c.Target)
}

// CaptureResponses starts collecting responses whose URL contains
// urlFragment. The returned capture must be stopped by the caller.
func (s *chromeSession) CaptureResponses(urlFragment string) scraper.ResponseCapture {
	c := &capture{
		sess:     s,
		fragment: urlFragment,
		pending:  make(map[network.RequestID]pendingResponse),
		fetchBody: func(id network.RequestID) ([]byte, error) {
			return network.GetResponseBody(id).Do(s.executor())
		},
	}
	s.mu.Lock()
	s.captures = append(s.captures, c)
	s.mu.Unlock()
	return c
}

func (s *chromeSession) removeCapture(c *capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.captures {
		if existing == c {
			s.captures = append(s.captures[:i], s.captures[i+1:]...)
			return
		}
	}
}

type pendingResponse struct {
	url    string
	status int
}

// capture accumulates matching responses. Bodies are fetched once loading
// finishes, when the CDP guarantees their availability.
type capture struct {
	sess      *chromeSession
	fragment  string
	fetchBody func(network.RequestID) ([]byte, error)

	mu      sync.Mutex
	stopped bool
	pending map[network.RequestID]pendingResponse
	done    []scraper.CapturedResponse
}

func (c *capture) onResponse(ev *network.EventResponseReceived) {
	if !strings.Contains(ev.Response.URL, c.fragment) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.pending[ev.RequestID] = pendingResponse{
		url:    ev.Response.URL,
		status: int(ev.Response.Status),
	}
}

func (c *capture) onLoadingFinished(id network.RequestID) {
	c.mu.Lock()
	meta, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	stopped := c.stopped
	c.mu.Unlock()
	if !ok || stopped {
		return
	}

	// The body fetch is a CDP command and this method runs on the
	// listener goroutine, which also completes command responses.
	// Issuing the command inline would deadlock the tab.
	go func() {
		body, err := c.fetchBody(id)
		if err != nil {
			c.sess.logger.Debug("response body fetch failed",
				zap.String("url", meta.url), zap.Error(err))
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopped {
			return
		}
		c.done = append(c.done, scraper.CapturedResponse{
			URL:    meta.url,
			Status: meta.status,
			Body:   body,
		})
	}()
}

// Responses returns everything captured so far.
func (c *capture) Responses() []scraper.CapturedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]scraper.CapturedResponse, len(c.done))
	copy(out, c.done)
	return out
}

// Stop detaches the capture from the session.
func (c *capture) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.sess.removeCapture(c)
}
