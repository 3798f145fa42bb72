package aces

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/ilya1470/aces/config"
	"github.com/ilya1470/aces/utils"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrLoginFailed means the portal kept us on its login page.
var ErrLoginFailed = errors.New("aces: login failed")

// ClickAction is a pointer gesture the session can simulate on an element.
type ClickAction int

const (
	ClickSingle ClickAction = iota
	ClickParent
	ClickDouble
)

func (a ClickAction) String() string {
	switch a {
	case ClickSingle:
		return "click"
	case ClickParent:
		return "parent-click"
	case ClickDouble:
		return "double-click"
	default:
		return fmt.Sprintf("ClickAction(%d)", int(a))
	}
}

// Session is an authenticated browser tab on the portal. It is not safe for
// concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	// RunScript evaluates script in the page, awaiting it if it returns a
	// promise, and decodes the result into out (nil to discard).
	RunScript(ctx context.Context, script string, out any) error
	// Click scrolls the first element matching xpath into view and performs
	// action on it.
	Click(ctx context.Context, xpath string, action ClickAction) error
	Cookies(ctx context.Context) ([]*http.Cookie, error)
}

// Credentials are the portal account used for login.
type Credentials struct {
	Username string
	Password string
}

// ChromeSession drives a single headless Chrome tab through chromedp.
type ChromeSession struct {
	cfg    *config.Config
	logger *utils.Logger
	retry  *utils.RetryConfig

	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	downloadDir string
}

var _ Session = (*ChromeSession)(nil)

// NewChromeSession starts the browser and points its downloads at the
// configured download directory.
func NewChromeSession(cfg *config.Config, logger *utils.Logger) (*ChromeSession, error) {
	dir, err := filepath.Abs(cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("aces: resolve download dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("aces: create download dir: %w", err)
	}

	chromeBin := findChromeBinary(cfg.ChromeBin)
	logger.Info("[aces] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	// Suppress chromedp log noise
	tab, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	s := &ChromeSession{
		cfg:    cfg,
		logger: logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		tab:         tab,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		downloadDir: dir,
	}

	err = s.run(context.Background(), 60*time.Second,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).WithDownloadPath(dir),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("aces: start browser: %w", err)
	}
	return s, nil
}

// DownloadDir is the absolute directory the browser saves files into.
func (s *ChromeSession) DownloadDir() string { return s.downloadDir }

// run executes actions on the tab under timeout. Cancelling ctx aborts them
// without closing the tab.
func (s *ChromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Login submits the portal login form, retrying transient browser errors.
// A rejected login is not retried.
func (s *ChromeSession) Login(ctx context.Context, creds Credentials) error {
	s.logger.Info("[aces] Logging in as %s", creds.Username)
	return s.retry.Do(ctx, "login", func() error {
		err := s.login(ctx, creds)
		if errors.Is(err, ErrLoginFailed) {
			return utils.Permanent(err)
		}
		return err
	})
}

func (s *ChromeSession) login(ctx context.Context, creds Credentials) error {
	err := s.run(ctx, 60*time.Second,
		chromedp.Navigate(s.cfg.LoginURL()),
		chromedp.WaitVisible(`input[name="username"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="username"]`, creds.Username, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, creds.Password, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill login form: %w", err)
	}

	if err := s.run(ctx, s.cfg.ElementTimeout, chromedp.Click(`#loginSubmit`, chromedp.ByQuery)); err != nil {
		s.logger.Debug("[aces] No #loginSubmit button (%v), submitting the form instead", err)
		if err := s.run(ctx, s.cfg.ElementTimeout, chromedp.Submit(`input[name="password"]`, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("submit login form: %w", err)
		}
	}

	if err := sleep(ctx, s.cfg.LoginWait); err != nil {
		return err
	}

	loc, err := s.Location(ctx)
	if err != nil {
		return fmt.Errorf("read location after login: %w", err)
	}
	s.logger.Info("[aces] URL after login: %s", loc)
	return checkLoggedIn(loc)
}

// checkLoggedIn fails when the location still denotes the login page.
func checkLoggedIn(location string) error {
	if strings.Contains(location, "Login") {
		return fmt.Errorf("%w: still on %s", ErrLoginFailed, location)
	}
	return nil
}

func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, 60*time.Second, chromedp.Navigate(url))
}

func (s *ChromeSession) Location(ctx context.Context) (string, error) {
	var loc string
	err := s.run(ctx, 10*time.Second, chromedp.Location(&loc))
	return loc, err
}

func (s *ChromeSession) RunScript(ctx context.Context, script string, out any) error {
	return s.run(ctx, s.cfg.HTTPTimeout, chromedp.Evaluate(script, out, awaitPromise))
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func (s *ChromeSession) Click(ctx context.Context, xpath string, action ClickAction) error {
	var actions []chromedp.Action
	switch action {
	case ClickSingle:
		actions = []chromedp.Action{
			chromedp.ScrollIntoView(xpath, chromedp.BySearch),
			chromedp.Click(xpath, chromedp.BySearch),
		}
	case ClickParent:
		parent := xpath + "/.."
		actions = []chromedp.Action{
			chromedp.ScrollIntoView(parent, chromedp.BySearch),
			chromedp.Click(parent, chromedp.BySearch),
		}
	case ClickDouble:
		actions = []chromedp.Action{
			chromedp.ScrollIntoView(xpath, chromedp.BySearch),
			chromedp.DoubleClick(xpath, chromedp.BySearch),
		}
	default:
		return fmt.Errorf("aces: unknown click action %v", action)
	}
	return s.run(ctx, s.cfg.ElementTimeout, actions...)
}

func (s *ChromeSession) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   strings.TrimPrefix(c.Domain, "."),
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

// Close shuts the tab and the browser process.
func (s *ChromeSession) Close() {
	s.cancelTab()
	s.cancelAlloc()
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
