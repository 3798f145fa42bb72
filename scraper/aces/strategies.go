package aces

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/ilya1470/aces/config"
	"github.com/ilya1470/aces/utils"
)

// Strategy names, as recorded in the ledger.
const (
	StrategyClickExact    = "click-exact"
	StrategyClickContains = "click-contains"
	StrategyScriptTrigger = "script-trigger"
	StrategyHTTPProbe     = "http-probe"
	StrategyBrowserFetch  = "browser-fetch"
)

const (
	minSniffBytes   = 100
	sniffWindow     = 1024
	maxPayloadBytes = 64 << 20
)

// downloadTemplates are guesses at the portal's download endpoints. %s is
// the escaped filename.
var downloadTemplates = []string{
	"/api/files/download/%s",
	"/api/download?file=%s",
	"/download/%s",
	"/files/%s",
	"/api/v1/files/%s",
}

// DefaultStrategies returns the cascade order used in production.
func DefaultStrategies(cfg *config.Config, session Session, watcher *ArtifactWatcher, logger *utils.Logger) []Strategy {
	return []Strategy{
		NewDirectClick(StrategyClickExact, session, watcher, exactTextXPath, logger),
		NewDirectClick(StrategyClickContains, session, watcher, containsTextXPath, logger),
		NewScriptTrigger(session, watcher),
		NewHTTPProbe(session, cfg.BaseURL, cfg.HTTPTimeout, cfg.ProbeRPS, logger),
		NewBrowserFetch(session, cfg.BaseURL, logger),
	}
}

// DirectClick locates the element naming the file and escalates pointer
// gestures on it until a download appears.
type DirectClick struct {
	name    string
	session Session
	watcher *ArtifactWatcher
	xpath   func(filename string) string
	logger  *utils.Logger
}

// NewDirectClick builds a click strategy that finds its target with xpath.
func NewDirectClick(name string, session Session, watcher *ArtifactWatcher, xpath func(string) string, logger *utils.Logger) *DirectClick {
	return &DirectClick{name: name, session: session, watcher: watcher, xpath: xpath, logger: logger}
}

func (d *DirectClick) Name() string { return d.name }

func (d *DirectClick) Acquire(ctx context.Context, filename string) ([]byte, error) {
	xp := d.xpath(filename)
	var lastErr error
	for _, action := range []ClickAction{ClickSingle, ClickParent, ClickDouble} {
		data, err := d.watcher.Capture(ctx, filename, func(ctx context.Context) error {
			return d.session.Click(ctx, xp, action)
		})
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Debug("[%s] %s: %v on %s: %v", d.name, filename, action, xp, err)
		lastErr = err
	}
	return nil, lastErr
}

func exactTextXPath(filename string) string {
	return "(//*[normalize-space(text())=" + xpathLiteral(filename) + "])[1]"
}

func containsTextXPath(filename string) string {
	return "(//*[contains(text(), " + xpathLiteral(filename) + ")])[1]"
}

// xpathLiteral quotes s for use inside an XPath 1.0 expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

// ScriptTrigger activates the file's element from inside the page, which
// also reaches rows a pointer cannot (off-screen virtualized rows).
type ScriptTrigger struct {
	session Session
	watcher *ArtifactWatcher
}

func NewScriptTrigger(session Session, watcher *ArtifactWatcher) *ScriptTrigger {
	return &ScriptTrigger{session: session, watcher: watcher}
}

func (s *ScriptTrigger) Name() string { return StrategyScriptTrigger }

func (s *ScriptTrigger) Acquire(ctx context.Context, filename string) ([]byte, error) {
	return s.watcher.Capture(ctx, filename, func(ctx context.Context) error {
		var found bool
		if err := s.session.RunScript(ctx, triggerScript(filename), &found); err != nil {
			return fmt.Errorf("trigger script: %w", err)
		}
		if !found {
			return fmt.Errorf("no element names %s", filename)
		}
		return nil
	})
}

// urlCandidates builds the ordered list of URLs a file might be served
// from: links exposed by its listing row first, then the guessed templates.
type urlCandidates struct {
	session Session
	baseURL string
	logger  *utils.Logger
}

func (u *urlCandidates) list(ctx context.Context, filename string) []string {
	base, err := url.Parse(u.baseURL + "/")
	if err != nil {
		u.logger.Warn("[probe] bad base URL %q: %v", u.baseURL, err)
		return nil
	}

	set := utils.NewStringSet()

	var links []string
	if err := u.session.RunScript(ctx, rowLinksScript(filename), &links); err != nil {
		u.logger.Debug("[probe] %s: could not read row links: %v", filename, err)
	}
	for _, l := range links {
		ref, err := url.Parse(strings.TrimSpace(l))
		if err != nil {
			continue
		}
		set.Add(base.ResolveReference(ref).String())
	}
	if len(links) > 0 {
		u.logger.Info("[probe] %s: found %d link(s) on the listing row", filename, len(links))
	}

	for _, tpl := range downloadTemplates {
		escaped := url.PathEscape(filename)
		if strings.Contains(tpl, "?") {
			escaped = url.QueryEscape(filename)
		}
		ref, err := url.Parse(fmt.Sprintf(strings.TrimPrefix(tpl, "/"), escaped))
		if err != nil {
			continue
		}
		set.Add(base.ResolveReference(ref).String())
	}
	return set.Items()
}

// HTTPProbe reuses the browser's cookies in a plain HTTP client and tries
// each candidate URL.
type HTTPProbe struct {
	session Session
	urls    *urlCandidates
	timeout time.Duration
	limiter *rate.Limiter
	logger  *utils.Logger
}

// NewHTTPProbe builds a probe against baseURL issuing at most rps requests
// per second.
func NewHTTPProbe(session Session, baseURL string, timeout time.Duration, rps float64, logger *utils.Logger) *HTTPProbe {
	return &HTTPProbe{
		session: session,
		urls:    &urlCandidates{session: session, baseURL: baseURL, logger: logger},
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

func (p *HTTPProbe) Name() string { return StrategyHTTPProbe }

func (p *HTTPProbe) Acquire(ctx context.Context, filename string) ([]byte, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	candidates := p.urls.list(ctx, filename)
	for _, u := range candidates {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		p.logger.Debug("[probe] Trying %s", u)
		data, err := p.fetch(ctx, client, u, filename)
		if err != nil {
			p.logger.Debug("[probe] %s: %v", u, err)
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("none of %d candidate URLs served %s", len(candidates), filename)
}

func (p *HTTPProbe) client(ctx context.Context) (*http.Client, error) {
	cookies, err := p.session.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("read session cookies: %w", err)
	}
	p.logger.Debug("[probe] Got %d cookies", len(cookies))

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	base, err := url.Parse(p.urls.baseURL + "/")
	if err != nil {
		return nil, fmt.Errorf("base URL: %w", err)
	}
	jar.SetCookies(base, cookies)

	return &http.Client{Jar: jar, Timeout: p.timeout}, nil
}

func (p *HTTPProbe) fetch(ctx context.Context, client *http.Client, u, filename string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !acceptPayload(filename, resp.Header.Get("Content-Type"), resp.Header.Get("Content-Disposition"), body) {
		return nil, fmt.Errorf("response (%d bytes, %q) is not the file", len(body), resp.Header.Get("Content-Type"))
	}
	return body, nil
}

// BrowserFetch issues the same candidate requests from inside the page so
// they carry the page's cookies and origin.
type BrowserFetch struct {
	session Session
	urls    *urlCandidates
	logger  *utils.Logger
}

func NewBrowserFetch(session Session, baseURL string, logger *utils.Logger) *BrowserFetch {
	return &BrowserFetch{
		session: session,
		urls:    &urlCandidates{session: session, baseURL: baseURL, logger: logger},
		logger:  logger,
	}
}

func (b *BrowserFetch) Name() string { return StrategyBrowserFetch }

func (b *BrowserFetch) Acquire(ctx context.Context, filename string) ([]byte, error) {
	candidates := b.urls.list(ctx, filename)
	for _, u := range candidates {
		var res fetchResult
		if err := b.session.RunScript(ctx, fetchScript(u), &res); err != nil {
			b.logger.Debug("[fetch] %s: %v", u, err)
			continue
		}
		if res.Error != "" || res.Status != http.StatusOK {
			b.logger.Debug("[fetch] %s: status %d %s", u, res.Status, res.Error)
			continue
		}
		body, err := base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			b.logger.Debug("[fetch] %s: decode body: %v", u, err)
			continue
		}
		if !acceptPayload(filename, res.ContentType, res.Disposition, body) {
			b.logger.Debug("[fetch] %s: response is not the file", u)
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("none of %d candidate URLs served %s in-page", len(candidates), filename)
}

// acceptPayload decides whether a response is the requested file. Headers
// win when they say so; otherwise the body must look like CSV text.
func acceptPayload(filename, contentType, disposition string, body []byte) bool {
	if len(body) == 0 {
		return false
	}
	if strings.Contains(strings.ToLower(contentType), "csv") || strings.Contains(disposition, filename) {
		return true
	}
	return looksTabular(body)
}

// looksTabular reports whether body is larger than minSniffBytes and its
// first KiB starts with a comma-delimited line rather than markup.
func looksTabular(body []byte) bool {
	if len(body) <= minSniffBytes {
		return false
	}
	head := body
	if len(head) > sniffWindow {
		head = head[:sniffWindow]
	}
	head = bytes.TrimLeft(head, "\xef\xbb\xbf \t\r\n")
	if len(head) == 0 || head[0] == '<' || head[0] == '{' || head[0] == '[' {
		return false
	}
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	return bytes.IndexByte(line, ',') > 0
}
