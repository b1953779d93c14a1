// internal/browser/agent.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/aviatools/unipix-etl/internal/auth"
	"github.com/aviatools/unipix-etl/internal/config"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// visibilityProbeTimeout bounds how long a Visible check may block. The probe
// is expected to run after the page has settled, so a short wait is enough.
const visibilityProbeTimeout = 2 * time.Second

// Agent drives a single browser tab over the Chrome DevTools Protocol. It
// implements auth.Agent. One Agent owns one browser process; running two
// sessions concurrently requires two Agents.
type Agent struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	cfg *config.BrowserConfig
	log *zap.Logger
}

var _ auth.Agent = (*Agent)(nil)

// NewAgent launches the browser process and opens a tab, verifying the
// browser responds before returning.
func NewAgent(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Agent, error) {
	a := &Agent{
		cfg: &cfg,
		log: logger.Named("browser"),
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, a.allocatorOptions()...)
	a.allocCtx = allocCtx
	a.allocCancel = allocCancel

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	a.tabCtx = tabCtx
	a.tabCancel = tabCancel

	// Confirm the browser is alive before handing the agent out.
	startCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		a.Close()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	a.log.Info("Browser launched",
		zap.Bool("headless", cfg.Headless),
		zap.Int("width", cfg.WindowWidth),
		zap.Int("height", cfg.WindowHeight))
	return a, nil
}

// allocatorOptions assembles the launch flags for the browser process.
func (a *Agent) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", a.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", a.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-gpu", a.cfg.Headless),
		chromedp.WindowSize(a.cfg.WindowWidth, a.cfg.WindowHeight),
		chromedp.UserAgent(userAgent),
	)

	// Custom arguments from the config file, "--name=value" or "--name".
	for _, arg := range a.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Required when running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	return opts
}

// run executes chromedp actions on the tab, bounded by the navigation
// timeout and the caller's context.
func (a *Agent) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(a.tabCtx, ctx)
	defer cancel()
	runCtx, timeoutCancel := context.WithTimeout(runCtx, a.cfg.NavigationTimeout)
	defer timeoutCancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the given URL in the tab.
func (a *Agent) Navigate(ctx context.Context, url string) error {
	a.log.Info("Navigating", zap.String("url", url))
	if err := a.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Type clears the element matched by the XPath selector and types text into it.
func (a *Agent) Type(ctx context.Context, selector, text string) error {
	err := a.run(ctx,
		chromedp.Clear(selector, chromedp.BySearch),
		chromedp.SendKeys(selector, text, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("typing into %q failed: %w", selector, err)
	}
	return nil
}

// Click activates the element matched by the XPath selector.
func (a *Agent) Click(ctx context.Context, selector string) error {
	if err := a.run(ctx, chromedp.Click(selector, chromedp.BySearch)); err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}
	return nil
}

// Visible reports whether the selector matches a currently visible element.
// The probe is bounded by a short timeout; an element that does not show up
// within it counts as absent.
func (a *Agent) Visible(ctx context.Context, selector string) bool {
	probeCtx, cancel := combineContext(a.tabCtx, ctx)
	defer cancel()
	probeCtx, timeoutCancel := context.WithTimeout(probeCtx, visibilityProbeTimeout)
	defer timeoutCancel()

	err := chromedp.Run(probeCtx, chromedp.WaitVisible(selector, chromedp.BySearch))
	return err == nil
}

// CurrentURL returns the URL of the page currently displayed in the tab.
func (a *Agent) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := a.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current location: %w", err)
	}
	return url, nil
}

// Cookies returns the cookies of the current browser context.
func (a *Agent) Cookies(ctx context.Context) ([]auth.Cookie, error) {
	var out []auth.Cookie
	err := a.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		out = make([]auth.Cookie, 0, len(cookies))
		for _, c := range cookies {
			out = append(out, auth.Cookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: c.Domain,
				Path:   c.Path,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to collect cookies: %w", err)
	}
	return out, nil
}

// StorageSnapshot enumerates localStorage and sessionStorage of the current
// page, preserving entry order.
func (a *Agent) StorageSnapshot(ctx context.Context) (auth.StorageSnapshot, error) {
	var persistent, session [][]string
	err := a.run(ctx,
		chromedp.Evaluate(`Object.entries(window.localStorage)`, &persistent),
		chromedp.Evaluate(`Object.entries(window.sessionStorage)`, &session),
	)
	if err != nil {
		return auth.StorageSnapshot{}, fmt.Errorf("failed to snapshot web storage: %w", err)
	}

	return auth.StorageSnapshot{
		Persistent: toEntries(persistent),
		Session:    toEntries(session),
	}, nil
}

func toEntries(pairs [][]string) []auth.StorageEntry {
	entries := make([]auth.StorageEntry, 0, len(pairs))
	for _, kv := range pairs {
		if len(kv) != 2 {
			continue
		}
		entries = append(entries, auth.StorageEntry{Key: kv[0], Value: kv[1]})
	}
	return entries
}

// Close shuts the tab and the browser process down.
func (a *Agent) Close() {
	if a.tabCancel != nil {
		a.tabCancel()
	}
	if a.allocCancel != nil {
		a.allocCancel()
	}
	a.log.Info("Browser closed")
}

// combineContext derives a context from parent that is additionally canceled
// when secondary ends. The parent carries the chromedp target, so it must be
// the derivation root.
func combineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
