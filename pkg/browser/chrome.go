package browser

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"xharvest/pkg/config"
	"xharvest/pkg/credentials"
	"xharvest/pkg/errors"
	"xharvest/pkg/logger"
)

// ChromeEngine extracts session cookies by driving headless Chrome via
// the DevTools protocol
type ChromeEngine struct {
	cfg *config.Config
	log logger.Logger

	// readState reads the current page location and cookie jar;
	// swapped out in tests
	readState func(ctx context.Context) (string, map[string]string, error)
}

// NewChromeEngine creates a Chrome-backed extraction engine
func NewChromeEngine(cfg *config.Config) *ChromeEngine {
	return &ChromeEngine{
		cfg:       cfg,
		log:       logger.GetLogger(),
		readState: readPageState,
	}
}

// ExtractSession runs one isolated browser session for the credential:
// seed the auth_token cookie, load the target page, wait for the
// site's bootstrap to set ct0, and read back the cookie jar. The
// browser process and context are torn down on every exit path.
func (e *ChromeEngine) ExtractSession(ctx context.Context, cred credentials.Credential) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.cfg.Browser.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("window-size", "1280,800"),
		chromedp.UserAgent(e.cfg.Browser.UserAgent),
	)
	if e.cfg.Browser.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	if e.cfg.Browser.BinPath != "" {
		opts = append(opts, chromedp.ExecPath(e.cfg.Browser.BinPath))
	}

	// A fresh allocator per account means a fresh Chrome process with
	// its own profile, so no cookies leak between accounts.
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	if err := e.seedAndNavigate(tabCtx, cred); err != nil {
		return nil, err
	}

	return e.awaitBootstrap(tabCtx, cred)
}

// seedAndNavigate injects the auth_token cookie and loads the target
// page. A navigation that runs past its timeout is not fatal: the
// site's script may still finish setting cookies while we poll.
func (e *ChromeEngine) seedAndNavigate(tabCtx context.Context, cred credentials.Credential) error {
	navCtx, navCancel := context.WithTimeout(tabCtx, e.cfg.Harvest.NavTimeout)
	defer navCancel()

	err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookie(CookieAuthToken, cred.AuthToken).
				WithDomain(e.cfg.Target.CookieDomain).
				WithPath("/").
				WithHTTPOnly(true).
				WithSecure(true).
				WithSameSite(network.CookieSameSiteNone).
				Do(ctx)
		}),
		chromedp.Navigate(e.cfg.Target.URL),
	)
	if err == nil {
		return nil
	}

	if isLaunchError(err) {
		return errors.Wrap(errors.ErrorTypeBrowserLaunch, "start browser", err)
	}
	if navCtx.Err() == context.DeadlineExceeded && tabCtx.Err() == nil {
		e.log.WithField("username", cred.Username).Debug("navigation timed out, polling cookies anyway")
		return nil
	}
	return errors.Wrap(errors.ErrorTypeTimeout, "navigate to target", err)
}

// awaitBootstrap polls the cookie jar until ct0 appears, the page
// redirects to the login flow, or the bootstrap timeout elapses. The
// whole loop runs under its own deadline so a wedged tab cannot stall
// a readback call past the timeout.
func (e *ChromeEngine) awaitBootstrap(tabCtx context.Context, cred credentials.Credential) (*Session, error) {
	bootCtx, bootCancel := context.WithTimeout(tabCtx, e.cfg.Harvest.BootstrapTimeout)
	defer bootCancel()

	for {
		location, jar, err := e.readState(bootCtx)
		if err != nil {
			if tabCtx.Err() != nil {
				return nil, errors.Wrap(errors.ErrorTypeTimeout, "browser context closed during bootstrap wait", err)
			}
			if bootCtx.Err() != nil {
				return nil, errors.Wrap(errors.ErrorTypeTimeout, "bootstrap wait exceeded with the page unresponsive", err)
			}
			return nil, errors.Wrap(errors.ErrorTypeTimeout, "read cookie jar", err)
		}

		// A redirect to the login flow means the site rejected the token
		if e.cfg.Target.LoginPath != "" && strings.Contains(location, e.cfg.Target.LoginPath) {
			return nil, errors.New(errors.ErrorTypeInvalidToken, "redirected to login flow")
		}

		if session, ok := sessionFromJar(cred.Username, cred.AuthToken, jar); ok {
			e.log.WithFields(map[string]interface{}{
				"username": cred.Username,
				"cookies":  len(jar),
			}).Debug("bootstrap complete")
			return session, nil
		}

		select {
		case <-tabCtx.Done():
			return nil, errors.Wrap(errors.ErrorTypeTimeout, "bootstrap wait cancelled", tabCtx.Err())
		case <-bootCtx.Done():
			// Page kept answering but never produced a ct0: the
			// injected token was ignored rather than the wait being
			// too short.
			return nil, errors.New(errors.ErrorTypeInvalidToken, "no ct0 cookie after bootstrap wait")
		case <-time.After(e.cfg.Harvest.PollInterval):
		}
	}
}

// readPageState fetches the current location and visible cookies from
// the tab in one round trip
func readPageState(ctx context.Context) (string, map[string]string, error) {
	var location string
	var jar map[string]string
	err := chromedp.Run(ctx,
		chromedp.Location(&location),
		readCookieJar(&jar),
	)
	return location, jar, err
}

// readCookieJar reads all cookies visible to the current page into a
// name→value map
func readCookieJar(jar *map[string]string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		m := make(map[string]string, len(cookies))
		for _, c := range cookies {
			m[c.Name] = c.Value
		}
		*jar = m
		return nil
	})
}

// isLaunchError reports whether an error came from failing to start
// the browser process rather than from driving it
func isLaunchError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"executable file not found",
		"fork/exec",
		"exec: no command",
		"chrome failed to start",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
