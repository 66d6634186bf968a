// Package portal executes the fixed billing-portal workflow:
// authenticate, dismiss interstitials, follow a popup window when the
// site opens one, set the date-range filter, trigger the export, and
// hand back the downloaded file path. Selector fallback chains keep the
// workflow degrading loudly instead of hanging when the markup shifts.
package portal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tollsync/internal/browser"
)

// Automator is the subset of the browser engine the driver needs. The
// engine is swappable; tests provide a scripted fake.
type Automator interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, sel browser.Selector, timeout time.Duration) error
	Fill(ctx context.Context, sel browser.Selector, text string) error
	Click(ctx context.Context, sel browser.Selector) error
	Screenshot(ctx context.Context, path string) error
	Pages(ctx context.Context) ([]string, error)
	ActivatePage(ctx context.Context, id string) error
	ExpectDownload() browser.Waiter
}

// ScreenshotFunc captures a diagnostic screenshot for a failed step.
// The orchestrator can no-op it in tests.
type ScreenshotFunc func(ctx context.Context, step string) string

// StepError is a fatal, non-retryable workflow failure: every selector
// of a mandatory step's fallback chain timed out.
type StepError struct {
	Step           string
	Attempted      []string
	ScreenshotPath string
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("portal: step %s exhausted selector chain [%s]",
		e.Step, strings.Join(e.Attempted, ", "))
	if e.ScreenshotPath != "" {
		msg += " (screenshot: " + e.ScreenshotPath + ")"
	}
	return msg
}

// Params identifies one export request.
type Params struct {
	SubjectID        string
	CredentialSecret string
	RangeStart       time.Time
	RangeEnd         time.Time
}

// Config carries the driver's workflow settings.
type Config struct {
	BaseURL string
	// Timeout for individual fallback attempts. Dialog dismissal uses
	// a fraction of it since absence of the dialog is normal.
	StepTimeout time.Duration
	// How long to poll for a popup page after opening the export screen.
	PopupWait time.Duration
}

// Driver runs the portal session for one invocation.
type Driver struct {
	engine     Automator
	cfg        Config
	logger     *slog.Logger
	screenshot ScreenshotFunc
}

// NewDriver wires a driver. screenshot may be nil to disable diagnostic
// capture.
func NewDriver(engine Automator, cfg Config, logger *slog.Logger, screenshot ScreenshotFunc) *Driver {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Second
	}
	if cfg.PopupWait <= 0 {
		cfg.PopupWait = 5 * time.Second
	}
	return &Driver{
		engine:     engine,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "portal_driver")),
		screenshot: screenshot,
	}
}

// FetchExport runs the full workflow and returns the absolute path of
// the downloaded export file. Any returned error is fatal for the run.
func (d *Driver) FetchExport(ctx context.Context, params Params) (string, error) {
	d.logger.InfoContext(ctx, "starting portal session",
		slog.String("subject", params.SubjectID),
		slog.String("range_start", params.RangeStart.Format("2006-01-02")),
		slog.String("range_end", params.RangeEnd.Format("2006-01-02")))

	if err := d.engine.Navigate(ctx, d.cfg.BaseURL); err != nil {
		return "", fmt.Errorf("portal: failed to open login page: %w", err)
	}

	if err := d.fillChain(ctx, loginUserChain, params.SubjectID); err != nil {
		return "", err
	}
	if err := d.fillChain(ctx, loginSecretChain, params.CredentialSecret); err != nil {
		return "", err
	}
	if err := d.clickChain(ctx, loginSubmitChain); err != nil {
		return "", err
	}

	// Post-login interstitial is optional; its absence is not an error.
	d.dismissOptionalDialog(ctx)

	before, err := d.engine.Pages(ctx)
	if err != nil {
		return "", fmt.Errorf("portal: failed to enumerate pages: %w", err)
	}

	if err := d.clickChain(ctx, reportsMenuChain); err != nil {
		return "", err
	}

	if err := d.followPopup(ctx, before); err != nil {
		return "", err
	}

	if err := d.fillChain(ctx, dateFromChain, params.RangeStart.Format("02/01/2006")); err != nil {
		return "", err
	}
	if err := d.fillChain(ctx, dateToChain, params.RangeEnd.Format("02/01/2006")); err != nil {
		return "", err
	}
	if err := d.clickChain(ctx, filterApplyChain); err != nil {
		return "", err
	}

	waiter := d.engine.ExpectDownload()
	if err := d.clickChain(ctx, exportChain); err != nil {
		return "", err
	}

	path, err := waiter.Wait(ctx)
	if err != nil {
		if browser.IsTimeout(err) {
			shot := d.capture(ctx, "export.download")
			return "", &StepError{Step: "export.download", Attempted: []string{"awaitDownload"}, ScreenshotPath: shot}
		}
		return "", fmt.Errorf("portal: download failed: %w", err)
	}

	d.logger.InfoContext(ctx, "export downloaded", slog.String("path", path))
	return path, nil
}

// dismissOptionalDialog tries the dialog chain with a short timeout and
// swallows the failure when no dialog is present.
func (d *Driver) dismissOptionalDialog(ctx context.Context) {
	timeout := d.cfg.StepTimeout / 4
	if timeout < time.Second {
		timeout = time.Second
	}
	for _, sel := range dismissDialogChain.Selectors {
		if err := d.engine.WaitVisible(ctx, sel, timeout); err != nil {
			continue
		}
		if err := d.engine.Click(ctx, sel); err == nil {
			d.logger.InfoContext(ctx, "dismissed interstitial dialog",
				slog.String("selector", sel.String()))
		}
		return
	}
	d.logger.DebugContext(ctx, "no interstitial dialog present")
}

// followPopup polls for a newly opened page and switches to it. A single
// page is also valid; only enumeration failures are errors.
func (d *Driver) followPopup(ctx context.Context, before []string) error {
	known := make(map[string]bool, len(before))
	for _, id := range before {
		known[id] = true
	}

	deadline := time.Now().Add(d.cfg.PopupWait)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		pages, err := d.engine.Pages(ctx)
		if err != nil {
			return fmt.Errorf("portal: failed to poll pages: %w", err)
		}

		// The most recently opened unknown page wins.
		for i := len(pages) - 1; i >= 0; i-- {
			if !known[pages[i]] {
				d.logger.InfoContext(ctx, "following popup page",
					slog.String("target_id", pages[i]))
				if err := d.engine.ActivatePage(ctx, pages[i]); err != nil {
					return fmt.Errorf("portal: failed to switch to popup: %w", err)
				}
				return nil
			}
		}

		time.Sleep(250 * time.Millisecond)
	}

	d.logger.DebugContext(ctx, "no popup opened, staying on current page")
	return nil
}

// fillChain runs the fallback chain for an input step.
func (d *Driver) fillChain(ctx context.Context, chain Chain, value string) error {
	return d.runChain(ctx, chain, func(sel browser.Selector) error {
		return d.engine.Fill(ctx, sel, value)
	})
}

// clickChain runs the fallback chain for a click step.
func (d *Driver) clickChain(ctx context.Context, chain Chain) error {
	return d.runChain(ctx, chain, func(sel browser.Selector) error {
		return d.engine.Click(ctx, sel)
	})
}

// runChain tries each selector in order. A timeout advances to the next
// selector; any other failure is fatal immediately. Exhaustion captures
// a screenshot and returns a StepError.
func (d *Driver) runChain(ctx context.Context, chain Chain, do func(browser.Selector) error) error {
	attempted := make([]string, 0, len(chain.Selectors))

	for _, sel := range chain.Selectors {
		if err := ctx.Err(); err != nil {
			return err
		}

		attempted = append(attempted, sel.String())
		err := do(sel)
		if err == nil {
			d.logger.DebugContext(ctx, "step succeeded",
				slog.String("step", chain.Step),
				slog.String("selector", sel.String()))
			return nil
		}
		if !browser.IsTimeout(err) {
			return fmt.Errorf("portal: step %s failed on %s: %w", chain.Step, sel.String(), err)
		}
		d.logger.WarnContext(ctx, "selector timed out, trying fallback",
			slog.String("step", chain.Step),
			slog.String("selector", sel.String()))
	}

	shot := d.capture(ctx, chain.Step)
	return &StepError{Step: chain.Step, Attempted: attempted, ScreenshotPath: shot}
}

func (d *Driver) capture(ctx context.Context, step string) string {
	if d.screenshot == nil {
		return ""
	}
	return d.screenshot(ctx, step)
}
