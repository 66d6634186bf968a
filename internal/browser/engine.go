// Package browser wraps chromedp behind a small automation surface:
// launch, navigate, wait, fill, click, screenshot, await-download,
// close. It carries no workflow knowledge and performs no retries;
// every operation fails with a distinct timeout error instead of
// hanging.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Options configures a single engine instance. One engine owns one
// browser process for the duration of one pipeline invocation.
type Options struct {
	Headless        bool
	DownloadDir     string
	StepTimeout     time.Duration
	DownloadTimeout time.Duration
}

// Engine drives one headless browser process. Construct with New, call
// Start before any operation, and Close on every exit path; Close is
// idempotent.
type Engine struct {
	opts   Options
	logger *slog.Logger

	allocCancel context.CancelFunc
	rootCancel  context.CancelFunc

	mu      sync.Mutex
	current context.Context
	cancels []context.CancelFunc

	dlMu      sync.Mutex
	dlNames   map[string]string
	dlPending chan downloadResult

	closeOnce sync.Once
}

type downloadResult struct {
	path string
	err  error
}

// New creates an engine. The browser process is not spawned until Start.
func New(opts Options, logger *slog.Logger) *Engine {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 2 * time.Minute
	}
	return &Engine{
		opts:    opts,
		logger:  logger.With(slog.String("component", "browser_engine")),
		dlNames: make(map[string]string),
	}
}

// Start spawns the browser process and configures download capture into
// the configured directory.
func (e *Engine) Start(ctx context.Context) error {
	if e.opts.DownloadDir == "" {
		return fmt.Errorf("browser: download directory not configured")
	}
	if err := os.MkdirAll(e.opts.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("browser: failed to create download dir: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.opts.Headless),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	e.allocCancel = allocCancel

	browserCtx, rootCancel := chromedp.NewContext(allocCtx)
	e.rootCancel = rootCancel
	e.current = browserCtx

	// First Run spawns the process.
	if err := chromedp.Run(browserCtx); err != nil {
		e.Close()
		return fmt.Errorf("browser: failed to launch: %w", err)
	}

	if err := e.armDownloads(browserCtx); err != nil {
		e.Close()
		return err
	}

	e.logger.Info("browser launched",
		slog.Bool("headless", e.opts.Headless),
		slog.String("download_dir", e.opts.DownloadDir))
	return nil
}

// armDownloads enables CDP download events on the given page context and
// routes completions to the pending waiter.
func (e *Engine) armDownloads(pageCtx context.Context) error {
	chromedp.ListenTarget(pageCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *cdpbrowser.EventDownloadWillBegin:
			e.dlMu.Lock()
			e.dlNames[ev.GUID] = ev.SuggestedFilename
			e.dlMu.Unlock()
			e.logger.Info("download started",
				slog.String("guid", ev.GUID),
				slog.String("suggested_name", ev.SuggestedFilename))
		case *cdpbrowser.EventDownloadProgress:
			switch ev.State {
			case cdpbrowser.DownloadProgressStateCompleted:
				e.finishDownload(ev.GUID, nil)
			case cdpbrowser.DownloadProgressStateCanceled:
				e.finishDownload(ev.GUID, errors.New("browser: download canceled"))
			}
		}
	})

	err := chromedp.Run(pageCtx,
		cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(e.opts.DownloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		return fmt.Errorf("browser: failed to set download behavior: %w", err)
	}
	return nil
}

func (e *Engine) finishDownload(guid string, cause error) {
	e.dlMu.Lock()
	defer e.dlMu.Unlock()

	if e.dlPending == nil {
		e.logger.Warn("download finished with no waiter", slog.String("guid", guid))
		return
	}

	res := downloadResult{err: cause}
	if cause == nil {
		path := filepath.Join(e.opts.DownloadDir, guid)
		if name := e.dlNames[guid]; name != "" {
			named := filepath.Join(e.opts.DownloadDir, name)
			if renameErr := os.Rename(path, named); renameErr == nil {
				path = named
			}
		}
		res.path = path
	}
	delete(e.dlNames, guid)

	select {
	case e.dlPending <- res:
	default:
	}
	e.dlPending = nil
}

// Navigate loads the given URL in the active page.
func (e *Engine) Navigate(ctx context.Context, url string) error {
	return e.run(ctx, "navigate", url, e.opts.StepTimeout, chromedp.Navigate(url))
}

// WaitVisible blocks until the selector resolves to a visible element or
// the timeout elapses.
func (e *Engine) WaitVisible(ctx context.Context, sel Selector, timeout time.Duration) error {
	return e.run(ctx, "waitVisible", sel.String(), timeout,
		chromedp.WaitVisible(sel.Query, sel.opt()))
}

// Fill clears the matched input and types the given text into it.
func (e *Engine) Fill(ctx context.Context, sel Selector, text string) error {
	return e.run(ctx, "fill", sel.String(), e.opts.StepTimeout,
		chromedp.WaitVisible(sel.Query, sel.opt()),
		chromedp.SetValue(sel.Query, text, sel.opt()),
	)
}

// Click waits for the selector and clicks the first match.
func (e *Engine) Click(ctx context.Context, sel Selector) error {
	return e.run(ctx, "click", sel.String(), e.opts.StepTimeout,
		chromedp.WaitVisible(sel.Query, sel.opt()),
		chromedp.Click(sel.Query, sel.opt()),
	)
}

// Screenshot captures the active page into the given file.
func (e *Engine) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := e.run(ctx, "screenshot", "", e.opts.StepTimeout,
		chromedp.CaptureScreenshot(&buf)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("browser: failed to create screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("browser: failed to write screenshot: %w", err)
	}
	return nil
}

// Pages lists the identifiers of all open page targets, oldest first.
func (e *Engine) Pages(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()
	if cur == nil {
		return nil, fmt.Errorf("browser: not started")
	}

	infos, err := chromedp.Targets(cur)
	if err != nil {
		return nil, fmt.Errorf("browser: failed to list targets: %w", err)
	}

	var ids []string
	for _, info := range infos {
		if info.Type == "page" {
			ids = append(ids, string(info.TargetID))
		}
	}
	return ids, nil
}

// ActivatePage attaches to the page with the given identifier; all
// subsequent operations run against it. Download capture is re-armed on
// the new page.
func (e *Engine) ActivatePage(ctx context.Context, id string) error {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()
	if cur == nil {
		return fmt.Errorf("browser: not started")
	}

	pageCtx, cancel := chromedp.NewContext(cur, chromedp.WithTargetID(target.ID(id)))
	if err := chromedp.Run(pageCtx); err != nil {
		cancel()
		return fmt.Errorf("browser: failed to attach to page %s: %w", id, err)
	}

	if err := e.armDownloads(pageCtx); err != nil {
		cancel()
		return err
	}

	e.mu.Lock()
	e.current = pageCtx
	e.cancels = append(e.cancels, cancel)
	e.mu.Unlock()

	e.logger.Info("switched active page", slog.String("target_id", id))
	return nil
}

// Waiter resolves a pending download to its local file path.
type Waiter interface {
	Wait(ctx context.Context) (string, error)
}

// ExpectDownload arms the engine for the next download. Call it before
// triggering the export action, then Wait for the result.
func (e *Engine) ExpectDownload() Waiter {
	ch := make(chan downloadResult, 1)
	e.dlMu.Lock()
	e.dlPending = ch
	e.dlMu.Unlock()
	return &downloadWaiter{engine: e, ch: ch}
}

type downloadWaiter struct {
	engine *Engine
	ch     chan downloadResult
}

// Wait blocks until the expected download completes, the configured
// download timeout elapses, or ctx is canceled.
func (w *downloadWaiter) Wait(ctx context.Context) (string, error) {
	timeout := w.engine.opts.DownloadTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		if res.err != nil {
			return "", res.err
		}
		return res.path, nil
	case <-timer.C:
		return "", &TimeoutError{Op: "awaitDownload", Timeout: timeout}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close tears down the browser process. Safe to call multiple times and
// from failure paths.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		cancels := e.cancels
		e.cancels = nil
		e.current = nil
		e.mu.Unlock()

		for i := len(cancels) - 1; i >= 0; i-- {
			cancels[i]()
		}
		if e.rootCancel != nil {
			e.rootCancel()
		}
		if e.allocCancel != nil {
			e.allocCancel()
		}
		e.logger.Info("browser closed")
	})
}

// run executes chromedp actions on the active page under the operation
// timeout, honoring caller cancellation, and classifies deadline
// failures as TimeoutError.
func (e *Engine) run(ctx context.Context, op, selector string, timeout time.Duration, actions ...chromedp.Action) error {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()
	if cur == nil {
		return fmt.Errorf("browser: not started")
	}

	opCtx, cancel := context.WithTimeout(cur, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Selector: selector, Timeout: timeout}
	}
	return fmt.Errorf("browser: %s failed: %w", op, err)
}
