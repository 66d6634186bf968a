package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tollsync/internal/browser"
	"tollsync/internal/config"
	"tollsync/internal/portal"
)

// PortalFetch builds the FetchFunc that drives a real browser session.
// Each invocation owns one browser process, closed on every exit path.
func PortalFetch(cfg *config.Config, logger *slog.Logger) FetchFunc {
	return func(ctx context.Context, params Params) (string, error) {
		engine := browser.New(browser.Options{
			Headless:        cfg.Portal.Headless,
			DownloadDir:     cfg.Paths.DownloadsDir,
			StepTimeout:     cfg.Portal.StepTimeout,
			DownloadTimeout: cfg.Portal.DownloadTimeout,
		}, logger)

		if err := engine.Start(ctx); err != nil {
			return "", err
		}
		defer engine.Close()

		screenshot := func(ctx context.Context, step string) string {
			name := fmt.Sprintf("%s-%s.png", step, time.Now().Format("20060102-150405"))
			path := cfg.Paths.ScreenshotPath(name)
			if err := engine.Screenshot(ctx, path); err != nil {
				logger.Warn("failed to capture diagnostic screenshot",
					slog.String("step", step),
					slog.String("error", err.Error()))
				return ""
			}
			return path
		}

		driver := portal.NewDriver(engine, portal.Config{
			BaseURL:     cfg.Portal.BaseURL,
			StepTimeout: cfg.Portal.StepTimeout,
		}, logger, screenshot)

		return driver.FetchExport(ctx, portal.Params{
			SubjectID:        params.SubjectID,
			CredentialSecret: params.CredentialSecret,
			RangeStart:       params.RangeStart,
			RangeEnd:         params.RangeEnd,
		})
	}
}

// LocalFetch returns a FetchFunc that skips the portal and ingests an
// existing export file.
func LocalFetch(path string) FetchFunc {
	return func(ctx context.Context, params Params) (string, error) {
		return path, nil
	}
}
