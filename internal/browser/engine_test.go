package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestNewAppliesDefaultTimeouts(t *testing.T) {
	e := New(Options{DownloadDir: t.TempDir()}, testLogger())
	if e.opts.StepTimeout != 30*time.Second {
		t.Errorf("default step timeout = %s", e.opts.StepTimeout)
	}
	if e.opts.DownloadTimeout != 2*time.Minute {
		t.Errorf("default download timeout = %s", e.opts.DownloadTimeout)
	}
}

func TestCloseIsIdempotentWithoutStart(t *testing.T) {
	e := New(Options{DownloadDir: t.TempDir()}, testLogger())
	e.Close()
	e.Close()
}

func TestOperationsFailBeforeStart(t *testing.T) {
	e := New(Options{DownloadDir: t.TempDir()}, testLogger())
	if err := e.Navigate(context.Background(), "https://example.com"); err == nil {
		t.Fatal("expected error before Start")
	}
	if _, err := e.Pages(context.Background()); err == nil {
		t.Fatal("expected error before Start")
	}
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &TimeoutError{Op: "click", Selector: "css:#submit", Timeout: 5 * time.Second}
	want := `browser: click "css:#submit" timed out after 5s`
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}

	bare := &TimeoutError{Op: "awaitDownload", Timeout: time.Minute}
	if bare.Error() != "browser: awaitDownload timed out after 1m0s" {
		t.Errorf("got %q", bare.Error())
	}
}

func TestIsTimeout(t *testing.T) {
	te := &TimeoutError{Op: "fill", Timeout: time.Second}
	if !IsTimeout(te) {
		t.Error("direct TimeoutError not detected")
	}
	if !IsTimeout(fmt.Errorf("step failed: %w", te)) {
		t.Error("wrapped TimeoutError not detected")
	}
	if IsTimeout(errors.New("nope")) {
		t.Error("plain error classified as timeout")
	}
}

func TestSelectorConstructors(t *testing.T) {
	if s := CSS("#login"); s.Kind != ByCSS || s.Query != "#login" {
		t.Errorf("CSS selector = %+v", s)
	}
	if s := XPath("//button[contains(., 'Export')]"); s.Kind != ByXPath {
		t.Errorf("XPath selector = %+v", s)
	}
	if s := ID("date"); s.Kind != ByID {
		t.Errorf("ID selector = %+v", s)
	}
	if got := CSS("#x").String(); got != "css:#x" {
		t.Errorf("String() = %q", got)
	}
}

func TestDownloadWaiterTimesOut(t *testing.T) {
	e := New(Options{DownloadDir: t.TempDir(), DownloadTimeout: 20 * time.Millisecond}, testLogger())
	w := e.ExpectDownload()

	_, err := w.Wait(context.Background())
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestDownloadWaiterReceivesCompletion(t *testing.T) {
	e := New(Options{DownloadDir: t.TempDir(), DownloadTimeout: time.Second}, testLogger())
	w := e.ExpectDownload()

	go e.finishDownload("guid-1", nil)

	path, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if path == "" {
		t.Fatal("expected a download path")
	}
}

func TestDownloadWaiterPropagatesCancel(t *testing.T) {
	e := New(Options{DownloadDir: t.TempDir(), DownloadTimeout: time.Second}, testLogger())
	w := e.ExpectDownload()

	go e.finishDownload("guid-2", errors.New("browser: download canceled"))

	if _, err := w.Wait(context.Background()); err == nil {
		t.Fatal("expected canceled download error")
	}
}
