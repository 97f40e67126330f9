// Package launcher opens the dev server URL in a browser.
package launcher

import (
	"context"
	"io"
	"os/exec"
	"runtime"
	"strings"

	"github.com/pkg/browser"
	"go.trai.ch/zerr"
)

// ErrBrowserNotFound is returned when no executable for the requested browser exists.
var ErrBrowserNotFound = zerr.New("browser not found")

// Result is the outcome of a launch. PID is 0 when the system default handler
// opened the URL and no child process is tracked.
type Result struct {
	PID int
	Err error
}

// executables lists candidate commands per browser name on Linux and the
// BSDs. Unknown names are used as the executable itself.
var executables = map[string][]string{
	"chrome":   {"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"},
	"chromium": {"chromium", "chromium-browser"},
	"firefox":  {"firefox"},
	"edge":     {"microsoft-edge", "microsoft-edge-stable"},
}

// macApps maps browser names to macOS application names.
var macApps = map[string]string{
	"chrome":   "Google Chrome",
	"chromium": "Chromium",
	"firefox":  "Firefox",
	"edge":     "Microsoft Edge",
	"safari":   "Safari",
}

// Launcher starts a browser process pointed at a URL.
type Launcher struct {
	browser     string
	goos        string
	lookPath    func(string) (string, error)
	start       func(*exec.Cmd) error
	openDefault func(string) error
}

// New creates a launcher for the named browser. An empty name uses the system default.
func New(browserName string) *Launcher {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return &Launcher{
		browser:     strings.ToLower(strings.TrimSpace(browserName)),
		goos:        runtime.GOOS,
		lookPath:    exec.LookPath,
		start:       func(cmd *exec.Cmd) error { return cmd.Start() },
		openDefault: browser.OpenURL,
	}
}

// Launch opens url asynchronously. The returned channel yields exactly one
// Result and is then closed.
func (l *Launcher) Launch(ctx context.Context, url string) <-chan Result {
	results := make(chan Result, 1)
	go func() {
		defer close(results)
		results <- l.launch(ctx, url)
	}()
	return results
}

func (l *Launcher) launch(ctx context.Context, url string) Result {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}
	if l.browser == "" {
		return l.system(url)
	}

	name, args, err := l.command(url)
	if err != nil {
		return Result{Err: err}
	}

	//nolint:gosec // G204: the executable comes from a fixed candidate list or the user's own config
	cmd := exec.Command(name, args...)
	if err := l.start(cmd); err != nil {
		return Result{Err: zerr.With(zerr.Wrap(err, "failed to start browser"), "browser", l.browser)}
	}
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
		go func() { _ = cmd.Wait() }()
	}
	return Result{PID: pid}
}

func (l *Launcher) system(url string) Result {
	if err := l.openDefault(url); err != nil {
		return Result{Err: zerr.Wrap(err, "failed to open default browser")}
	}
	return Result{}
}

// command resolves the executable and arguments that open url in the
// configured browser on the current platform.
func (l *Launcher) command(url string) (string, []string, error) {
	switch l.goos {
	case "darwin":
		app, ok := macApps[l.browser]
		if !ok {
			app = l.browser
		}
		return "open", []string{"-a", app, url}, nil
	case "windows":
		return "cmd", []string{"/c", "start", "", l.browser, url}, nil
	}

	candidates, ok := executables[l.browser]
	if !ok {
		candidates = []string{l.browser}
	}
	for _, c := range candidates {
		if p, err := l.lookPath(c); err == nil {
			return p, []string{url}, nil
		}
	}
	return "", nil, zerr.With(ErrBrowserNotFound, "browser", l.browser)
}
