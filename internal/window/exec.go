package window

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// BrowserLauncher opens windows as Chromium-family browser processes in app
// mode. Each named slot gets its own profile directory so a slot maps to one
// browser instance.
type BrowserLauncher struct {
	Path       string
	ProfileDir string
	ExtraArgs  []string
	// KillGrace is how long Close waits after SIGTERM before killing the process.
	KillGrace time.Duration
}

// Launch starts the browser. A missing binary or a failed start is reported as
// an error and nothing is left running.
func (l BrowserLauncher) Launch(_ context.Context, req LaunchRequest) (Handle, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return nil, errors.New("window: browser path not configured")
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("window: locate browser: %w", err)
	}
	profile := l.ProfileDir
	if strings.TrimSpace(profile) == "" {
		profile = filepath.Join(os.TempDir(), "paywindow-profiles")
	}
	profile = filepath.Join(profile, req.Name)
	if err := os.MkdirAll(profile, 0o700); err != nil {
		return nil, fmt.Errorf("window: profile dir: %w", err)
	}

	args := []string{
		"--app=" + req.URL,
		fmt.Sprintf("--window-size=%d,%d", req.Placement.Width, req.Placement.Height),
		fmt.Sprintf("--window-position=%d,%d", req.Placement.Left, req.Placement.Top),
		"--user-data-dir=" + profile,
		"--no-first-run",
		"--no-default-browser-check",
	}
	args = append(args, l.ExtraArgs...)

	// The window must outlive the launching request context.
	cmd := exec.Command(resolved, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("window: start browser: %w", err)
	}
	w := &processWindow{
		name:  req.Name,
		url:   req.URL,
		cmd:   cmd,
		grace: l.KillGrace,
		done:  make(chan struct{}),
	}
	go w.wait()
	return w, nil
}

type processWindow struct {
	name  string
	url   string
	cmd   *exec.Cmd
	grace time.Duration

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (w *processWindow) wait() {
	_ = w.cmd.Wait()
	close(w.done)
}

func (w *processWindow) Name() string { return w.name }
func (w *processWindow) URL() string  { return w.url }

func (w *processWindow) Closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *processWindow) Close() error {
	w.closeOnce.Do(func() {
		if w.Closed() || w.cmd.Process == nil {
			return
		}
		grace := w.grace
		if grace <= 0 {
			grace = 2 * time.Second
		}
		if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			w.closeErr = w.kill()
			return
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-w.done:
		case <-timer.C:
			w.closeErr = w.kill()
		}
	})
	return w.closeErr
}

func (w *processWindow) kill() error {
	if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("window: kill browser: %w", err)
	}
	<-w.done
	return nil
}
