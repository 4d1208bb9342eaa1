package window_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/paywindow/internal/apperr"
	"github.com/noah-isme/paywindow/internal/window"
	"github.com/noah-isme/paywindow/internal/window/windowtest"
)

func TestPlaceCentersWithinScreen(t *testing.T) {
	p := window.Place(window.Screen{Width: 1920, Height: 1080}, window.DefaultOptions())
	require.Equal(t, window.Placement{Left: 660, Top: 190, Width: 600, Height: 700}, p)
}

func TestPlaceRespectsScreenOffsetAndClamps(t *testing.T) {
	p := window.Place(window.Screen{Left: 100, Top: 50, Width: 500, Height: 400}, window.DefaultOptions())
	require.Equal(t, window.Placement{Left: 100, Top: 50, Width: 600, Height: 700}, p)

	p = window.Place(window.Screen{Width: 1000, Height: 1000}, window.Options{Width: 200, Height: 100})
	require.Equal(t, 0, p.Left, "not centered")
	require.Equal(t, 200, p.Width)
}

func TestOpenBlockedReturnsPopupBlocked(t *testing.T) {
	ctrl := &window.Controller{Launcher: &windowtest.Launcher{Block: true}}
	h, err := ctrl.Open(context.Background(), "https://pay.example/abc", window.DefaultOptions())
	require.Nil(t, h)
	require.ErrorIs(t, err, apperr.ErrPopupBlocked)
	require.ErrorIs(t, err, windowtest.ErrBlocked)
}

func TestOpenReusesNamedSlot(t *testing.T) {
	launcher := &windowtest.Launcher{}
	ctrl := &window.Controller{Launcher: launcher, Screen: window.Screen{Width: 1200, Height: 900}}

	first, err := ctrl.Open(context.Background(), "https://pay.example/one", window.DefaultOptions())
	require.NoError(t, err)
	second, err := ctrl.Open(context.Background(), "https://pay.example/two", window.DefaultOptions())
	require.NoError(t, err)

	require.False(t, ctrl.IsClosed(first), "earlier handles follow the slot")
	require.False(t, ctrl.IsClosed(second))
	require.Equal(t, "https://pay.example/one", first.URL())
	require.Equal(t, window.DefaultName, first.Name())

	wins := launcher.Windows()
	require.Len(t, wins, 2)
	require.True(t, wins[0].ForceClosed(), "previous page in the slot is unloaded")
	require.False(t, wins[1].Closed())

	reqs := launcher.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, window.DefaultName, reqs[0].Name)
	require.Equal(t, reqs[0].Name, reqs[1].Name)
	require.Equal(t, window.Placement{Left: 300, Top: 100, Width: 600, Height: 700}, reqs[1].Placement)
}

func TestSlotCloseIsSharedByEveryHandle(t *testing.T) {
	launcher := &windowtest.Launcher{}
	ctrl := &window.Controller{Launcher: launcher}

	first, err := ctrl.Open(context.Background(), "https://pay.example/one", window.DefaultOptions())
	require.NoError(t, err)
	second, err := ctrl.Open(context.Background(), "https://pay.example/two", window.DefaultOptions())
	require.NoError(t, err)

	launcher.Last().UserClose()
	require.True(t, ctrl.IsClosed(first))
	require.True(t, ctrl.IsClosed(second))

	third, err := ctrl.Open(context.Background(), "https://pay.example/three", window.DefaultOptions())
	require.NoError(t, err)
	require.False(t, ctrl.IsClosed(first))

	require.NoError(t, ctrl.Close(first))
	require.True(t, ctrl.IsClosed(third))
	require.True(t, launcher.Last().ForceClosed())
}

func TestFailedRelaunchLeavesSlotClosed(t *testing.T) {
	launcher := &windowtest.Launcher{}
	ctrl := &window.Controller{Launcher: launcher}

	first, err := ctrl.Open(context.Background(), "https://pay.example/one", window.DefaultOptions())
	require.NoError(t, err)

	launcher.Block = true
	_, err = ctrl.Open(context.Background(), "https://pay.example/two", window.DefaultOptions())
	require.ErrorIs(t, err, apperr.ErrPopupBlocked)
	require.True(t, ctrl.IsClosed(first))
}

func TestCloseIsIdempotent(t *testing.T) {
	launcher := &windowtest.Launcher{}
	ctrl := &window.Controller{Launcher: launcher}
	h, err := ctrl.Open(context.Background(), "https://pay.example/abc", window.DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, ctrl.Close(h))
	require.NoError(t, ctrl.Close(h))
	require.True(t, ctrl.IsClosed(h))
	require.EqualValues(t, 1, launcher.Last().CloseCalls())
	require.True(t, ctrl.IsClosed(nil))
}

func TestBrowserLauncherMissingBinary(t *testing.T) {
	l := window.BrowserLauncher{Path: filepath.Join(t.TempDir(), "no-such-browser")}
	_, err := l.Launch(context.Background(), window.LaunchRequest{URL: "https://pay.example", Name: "slot"})
	require.Error(t, err)
}

func TestBrowserLauncherTracksProcessLifetime(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-browser")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	l := window.BrowserLauncher{Path: script, ProfileDir: dir, KillGrace: 200 * time.Millisecond}
	h, err := l.Launch(context.Background(), window.LaunchRequest{URL: "https://pay.example", Name: "slot"})
	require.NoError(t, err)
	require.False(t, h.Closed())
	require.DirExists(t, filepath.Join(dir, "slot"))

	require.NoError(t, h.Close())
	require.True(t, h.Closed())
	require.NoError(t, h.Close())
}
