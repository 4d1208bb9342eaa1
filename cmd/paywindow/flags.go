package main

import (
	"github.com/spf13/cobra"

	"github.com/noah-isme/paywindow/internal/window"
)

// windowFlags overrides configured geometry for a single command.
type windowFlags struct {
	width    int
	height   int
	noCenter bool
}

func (f *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.width, "width", 0, "window width in pixels (defaults to WINDOW_WIDTH)")
	cmd.Flags().IntVar(&f.height, "height", 0, "window height in pixels (defaults to WINDOW_HEIGHT)")
	cmd.Flags().BoolVar(&f.noCenter, "no-center", false, "let the browser place the window")
}

func (f windowFlags) apply(base window.Options) window.Options {
	if f.width > 0 {
		base.Width = f.width
	}
	if f.height > 0 {
		base.Height = f.height
	}
	if f.noCenter {
		base.Centered = false
	}
	return base
}
