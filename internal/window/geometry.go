package window

const (
	DefaultWidth  = 600
	DefaultHeight = 700
)

// Options describes the requested window geometry.
type Options struct {
	Width    int  `json:"width"`
	Height   int  `json:"height"`
	Centered bool `json:"centered"`
}

// DefaultOptions returns the 600x700 centered geometry.
func DefaultOptions() Options {
	return Options{Width: DefaultWidth, Height: DefaultHeight, Centered: true}
}

func (o Options) normalised() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	return o
}

// Screen is the caller's available screen area.
type Screen struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Placement is the computed on-screen rectangle for a window.
type Placement struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Place computes where a window with opts lands on screen. Centered windows are
// positioned in the middle of the available area, clamped to its top-left
// corner when the window is larger than the screen.
func Place(screen Screen, opts Options) Placement {
	opts = opts.normalised()
	p := Placement{Left: screen.Left, Top: screen.Top, Width: opts.Width, Height: opts.Height}
	if !opts.Centered || screen.Width <= 0 || screen.Height <= 0 {
		return p
	}
	if dx := (screen.Width - opts.Width) / 2; dx > 0 {
		p.Left += dx
	}
	if dy := (screen.Height - opts.Height) / 2; dy > 0 {
		p.Top += dy
	}
	return p
}
