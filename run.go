package strata

import (
	"errors"

	"github.com/hajimehoshi/ebiten/v2"
)

// RunConfig configures Run.
type RunConfig struct {
	// Title is the window title.
	Title string
	// WindowWidth and WindowHeight size the window. Zero uses the stage size.
	WindowWidth, WindowHeight int
	// Resizable lets the user resize the window. The stage keeps its
	// logical size and is scaled to fit.
	Resizable bool
	// OnUpdate runs once per tick before the stage updates. Returning an
	// error stops the loop; ErrQuit stops it without an error.
	OnUpdate func() error
	// OnDraw runs after the stage is drawn, for overlays.
	OnDraw func(screen *ebiten.Image)
}

// ErrQuit can be returned from RunConfig.OnUpdate to end Run cleanly.
var ErrQuit = errors.New("strata: quit")

// runner adapts a stage to ebiten.Game.
type runner struct {
	stage *Stage
	cfg   RunConfig
}

func (g *runner) Update() error {
	if g.cfg.OnUpdate != nil {
		if err := g.cfg.OnUpdate(); err != nil {
			if errors.Is(err, ErrQuit) {
				return ebiten.Termination
			}
			return err
		}
	}
	g.stage.Update()
	return nil
}

func (g *runner) Draw(screen *ebiten.Image) {
	g.stage.Draw(screen)
	if g.cfg.OnDraw != nil {
		g.cfg.OnDraw(screen)
	}
}

func (g *runner) Layout(_, _ int) (int, int) {
	return g.stage.opts.Width, g.stage.opts.Height
}

// Run opens a window and drives stage with the Ebitengine game loop until
// the window closes or OnUpdate returns an error. The stage is destroyed
// when Run returns.
func Run(stage *Stage, cfg RunConfig) error {
	w, h := cfg.WindowWidth, cfg.WindowHeight
	if w == 0 || h == 0 {
		w, h = stage.opts.Width, stage.opts.Height
	}
	ebiten.SetWindowTitle(cfg.Title)
	ebiten.SetWindowSize(w, h)
	if cfg.Resizable {
		ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	}
	defer stage.Destroy()
	return ebiten.RunGame(&runner{stage: stage, cfg: cfg})
}
