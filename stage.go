package strata

import (
	"time"

	"github.com/hajimehoshi/ebiten/v2"
)

// Stage is the top-level object that owns the node tree, the GPU device and
// every render resource: texture sources, the atlas, the render texture
// pool and the operation list of the last frame.
//
// A frame is Update followed by Render. Both must run on the same
// goroutine as every scene mutation.
type Stage struct {
	opts  Options
	dev   Device
	root  *Node
	debug bool

	frame frameContext

	textures *textureManager
	atlas    *textureAtlas
	pool     *renderTexturePool
	state    *renderState
	exec     *executor
	white    GPUTexture

	ops   []Operation
	built bool

	screen      *ebitenTexture
	stats       FrameStats
	screenshots []string

	destroyed bool
}

// NewStage creates a stage drawing through Ebitengine.
func NewStage(opts Options) (*Stage, error) {
	return NewStageWithDevice(NewEbitenDevice(opts.MaxTextureSize), opts)
}

// NewStageWithDevice creates a stage drawing through dev.
func NewStageWithDevice(dev Device, opts Options) (*Stage, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	maxTex := min(opts.MaxTextureSize, dev.MaxTextureSize())
	s := &Stage{opts: opts, dev: dev, debug: opts.Debug}

	white, err := dev.NewTexture(1, 1)
	if err != nil {
		logger.Error("white texture allocation failed", "error", err)
		return nil, err
	}
	dev.Fill(white, ColorWhite)
	s.white = white

	s.pool = newRenderTexturePool(dev, opts.RenderTexturePoolMaxAge, opts.RenderTexturePoolPixels)
	if opts.UseAtlas {
		s.atlas = newTextureAtlas(dev, min(opts.AtlasSize, maxTex), opts.AtlasMaxTexturePixels,
			opts.AtlasMaxUploadsPerFrame, opts.AtlasDefragMinFrames)
	}
	s.textures = newTextureManager(dev, s.atlas, maxTex, opts.TextureMemory)
	s.state = newRenderState(dev, s.pool, opts.QuadCapacity, maxTex, NewQuadProgram(BlendNormal))
	s.state.white = white
	s.exec = newExecutor(dev)

	root := NewNode("root")
	root.isRoot = true
	root.w, root.h = float64(opts.Width), float64(opts.Height)
	root.setStage(s)
	root.updateActive()
	s.root = root
	s.frame.hasUpdates = true
	s.frame.renderNeeded = true
	return s, nil
}

// Root returns the stage's root node.
func (s *Stage) Root() *Node {
	return s.root
}

// Options returns the options the stage was created with.
func (s *Stage) Options() Options {
	return s.opts
}

// Device returns the device the stage draws through.
func (s *Stage) Device() Device {
	return s.dev
}

// SetDefaultProgram sets the program used by nodes without one in their
// ancestor chain. Nil restores the built-in quad program.
func (s *Stage) SetDefaultProgram(p Program) {
	if p == nil {
		p = NewQuadProgram(BlendNormal)
	}
	s.state.defaultProgram = p
	s.frame.renderNeeded = true
}

// SetDebugMode enables or disables debug mode. When enabled, destroyed-node
// access panics, tree depth and child count warnings are logged, and
// per-frame timing stats are logged at debug level.
func (s *Stage) SetDebugMode(enabled bool) {
	s.debug = enabled
}

// Stats returns the metrics of the last frame.
func (s *Stage) Stats() FrameStats {
	return s.stats
}

// Operations returns the operation list of the last rendered frame. It is
// reused by the next frame and must not be retained or modified.
func (s *Stage) Operations() []Operation {
	return s.ops
}

// NewTexture returns a texture showing the whole source registered under
// key. The first call for a key registers loader; later calls share that
// source. Nothing loads until a node displaying the texture is active, or
// the source's Load is called.
func (s *Stage) NewTexture(key string, loader Loader) *Texture {
	return &Texture{source: s.textures.source(key, loader)}
}

// TextureSource returns the source registered under key, or nil.
func (s *Stage) TextureSource(key string) *TextureSource {
	return s.textures.sources[key]
}

// TextureMemory returns the pixels held by resident texture sources.
func (s *Stage) TextureMemory() int {
	return s.textures.memory
}

// alive reports whether the stage may be used, logging misuse.
func (s *Stage) alive(op string) bool {
	if s.destroyed {
		logger.Error("stage used after Destroy", "op", op, "error", ErrStageDestroyed)
		return false
	}
	return true
}

// Update applies finished texture loads, frees idle textures over budget
// and refreshes the derived state of every changed node. A frame without
// changes does no tree work.
func (s *Stage) Update() {
	if !s.alive("Update") {
		return
	}
	s.frame.frame++
	s.stats = FrameStats{Frame: s.frame.frame}
	s.textures.frame = s.frame.frame
	s.textures.drain()
	s.textures.gc()
	s.updateTree()
}

// updateTree runs the update pass if anything changed.
func (s *Stage) updateTree() {
	if !s.frame.hasUpdates && !s.root.hasUpdates {
		return
	}
	var t0 time.Time
	if s.debug {
		t0 = time.Now()
	}
	s.frame.beginUpdate()
	s.root.update(&s.frame, 0)
	s.stats.Updated = true
	if s.debug {
		s.stats.UpdateTime = time.Since(t0)
	}
}

// Render draws the stage into target. The operation list is rebuilt only
// when something changed since the last frame; otherwise the previous list
// is executed again.
func (s *Stage) Render(target GPUTexture) {
	if !s.alive("Render") {
		return
	}
	// Mutations between Update and Render still show this frame.
	s.updateTree()

	if s.atlas != nil {
		if err := s.atlas.flush(s.frame.frame); err != nil {
			logger.Error("atlas flush failed", "error", err)
		}
	}

	var t0 time.Time
	if s.debug {
		t0 = time.Now()
	}
	if s.frame.renderNeeded || !s.built {
		s.frame.renderNeeded = false
		s.ops = s.state.build(s.root)
		s.built = true
		s.stats.Built = true
		s.stats.DroppedQuads = s.state.dropped
	} else {
		for _, info := range s.state.infos {
			s.pool.touch(info.Texture)
		}
	}
	if s.debug {
		s.stats.BuildTime = time.Since(t0)
		t0 = time.Now()
	}

	if s.opts.ClearColor.A > 0 {
		s.dev.Fill(target, s.opts.ClearColor)
	}
	s.exec.execute(s.ops, s.state.infos, target)
	s.pool.advance(s.frame.frame)
	s.flushScreenshots(target)

	s.stats.Operations = len(s.ops)
	s.stats.DrawCalls = s.exec.drawCalls
	s.stats.RenderTextures = len(s.state.infos)
	if s.debug {
		s.stats.Quads = countQuads(s.ops)
		s.stats.ExecuteTime = time.Since(t0)
		s.logStats()
	}
}

// Draw renders the stage onto an Ebitengine image, typically the screen
// passed to ebiten.Game.Draw.
func (s *Stage) Draw(screen *ebiten.Image) {
	if s.screen == nil || s.screen.img != screen {
		s.screen = &ebitenTexture{img: screen}
	}
	s.Render(s.screen)
}

// Destroy frees every GPU resource of the stage and destroys the tree.
// Later calls on the stage log ErrStageDestroyed and do nothing.
func (s *Stage) Destroy() {
	if !s.alive("Destroy") {
		return
	}
	s.root.destroy()
	s.textures.destroy()
	if s.atlas != nil {
		s.atlas.destroy()
	}
	s.pool.destroy()
	s.dev.DeleteTexture(s.white)
	s.state.reset()
	s.ops = nil
	s.screen = nil
	s.destroyed = true
}
