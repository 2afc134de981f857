// Package strata is a retained-mode 2D scene-graph renderer for [Ebitengine].
//
// Applications build a tree of [Node] values with transform, opacity, color,
// clipping and texture properties. Each frame the [Stage] refreshes the
// derived state of changed nodes only, orders painting by z-context, batches
// quads into [QuadOperation] runs and executes them on a [Device]. A scene
// that did not change does no per-frame recomputation.
//
// # Quick start
//
// The simplest way to get started is [Run], which creates a window and game
// loop for you:
//
//	stage, err := strata.NewStage(strata.DefaultOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//	// ... add nodes ...
//	strata.Run(stage, strata.RunConfig{Title: "My Game"})
//
// For full control, implement [ebiten.Game] yourself and call
// [Stage.Update] and [Stage.Draw] directly:
//
//	type Game struct{ stage *strata.Stage }
//
//	func (g *Game) Update() error               { g.stage.Update(); return nil }
//	func (g *Game) Draw(s *ebiten.Image)        { g.stage.Draw(s) }
//	func (g *Game) Layout(w, h int) (int, int) { return 1920, 1080 }
//
// # Scene graph
//
// Nodes form a tree rooted at [Stage.Root]. Children inherit their parent's
// transform and alpha. Every property has a setter that skips equal values
// and schedules only the recomputation the change requires.
//
//	ui := strata.NewNode("ui")
//	stage.Root().AddChild(ui)
//
//	hero := strata.NewSprite("hero", stage.NewTexture("hero", strata.FileLoader("hero.png")))
//	hero.SetPosition(100, 50)
//	ui.AddChild(hero)
//
//	box := strata.NewRect("box", 80, 40, strata.Color{R: 0.3, G: 0.7, B: 1, A: 1})
//	ui.AddChild(box)
//
// # Z-index
//
// Nodes with a nonzero z-index are painted by their nearest z-context, the
// closest ancestor that forces one, has a z-index itself, renders to a
// texture or is the root. Within a context, members paint by ascending
// z-index and then in tree order.
//
// # Clipping and render to texture
//
// A clipping node cuts its descendants to its rectangle. Axis-aligned clips
// become GPU scissor rectangles; rotated or skewed clips cut each quad to a
// convex polygon, or render the subtree to a texture with
// [Node.SetClipToTexture]. [Texturizer] and [Node.SetFilters] also render a
// subtree offscreen before compositing it as one quad.
//
// # Textures
//
// [Stage.NewTexture] registers a [TextureSource] under a key. Sources load on
// demand through a [Loader] when an active node displays them, and small
// sources can be packed into a shared atlas ([Options.UseAtlas]).
//
// # Logging
//
// strata is silent by default. Install a [log/slog] logger with [SetLogger]
// to see warnings about degraded frames and, in debug mode, per-frame stats.
//
// [Ebitengine]: https://ebitengine.org
package strata
