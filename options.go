package strata

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Options configures a Stage. Start from DefaultOptions and override fields,
// or load them from TOML with LoadOptions.
type Options struct {
	// Width and Height are the logical stage size in pixels.
	Width  int `toml:"width"`
	Height int `toml:"height"`

	// ClearColor fills the main target before each frame. The zero value
	// leaves the target untouched.
	ClearColor Color `toml:"clear_color"`

	// QuadCapacity is the number of quads the shared vertex buffer holds.
	// Quads past the capacity are dropped for the frame.
	QuadCapacity int `toml:"quad_capacity"`

	// MaxTextureSize caps render-to-texture targets and uploaded images.
	MaxTextureSize int `toml:"max_texture_size"`

	// UseAtlas packs small loaded textures into one shared surface.
	UseAtlas bool `toml:"use_atlas"`
	// AtlasSize is the edge length of the square atlas surface.
	AtlasSize int `toml:"atlas_size"`
	// AtlasMaxTexturePixels is the largest area (w*h) a texture may have to
	// be considered for atlas packing.
	AtlasMaxTexturePixels int `toml:"atlas_max_texture_pixels"`
	// AtlasMaxUploadsPerFrame bounds one upload batch.
	AtlasMaxUploadsPerFrame int `toml:"atlas_max_uploads_per_frame"`
	// AtlasDefragMinFrames is the minimum number of frames between two
	// defragmentation passes.
	AtlasDefragMinFrames int `toml:"atlas_defrag_min_frames"`

	// RenderTexturePoolMaxAge frees pooled render textures unused for this
	// many frames.
	RenderTexturePoolMaxAge int `toml:"render_texture_pool_max_age"`
	// RenderTexturePoolPixels is the soft pixel budget of the pool.
	RenderTexturePoolPixels int `toml:"render_texture_pool_pixels"`

	// TextureMemory is the pixel budget of loaded texture sources. When
	// exceeded, sources no longer displayed by any node are freed.
	TextureMemory int `toml:"texture_memory"`

	// ScreenshotDir is where Stage.Screenshot writes its PNG files.
	ScreenshotDir string `toml:"screenshot_dir"`

	// Debug enables per-frame stats and extra tree checks.
	Debug bool `toml:"debug"`
}

// DefaultOptions returns the options used by NewStage when none are given.
func DefaultOptions() Options {
	return Options{
		Width:                   1920,
		Height:                  1080,
		QuadCapacity:            16384,
		MaxTextureSize:          2048,
		AtlasSize:               2048,
		AtlasMaxTexturePixels:   256 * 256,
		AtlasMaxUploadsPerFrame: 1000,
		AtlasDefragMinFrames:    60,
		RenderTexturePoolMaxAge: 60,
		RenderTexturePoolPixels: 12e6,
		TextureMemory:           18e6,
		ScreenshotDir:           "screenshots",
	}
}

// LoadOptions parses TOML data over DefaultOptions. Unknown keys are an error.
//
//	width = 1280
//	height = 720
//	use_atlas = true
//	clear_color = { r = 0.0, g = 0.0, b = 0.0, a = 1.0 }
func LoadOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		return Options{}, fmt.Errorf("strata: failed to parse options: %w", err)
	}
	if err := opts.validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// validate rejects options the stage cannot run with.
func (o Options) validate() error {
	switch {
	case o.QuadCapacity <= 0:
		return fmt.Errorf("strata: quad_capacity must be positive, got %d", o.QuadCapacity)
	case o.MaxTextureSize <= 0:
		return fmt.Errorf("strata: max_texture_size must be positive, got %d", o.MaxTextureSize)
	case o.UseAtlas && o.AtlasSize <= 2:
		return fmt.Errorf("strata: atlas_size too small: %d", o.AtlasSize)
	case o.AtlasMaxUploadsPerFrame <= 0:
		return fmt.Errorf("strata: atlas_max_uploads_per_frame must be positive, got %d", o.AtlasMaxUploadsPerFrame)
	}
	return nil
}
