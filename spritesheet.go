package strata

import (
	"encoding/json"
	"fmt"
)

// SheetFrame is one named frame of a sprite sheet.
type SheetFrame struct {
	// Texture shows the frame's packed rectangle.
	Texture *Texture
	// SourceW and SourceH are the untrimmed size as authored.
	SourceW, SourceH int
	// OffsetX and OffsetY place the trimmed rectangle within the source size.
	OffsetX, OffsetY int
	// Rotated frames are stored 90 degrees clockwise on their page; the
	// texture shows them as stored.
	Rotated bool
}

// SpriteSheet maps frame names to textures cut from one or more page
// textures.
type SpriteSheet struct {
	frames map[string]SheetFrame
}

// Frame returns the named frame. Missing names log a warning and report
// false.
func (s *SpriteSheet) Frame(name string) (SheetFrame, bool) {
	f, ok := s.frames[name]
	if !ok {
		logger.Warn("sprite sheet frame not found", "name", name)
	}
	return f, ok
}

// Texture returns the texture of the named frame, or nil.
func (s *SpriteSheet) Texture(name string) *Texture {
	f, _ := s.Frame(name)
	return f.Texture
}

// Len returns the number of frames.
func (s *SpriteSheet) Len() int { return len(s.frames) }

// LoadSpriteSheet parses TexturePacker JSON and cuts its frames from pages.
// Both the hash format (a single "frames" object) and the array format (a
// "textures" array with per-page frame lists) are supported.
func LoadSpriteSheet(jsonData []byte, pages []*Texture) (*SpriteSheet, error) {
	var probe struct {
		Frames   json.RawMessage `json:"frames"`
		Textures json.RawMessage `json:"textures"`
	}
	if err := json.Unmarshal(jsonData, &probe); err != nil {
		return nil, fmt.Errorf("strata: failed to parse sprite sheet JSON: %w", err)
	}

	sheet := &SpriteSheet{frames: make(map[string]SheetFrame)}
	switch {
	case probe.Textures != nil:
		var textures []jsonSheetPage
		if err := json.Unmarshal(probe.Textures, &textures); err != nil {
			return nil, fmt.Errorf("strata: failed to parse sprite sheet textures array: %w", err)
		}
		for i, tex := range textures {
			if err := sheet.addFrames(tex.Frames, pages, i); err != nil {
				return nil, err
			}
		}
	case probe.Frames != nil:
		var frames map[string]jsonSheetFrame
		if err := json.Unmarshal(probe.Frames, &frames); err != nil {
			return nil, fmt.Errorf("strata: failed to parse sprite sheet frames: %w", err)
		}
		if err := sheet.addFrames(frames, pages, 0); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("strata: sprite sheet JSON has neither \"frames\" nor \"textures\" key")
	}
	return sheet, nil
}

// --- JSON structure types ---

type jsonSheetRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type jsonSheetSize struct {
	W int `json:"w"`
	H int `json:"h"`
}

type jsonSheetFrame struct {
	Frame            jsonSheetRect `json:"frame"`
	Rotated          bool          `json:"rotated"`
	Trimmed          bool          `json:"trimmed"`
	SpriteSourceSize jsonSheetRect `json:"spriteSourceSize"`
	SourceSize       jsonSheetSize `json:"sourceSize"`
}

type jsonSheetPage struct {
	Image  string                    `json:"image"`
	Frames map[string]jsonSheetFrame `json:"frames"`
}

func (s *SpriteSheet) addFrames(frames map[string]jsonSheetFrame, pages []*Texture, page int) error {
	if page >= len(pages) || pages[page] == nil {
		return fmt.Errorf("strata: sprite sheet page %d has no texture", page)
	}
	for name, f := range frames {
		if f.Frame.W <= 0 || f.Frame.H <= 0 {
			return fmt.Errorf("strata: sprite sheet frame %q: %w", name, ErrZeroSize)
		}
		s.frames[name] = SheetFrame{
			Texture: pages[page].SubTexture(f.Frame.X, f.Frame.Y, f.Frame.W, f.Frame.H),
			SourceW: f.SourceSize.W,
			SourceH: f.SourceSize.H,
			OffsetX: f.SpriteSourceSize.X,
			OffsetY: f.SpriteSourceSize.Y,
			Rotated: f.Rotated,
		}
	}
	return nil
}
