package strata

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// loadResult is a loader callback waiting to be applied on the frame
// goroutine.
type loadResult struct {
	src   *TextureSource
	token uint64
	err   error
	data  *PixelData
}

// textureManager owns the texture sources of a stage: lookup by key, load
// scheduling, upload and eviction.
//
// Loaders may complete on any goroutine. Their results are queued under mu
// and applied by drain, which the stage calls at the start of each update.
// Everything else runs on the frame goroutine.
type textureManager struct {
	dev   Device
	atlas *textureAtlas

	sources map[string]*TextureSource

	maxTextureSize int
	// budget is the pixel budget of resident sources; memory the current use.
	budget int
	memory int

	frame     int64
	nextToken uint64

	mu       sync.Mutex
	results  []loadResult
	draining bool
}

func newTextureManager(dev Device, atlas *textureAtlas, maxTextureSize, budget int) *textureManager {
	return &textureManager{
		dev:            dev,
		atlas:          atlas,
		sources:        make(map[string]*TextureSource),
		maxTextureSize: maxTextureSize,
		budget:         budget,
	}
}

// source returns the source for key, creating it with loader on first use.
// An existing source keeps its original loader.
func (m *textureManager) source(key string, loader Loader) *TextureSource {
	if s, ok := m.sources[key]; ok {
		return s
	}
	s := &TextureSource{key: key, loader: loader, manager: m}
	m.sources[key] = s
	return s
}

// load starts loading s unless a load is already in flight.
func (m *textureManager) load(s *TextureSource, sync bool) {
	if s.loading || s.pinned {
		return
	}
	if s.loader == nil {
		m.fail(s, fmt.Errorf("strata: load texture %q: %w", s.key, ErrNoLoader))
		return
	}
	m.nextToken++
	token := m.nextToken
	s.loading = true
	s.loadingSince = time.Now()
	s.loadToken = token
	cancel := s.loader(func(err error, data *PixelData) {
		m.enqueue(loadResult{src: s, token: token, err: err, data: data})
	}, s, sync)
	if s.loadToken == token {
		s.cancel = cancel
	}
	if sync {
		m.drain()
	}
}

// enqueue records a loader result. Safe for concurrent use.
func (m *textureManager) enqueue(r loadResult) {
	m.mu.Lock()
	m.results = append(m.results, r)
	m.mu.Unlock()
}

// drain applies queued loader results. Results queued while applying, by
// handlers that start new loads, are applied in the same call.
func (m *textureManager) drain() {
	if m.draining {
		return
	}
	m.draining = true
	defer func() { m.draining = false }()
	for {
		m.mu.Lock()
		batch := m.results
		m.results = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, r := range batch {
			m.apply(r)
		}
	}
}

// apply uploads one loader result. Results of canceled or superseded loads
// are dropped.
func (m *textureManager) apply(r loadResult) {
	s := r.src
	if !s.loading || r.token != s.loadToken {
		return
	}
	s.loading = false
	s.cancel = nil
	if r.err != nil {
		m.fail(s, fmt.Errorf("strata: load texture %q: %w", s.key, r.err))
		return
	}
	if err := m.upload(s, r.data); err != nil {
		m.fail(s, err)
		return
	}
	s.loaded = true
	s.err = nil
	if len(s.views) > 0 {
		m.addToAtlas(s)
	}
	s.onLoad.emit(s)
	views := append([]*Node(nil), s.views...)
	for _, v := range views {
		v.textureLoaded()
	}
}

// upload writes data to the source's GPU texture, replacing it when the size
// changed.
func (m *textureManager) upload(s *TextureSource, data *PixelData) error {
	if data == nil || data.Width <= 0 || data.Height <= 0 {
		return fmt.Errorf("strata: load texture %q: %w", s.key, ErrZeroSize)
	}
	if data.Width > m.maxTextureSize || data.Height > m.maxTextureSize {
		logger.Warn("texture over size cap", "key", s.key,
			"w", data.Width, "h", data.Height, "max", m.maxTextureSize)
		return fmt.Errorf("strata: load texture %q (%dx%d): %w", s.key, data.Width, data.Height, ErrTextureTooLarge)
	}
	if len(data.Pix) != 4*data.Width*data.Height {
		return fmt.Errorf("strata: load texture %q: got %d bytes for %dx%d", s.key, len(data.Pix), data.Width, data.Height)
	}
	if data.HasAlpha && !data.PremultiplyAlpha {
		premultiply(data.Pix)
		data.PremultiplyAlpha = true
	}
	if s.inAtlas {
		m.removeFromAtlas(s)
	}
	if s.gpu != nil && (s.w != data.Width || s.h != data.Height) {
		m.releaseGPU(s)
	}
	if s.gpu == nil {
		tex, err := m.dev.NewTexture(data.Width, data.Height)
		if err != nil {
			logger.Error("texture allocation failed", "key", s.key, "error", err)
			return fmt.Errorf("strata: allocate texture %q: %w", s.key, err)
		}
		s.gpu = tex
		s.w, s.h = data.Width, data.Height
		m.memory += s.w * s.h
	}
	if err := m.dev.WritePixels(s.gpu, data.Pix); err != nil {
		return fmt.Errorf("strata: upload texture %q: %w", s.key, err)
	}
	return nil
}

// fail records err on s and notifies its listeners and views.
func (m *textureManager) fail(s *TextureSource, err error) {
	s.err = err
	handled := s.onError.has()
	for _, v := range s.views {
		handled = handled || v.onTextureError.has()
	}
	if handled {
		logger.Warn("texture load failed", "key", s.key, "error", err)
	} else {
		logger.Error("texture load failed with no error handler", "key", s.key, "error", err)
	}
	s.onError.emit(err)
	views := append([]*Node(nil), s.views...)
	for _, v := range views {
		v.textureFailed(err)
	}
}

// cancel stops the in-flight load of s, if any. A result the loader still
// delivers is ignored.
func (m *textureManager) cancel(s *TextureSource) {
	if !s.loading {
		return
	}
	s.loading = false
	s.loadToken = 0
	if s.cancel != nil {
		c := s.cancel
		s.cancel = nil
		c()
	}
}

// activated runs when the first active node displays s.
func (m *textureManager) activated(s *TextureSource) {
	switch {
	case s.loaded:
		m.addToAtlas(s)
	case !s.loading && s.err == nil:
		m.load(s, false)
	}
}

// deactivated runs when the last active view of s goes away.
func (m *textureManager) deactivated(s *TextureSource) {
	s.idleSince = m.frame
	m.cancel(s)
	m.removeFromAtlas(s)
}

func (m *textureManager) addToAtlas(s *TextureSource) {
	if m.atlas != nil && !s.inAtlas && !s.pinned {
		m.atlas.add(s)
	}
}

func (m *textureManager) removeFromAtlas(s *TextureSource) {
	if m.atlas != nil && s.inAtlas {
		m.atlas.removeActiveTextureSource(s)
	}
}

// gc frees idle sources, longest idle first, until resident pixels fit the
// budget. Freed sources load again when displayed.
func (m *textureManager) gc() {
	if m.budget <= 0 || m.memory <= m.budget {
		return
	}
	var idle []*TextureSource
	for _, s := range m.sources {
		if len(s.views) == 0 && s.gpu != nil && !s.pinned {
			idle = append(idle, s)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		if idle[i].idleSince != idle[j].idleSince {
			return idle[i].idleSince < idle[j].idleSince
		}
		return idle[i].key < idle[j].key
	})
	freed := 0
	for _, s := range idle {
		if m.memory <= m.budget {
			break
		}
		m.free(s)
		freed++
	}
	if freed > 0 {
		logger.Info("texture sources freed", "freed", freed, "pixels", m.memory, "budget", m.budget)
	}
	if m.memory > m.budget {
		logger.Warn("texture memory over budget", "pixels", m.memory, "budget", m.budget)
	}
}

// free drops the GPU copy of s. The source stays registered.
func (m *textureManager) free(s *TextureSource) {
	m.cancel(s)
	m.removeFromAtlas(s)
	m.releaseGPU(s)
	s.loaded = false
}

func (m *textureManager) releaseGPU(s *TextureSource) {
	if s.gpu == nil {
		return
	}
	m.dev.DeleteTexture(s.gpu)
	m.memory -= s.w * s.h
	s.gpu = nil
	s.w, s.h = 0, 0
}

// destroy frees every source and cancels every load.
func (m *textureManager) destroy() {
	for _, s := range m.sources {
		m.free(s)
	}
	m.sources = nil
	m.mu.Lock()
	m.results = nil
	m.mu.Unlock()
}

// premultiply converts straight-alpha RGBA pixels in place.
func premultiply(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		a := uint32(pix[i+3])
		if a == 255 {
			continue
		}
		pix[i] = uint8(uint32(pix[i]) * a / 255)
		pix[i+1] = uint8(uint32(pix[i+1]) * a / 255)
		pix[i+2] = uint8(uint32(pix[i+2]) * a / 255)
	}
}
