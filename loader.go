package strata

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"io/fs"
	"os"

	_ "golang.org/x/image/bmp" // register BMP decoding
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoding
	"golang.org/x/sync/singleflight"
)

// PixelData is the decoded image a loader delivers: tightly packed RGBA
// rows, top to bottom.
type PixelData struct {
	Pix           []byte
	Width, Height int
	// PremultiplyAlpha reports that Pix already has premultiplied alpha.
	// Straight-alpha data is converted in place before upload.
	PremultiplyAlpha bool
	// HasAlpha is false for fully opaque images.
	HasAlpha bool
}

// LoadCallback receives the result of a load. Exactly one of err and data
// is non-nil. It is safe to call from any goroutine; the result is applied
// at the start of the next frame.
type LoadCallback func(err error, data *PixelData)

// Loader fetches the pixels of src and reports them through cb. With sync
// the loader should call cb before returning when it can. The returned
// cancel func, which may be nil, aborts an in-flight load; calling cb after
// cancel is allowed and ignored.
type Loader func(cb LoadCallback, src *TextureSource, sync bool) (cancel func())

// LoaderOption configures the built-in loaders.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	maxSize int
	scaler  draw.Scaler
}

// WithMaxSize scales decoded images down, keeping their aspect ratio, so
// neither edge exceeds size. Without it, images over the stage's maximum
// texture size fail with ErrTextureTooLarge.
func WithMaxSize(size int) LoaderOption {
	return func(o *loaderOptions) { o.maxSize = size }
}

// WithScaler sets the interpolator used by WithMaxSize. The default is
// draw.BiLinear.
func WithScaler(s draw.Scaler) LoaderOption {
	return func(o *loaderOptions) { o.scaler = s }
}

func buildLoaderOptions(opts []LoaderOption) loaderOptions {
	o := loaderOptions{scaler: draw.BiLinear}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ImageLoader returns a loader for an already decoded image. It always
// completes synchronously.
func ImageLoader(img image.Image, opts ...LoaderOption) Loader {
	o := buildLoaderOptions(opts)
	return func(cb LoadCallback, _ *TextureSource, _ bool) func() {
		cb(nil, imagePixels(img, o))
		return nil
	}
}

// PixelsLoader returns a loader for raw RGBA pixels. Premultiplied pixels
// are handed to the stage as is and must not be modified afterwards;
// straight-alpha pixels are copied on each load, since the upload
// premultiplies in place.
func PixelsLoader(w, h int, pix []byte, premultiplied bool) Loader {
	return func(cb LoadCallback, _ *TextureSource, _ bool) func() {
		data := pix
		if !premultiplied {
			data = append([]byte(nil), pix...)
		}
		cb(nil, &PixelData{Pix: data, Width: w, Height: h, PremultiplyAlpha: premultiplied, HasAlpha: true})
		return nil
	}
}

// decodes collapses concurrent decodes of the same file into one.
var decodes singleflight.Group

// FileLoader returns a loader decoding a PNG, JPEG, BMP or WebP file. Async
// loads decode on their own goroutine; concurrent loads of the same path
// share one decode.
func FileLoader(path string, opts ...LoaderOption) Loader {
	return fsLoader("file:"+path, func() (fs.File, error) { return os.Open(path) }, opts)
}

// FSLoader is like FileLoader but reads name from fsys, such as an
// embed.FS.
func FSLoader(fsys fs.FS, name string, opts ...LoaderOption) Loader {
	return fsLoader(fmt.Sprintf("fs:%p:%s", fsys, name), func() (fs.File, error) { return fsys.Open(name) }, opts)
}

func fsLoader(id string, open func() (fs.File, error), opts []LoaderOption) Loader {
	o := buildLoaderOptions(opts)
	decode := func() (*PixelData, error) {
		v, err, _ := decodes.Do(id, func() (any, error) {
			f, err := open()
			if err != nil {
				return nil, err
			}
			defer f.Close()
			img, _, err := image.Decode(f)
			if err != nil {
				return nil, fmt.Errorf("decode: %w", err)
			}
			return imagePixels(img, o), nil
		})
		if err != nil {
			return nil, err
		}
		// Shared results are copied; upload may premultiply in place.
		d := *v.(*PixelData)
		d.Pix = append([]byte(nil), d.Pix...)
		return &d, nil
	}
	return func(cb LoadCallback, _ *TextureSource, sync bool) func() {
		if sync {
			data, err := decode()
			cb(err, data)
			return nil
		}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			data, err := decode()
			if ctx.Err() != nil {
				cb(ErrLoadCanceled, nil)
				return
			}
			cb(err, data)
		}()
		return cancel
	}
}

// imagePixels converts img to premultiplied RGBA, scaling it down when it
// exceeds o.maxSize.
func imagePixels(img image.Image, o loaderOptions) *PixelData {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scaled := false
	if o.maxSize > 0 && (w > o.maxSize || h > o.maxSize) {
		if w >= h {
			h = max(1, h*o.maxSize/w)
			w = o.maxSize
		} else {
			w = max(1, w*o.maxSize/h)
			h = o.maxSize
		}
		scaled = true
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if scaled {
		o.scaler.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	} else {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	}
	hasAlpha := true
	if op, ok := img.(interface{ Opaque() bool }); ok && op.Opaque() {
		hasAlpha = false
	}
	return &PixelData{Pix: dst.Pix, Width: w, Height: h, PremultiplyAlpha: true, HasAlpha: hasAlpha}
}
