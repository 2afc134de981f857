package strata

import "errors"

var (
	// ErrTextureTooLarge is reported when a loaded image exceeds the device's
	// maximum texture size. The texture is not uploaded.
	ErrTextureTooLarge = errors.New("strata: texture exceeds maximum texture size")

	// ErrZeroSize is reported when a texture or render target has no area.
	ErrZeroSize = errors.New("strata: zero-size texture")

	// ErrNoLoader is reported when a texture source has no loader to fetch
	// its pixels from.
	ErrNoLoader = errors.New("strata: texture source has no loader")

	// ErrLoadCanceled is passed to load callbacks of canceled loads.
	ErrLoadCanceled = errors.New("strata: texture load canceled")

	// ErrStageDestroyed is reported when a destroyed stage is used.
	ErrStageDestroyed = errors.New("strata: stage destroyed")

	// ErrProgramUnusable is returned by programs that failed to compile.
	ErrProgramUnusable = errors.New("strata: program unusable")

	// ErrForeignTexture is returned by the Ebitengine device for textures it
	// did not create.
	ErrForeignTexture = errors.New("strata: texture not created by this device")
)
