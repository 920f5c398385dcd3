// Package shaders holds the WGSL sources for every render pipeline in the
// engine, embedded at build time.
package shaders

import _ "embed"

// Slice is the per-slice transform chain: mesh warp, perspective, input
// crop with flip/rotation, mask, color correction, edge blend, opacity.
//
//go:embed slice.wgsl
var Slice string

// ScreenColor is the screen-level color correction pass.
//
//go:embed screen_color.wgsl
var ScreenColor string

// Blit samples a texture onto a full target, used for presenting delayed
// output to surfaces.
//
//go:embed blit.wgsl
var Blit string

// LayerQuad draws one layer into the environment as a tiled, transformed,
// instanced quad.
//
//go:embed layer_quad.wgsl
var LayerQuad string

// EffectInvert inverts RGB.
//
//go:embed effect_invert.wgsl
var EffectInvert string

// EffectAdjust applies brightness/contrast/gamma/saturation.
//
//go:embed effect_adjust.wgsl
var EffectAdjust string

// EffectPixelate quantizes sampling coordinates to a cell grid.
//
//go:embed effect_pixelate.wgsl
var EffectPixelate string

// EffectBlur is a separable box blur; the runtime dispatches it twice with
// a direction uniform (horizontal then vertical).
//
//go:embed effect_blur.wgsl
var EffectBlur string

// EffectRain displaces sampling along falling streaks driven by a storage
// buffer of drops.
//
//go:embed effect_rain.wgsl
var EffectRain string
