package effects

import (
	"math"

	"github.com/luxcast/luxcast/internal/shaders"
)

// RegisterBuiltins adds the built-in effect types to the catalogue. Called
// once at startup, before the render thread; double registration is an
// error.
func RegisterBuiltins() error {
	builtins := []Descriptor{
		{
			Tag:      "invert",
			Name:     "Invert",
			Category: "color",
			WGSL:     shaders.EffectInvert,
			Defaults: []Parameter{
				{Name: "amount", Value: 1, Default: 1, Min: 0, Max: 1},
			},
			CPU: invertCPU,
		},
		{
			Tag:      "adjust",
			Name:     "Adjust",
			Category: "color",
			WGSL:     shaders.EffectAdjust,
			Defaults: []Parameter{
				{Name: "brightness", Value: 0, Default: 0, Min: -1, Max: 1},
				{Name: "contrast", Value: 1, Default: 1, Min: 0, Max: 2},
				{Name: "gamma", Value: 1, Default: 1, Min: 0.1, Max: 4},
				{Name: "saturation", Value: 1, Default: 1, Min: 0, Max: 2},
			},
			// Uniform is exactly the four parameters; no time slot.
			PackUniform: func(params []Parameter, _ float64, _, _ uint32, _ int) []float32 {
				return []float32{
					float32(params[0].Value),
					float32(params[1].Value),
					float32(params[2].Value),
					float32(params[3].Value),
				}
			},
		},
		{
			Tag:      "pixelate",
			Name:     "Pixelate",
			Category: "distort",
			WGSL:     shaders.EffectPixelate,
			Defaults: []Parameter{
				{Name: "cells_x", Value: 64, Default: 64, Min: 1, Max: 1024},
				{Name: "cells_y", Value: 36, Default: 36, Min: 1, Max: 1024},
			},
		},
		{
			Tag:      "blur",
			Name:     "Blur",
			Category: "blur",
			WGSL:     shaders.EffectBlur,
			Passes:   2,
			Defaults: []Parameter{
				{Name: "radius", Value: 4, Default: 4, Min: 0, Max: 64},
			},
			PackUniform: func(params []Parameter, _ float64, w, h uint32, pass int) []float32 {
				dirX, dirY := float32(1), float32(0)
				if pass == 1 {
					dirX, dirY = 0, 1
				}
				return []float32{
					float32(params[0].Value), 0,
					dirX, dirY,
					1 / float32(max32(w, 1)), 1 / float32(max32(h, 1)),
					0, 0,
				}
			},
		},
		{
			Tag:              "rain",
			Name:             "Rain",
			Category:         "generate",
			WGSL:             shaders.EffectRain,
			DropBufferFloats: rainDropCount * 4,
			Defaults: []Parameter{
				{Name: "intensity", Value: 0.5, Default: 0.5, Min: 0, Max: 1},
				{Name: "drops", Value: 48, Default: 48, Min: 1, Max: rainDropCount},
			},
			PackUniform: func(params []Parameter, timeSeconds float64, _, _ uint32, _ int) []float32 {
				return []float32{
					float32(params[0].Value),
					float32(timeSeconds),
					float32(params[1].Value),
					0,
				}
			},
			UpdateStorage: updateRainDrops,
		},
	}

	for _, d := range builtins {
		if err := Register(d); err != nil {
			return err
		}
	}
	return nil
}

// rainDropCount is the drop table capacity.
const rainDropCount = 128

// updateRainDrops fills the drop table. Drops are deterministic functions
// of their index so the table is stable across frames; the shader animates
// them with the time uniform.
func updateRainDrops(_ []Parameter, _ float64, dst []float32) {
	for i := 0; i < rainDropCount; i++ {
		// Low-discrepancy positions keep the streaks evenly spread.
		x := math.Mod(float64(i)*0.61803398875, 1.0)
		phase := math.Mod(float64(i)*0.75487766625, 1.0)
		speed := 0.35 + 0.4*math.Mod(float64(i)*0.56984029, 1.0)
		length := 0.08 + 0.12*math.Mod(float64(i)*0.38196601125, 1.0)

		dst[i*4+0] = float32(x)
		dst[i*4+1] = float32(phase)
		dst[i*4+2] = float32(speed)
		dst[i*4+3] = float32(length)
	}
}

// invertCPU is the CPU runtime for the invert effect.
func invertCPU(params []Parameter, _ float64, pixels []byte, _, _ int) {
	amount := params[0].Value
	for i := 0; i+3 < len(pixels); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(pixels[i+c])
			pixels[i+c] = byte(v + (255-2*v)*amount)
		}
	}
}

func max32(v uint32, lo uint32) uint32 {
	if v < lo {
		return lo
	}
	return v
}
