// Package imagetest generates small real images for tests.
package imagetest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand/v2"
)

// noise fills an RGBA image with pseudo-random pixels so encoders cannot
// compress it below the validator's minimum size.
func noise(seed uint64, width, height int) *image.RGBA {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.IntN(256)),
				G: uint8(rng.IntN(256)),
				B: uint8(rng.IntN(256)),
				A: 255,
			})
		}
	}
	return img
}

// PNG returns an encoded noise PNG. Different seeds give different bytes.
func PNG(seed uint64, width, height int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, noise(seed, width, height)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG returns an encoded noise JPEG.
func JPEG(seed uint64, width, height int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, noise(seed, width, height), &jpeg.Options{Quality: 95}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
