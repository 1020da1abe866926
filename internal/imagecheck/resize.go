package imagecheck

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Dimensions returns the pixel width and height from the image header.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Downscale resizes an image to fit within maxSize (width or height) while keeping
// aspect ratio. Images already within bounds are returned untouched and the second
// return value is false.
func Downscale(data []byte, maxSize int) ([]byte, bool, error) {
	width, height, err := Dimensions(data)
	if err != nil {
		return nil, false, err
	}
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return data, false, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode image: %w", err)
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, false, fmt.Errorf("failed to encode resized image: %w", err)
	}

	return buf.Bytes(), true, nil
}
