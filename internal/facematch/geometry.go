package facematch

// ConvertPixelBBoxToRelative converts a pixel bbox [x1, y1, x2, y2] to a relative
// bounding box. Malformed input or unknown image dimensions yield a zero box.
func ConvertPixelBBoxToRelative(bbox []float64, width, height int) BoundingBox {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return BoundingBox{}
	}
	x1 := clamp01(bbox[0] / float64(width))
	y1 := clamp01(bbox[1] / float64(height))
	x2 := clamp01(bbox[2] / float64(width))
	y2 := clamp01(bbox[3] / float64(height))
	if x2 < x1 || y2 < y1 {
		return BoundingBox{}
	}
	return BoundingBox{Left: x1, Top: y1, Width: x2 - x1, Height: y2 - y1}
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
