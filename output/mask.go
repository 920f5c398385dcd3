package output

import "math"

// MaskSize is the side of the rasterized mask atlas in texels.
const MaskSize = 256

// RasterizeMask renders a mask shape into a size x size RGBA buffer whose
// alpha channel encodes coverage (255 inside, 0 outside, feather ramp
// between). Runs on the CPU, on mask change only.
func RasterizeMask(mask *SliceMask, size int) []byte {
	pixels := make([]byte, size*size*4)

	switch mask.Shape.Kind {
	case MaskRectangle:
		rasterizeRectangle(pixels, size, mask.Shape.X, mask.Shape.Y,
			mask.Shape.W, mask.Shape.H, mask.Feather)
	case MaskEllipse:
		rasterizeEllipse(pixels, size, mask.Shape.Center.X, mask.Shape.Center.Y,
			mask.Shape.RadiusX, mask.Shape.RadiusY, mask.Feather)
	case MaskPolygon:
		rasterizePolygon(pixels, size, mask.Shape.Points, mask.Feather)
	case MaskBezier:
		// Sample each segment into a polygon, then run the polygon
		// rasterizer.
		var points []Point
		for _, seg := range mask.Shape.Segments {
			for i := 0; i < 16; i++ {
				points = append(points, seg.Evaluate(float64(i)/16))
			}
		}
		if len(points) > 0 {
			rasterizePolygon(pixels, size, points, mask.Feather)
		}
	}

	return pixels
}

// writeCoverage stores one texel: white RGB with coverage in alpha.
func writeCoverage(pixels []byte, size, px, py int, alpha float64) {
	idx := (py*size + px) * 4
	pixels[idx] = 255
	pixels[idx+1] = 255
	pixels[idx+2] = 255
	pixels[idx+3] = byte(math.Min(math.Max(alpha, 0), 1) * 255)
}

// rasterizeRectangle uses the rectangle's signed distance; feather turns
// the hard boundary into a soft edge.
func rasterizeRectangle(pixels []byte, size int, x, y, w, h, feather float64) {
	sizeF := float64(size)

	for py := 0; py < size; py++ {
		for px := 0; px < size; px++ {
			u := float64(px) / sizeF
			v := float64(py) / sizeF

			var dx, dy float64
			switch {
			case u < x:
				dx = x - u
			case u > x+w:
				dx = u - (x + w)
			}
			switch {
			case v < y:
				dy = y - v
			case v > y+h:
				dy = v - (y + h)
			}

			var dist float64
			if dx == 0 && dy == 0 {
				// Inside: negative distance to the nearest edge.
				dist = -math.Min(math.Min(u-x, x+w-u), math.Min(v-y, y+h-v))
			} else {
				dist = math.Hypot(dx, dy)
			}

			var alpha float64
			if feather > 0 {
				alpha = 1 - math.Min(math.Max(dist/feather, 0), 1)
			} else if dist <= 0 {
				alpha = 1
			}
			writeCoverage(pixels, size, px, py, alpha)
		}
	}
}

// rasterizeEllipse approximates distance from the normalized radial
// coordinate, scaled by the mean radius.
func rasterizeEllipse(pixels []byte, size int, cx, cy, rx, ry, feather float64) {
	sizeF := float64(size)
	rx = math.Max(rx, 1e-4)
	ry = math.Max(ry, 1e-4)
	avgRadius := (rx + ry) / 2

	for py := 0; py < size; py++ {
		for px := 0; px < size; px++ {
			u := float64(px) / sizeF
			v := float64(py) / sizeF

			dx := (u - cx) / rx
			dy := (v - cy) / ry
			normDist := math.Hypot(dx, dy)
			dist := (normDist - 1) * avgRadius

			var alpha float64
			if feather > 0 {
				alpha = 1 - math.Min(math.Max(dist/feather, 0), 1)
			} else if normDist <= 1 {
				alpha = 1
			}
			writeCoverage(pixels, size, px, py, alpha)
		}
	}
}

// rasterizePolygon combines a ray-cast inside test with shortest-edge
// distance for the feather band.
func rasterizePolygon(pixels []byte, size int, points []Point, feather float64) {
	if len(points) < 3 {
		return
	}
	sizeF := float64(size)

	for py := 0; py < size; py++ {
		for px := 0; px < size; px++ {
			u := float64(px) / sizeF
			v := float64(py) / sizeF

			inside := pointInPolygon(u, v, points)

			// Inside keeps full coverage; the feather band ramps the
			// outside approach.
			var alpha float64
			switch {
			case inside:
				alpha = 1
			case feather > 0:
				dist := distanceToPolygonEdge(u, v, points)
				alpha = 1 - math.Min(dist/feather, 1)
			}
			writeCoverage(pixels, size, px, py, alpha)
		}
	}
}

// pointInPolygon is the even-odd ray cast.
func pointInPolygon(x, y float64, points []Point) bool {
	inside := false
	j := len(points) - 1
	for i := 0; i < len(points); i++ {
		xi, yi := points[i].X, points[i].Y
		xj, yj := points[j].X, points[j].Y
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// distanceToPolygonEdge returns the minimum distance to any edge.
func distanceToPolygonEdge(x, y float64, points []Point) float64 {
	minDist := math.MaxFloat64
	n := len(points)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		d := pointToSegmentDistance(x, y, points[i].X, points[i].Y, points[j].X, points[j].Y)
		if d < minDist {
			minDist = d
		}
	}
	return minDist
}

// pointToSegmentDistance projects (px,py) onto the segment, clamped to its
// endpoints.
func pointToSegmentDistance(px, py, x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	lenSq := dx*dx + dy*dy
	if lenSq < 1e-8 {
		return math.Hypot(px-x1, py-y1)
	}
	t := ((px-x1)*dx + (py-y1)*dy) / lenSq
	t = math.Min(math.Max(t, 0), 1)
	return math.Hypot(px-(x1+t*dx), py-(y1+t*dy))
}
