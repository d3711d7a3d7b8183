// Package framediff finds the changed region between two captured frames.
//
// Frames are *image.RGBA values with the same memory layout the display
// capture produces. The engine never retains either frame.
package framediff

import (
	"bytes"
	"image"
	"image/draw"
)

// Margin is added on every side of the changed bounding box so the
// encoded region does not end on a hard edge at JPEG block boundaries.
const Margin = 2

// ComputeDiffRect returns the smallest rectangle enclosing every pixel of
// curr whose |dR|+|dG|+|dB| against prev exceeds threshold, grown by Margin
// and clamped to the frame bounds.
//
// changed is false in two cases the caller must tell apart:
//   - prev is nil, empty, or a different size from curr: the caller has no
//     usable reference and sends a full frame.
//   - no pixel changed: rect is empty and nothing is sent this cycle.
//
// The returned rectangle is expressed in curr's coordinate space.
func ComputeDiffRect(prev, curr *image.RGBA, threshold int) (rect image.Rectangle, changed bool) {
	if !Comparable(prev, curr) {
		return image.Rectangle{}, false
	}

	b := curr.Bounds()
	w, h := b.Dx(), b.Dy()
	minX, minY := w, h
	maxX, maxY := -1, -1

	for y := 0; y < h; y++ {
		po := y * prev.Stride
		co := y * curr.Stride
		prow := prev.Pix[po : po+w*4]
		crow := curr.Pix[co : co+w*4]

		// Rows that are byte-identical cannot contribute.
		if bytes.Equal(prow, crow) {
			continue
		}

		for x := 0; x < w; x++ {
			i := x * 4
			d := absDiff(prow[i], crow[i]) + absDiff(prow[i+1], crow[i+1]) + absDiff(prow[i+2], crow[i+2])
			if d <= threshold {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < 0 {
		return image.Rectangle{}, false
	}

	r := image.Rect(minX-Margin, minY-Margin, maxX+1+Margin, maxY+1+Margin)
	r = r.Intersect(image.Rect(0, 0, w, h))
	return r.Add(b.Min), true
}

// Comparable reports whether prev can serve as a diff reference for curr.
func Comparable(prev, curr *image.RGBA) bool {
	if prev == nil || curr == nil {
		return false
	}
	pb, cb := prev.Bounds(), curr.Bounds()
	if pb.Empty() || cb.Empty() {
		return false
	}
	return pb.Dx() == cb.Dx() && pb.Dy() == cb.Dy()
}

// Crop returns an owned copy of the rect region of img, rebased to (0,0).
func Crop(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

// Clone returns an owned copy of img with the same bounds.
func Clone(img *image.RGBA) *image.RGBA {
	out := &image.RGBA{
		Pix:    make([]byte, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(out.Pix, img.Pix)
	return out
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
