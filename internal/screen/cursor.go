package screen

import (
	"image"
	"image/color"
)

// CursorSize is the height and width of the overlay arrow in pixels.
const CursorSize = 20

const cursorAlpha = 180

var (
	cursorIdle  = color.RGBA{A: 255}
	cursorLeft  = color.RGBA{R: 255, A: 255}
	cursorRight = color.RGBA{B: 255, A: 255}
	cursorEdge  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// cursorColor picks the fill for the viewer's button state. Left wins over
// right when both are held.
func cursorColor(left, right bool) color.RGBA {
	switch {
	case left:
		return cursorLeft
	case right:
		return cursorRight
	}
	return cursorIdle
}

// arrow returns the overlay polygon with its tip at p.
func arrow(p image.Point) [4]image.Point {
	s := CursorSize
	return [4]image.Point{
		p,
		{p.X + s, p.Y + s/2},
		{p.X + s/3, p.Y + s},
		{p.X, p.Y + s/3},
	}
}

// DrawCursor paints the virtual pointer into img with its tip at p: a
// translucent arrow in fill with a one pixel white outline. Pixels outside
// img are clipped.
func DrawCursor(img *image.RGBA, p image.Point, fill color.RGBA) {
	poly := arrow(p)
	box := image.Rect(p.X, p.Y, p.X+CursorSize+1, p.Y+CursorSize+1).Intersect(img.Bounds())

	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			if !inside(poly, x, y) {
				continue
			}
			if !inside(poly, x-1, y) || !inside(poly, x+1, y) || !inside(poly, x, y-1) || !inside(poly, x, y+1) {
				img.SetRGBA(x, y, cursorEdge)
				continue
			}
			img.SetRGBA(x, y, blend(img.RGBAAt(x, y), fill, cursorAlpha))
		}
	}
}

// inside is an even-odd test of the pixel centre against poly.
func inside(poly [4]image.Point, x, y int) bool {
	px, py := float64(x)+0.5, float64(y)+0.5
	in := false
	j := len(poly) - 1
	for i := range poly {
		xi, yi := float64(poly[i].X), float64(poly[i].Y)
		xj, yj := float64(poly[j].X), float64(poly[j].Y)
		if (yi > py) != (yj > py) && px < (xj-xi)*(py-yi)/(yj-yi)+xi {
			in = !in
		}
		j = i
	}
	return in
}

func blend(dst, src color.RGBA, alpha uint32) color.RGBA {
	mix := func(d, s uint8) uint8 {
		return uint8((uint32(s)*alpha + uint32(d)*(255-alpha)) / 255)
	}
	return color.RGBA{R: mix(dst.R, src.R), G: mix(dst.G, src.G), B: mix(dst.B, src.B), A: 255}
}
