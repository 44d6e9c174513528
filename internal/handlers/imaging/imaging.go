// Package imaging holds the small raster helpers shared by the frame
// handlers.
package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultQuality is the JPEG quality used for published frames
const DefaultQuality = 85

// EncodeJPEG renders img as a base64 JPEG string
func EncodeJPEG(img image.Image, quality int) (string, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Clone copies img into a new RGBA image
func Clone(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

// Gray returns the BT.601 luma of c
func Gray(c color.RGBA) uint8 {
	return uint8(0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B) + 0.5)
}

// HSV converts c using the 8-bit OpenCV ranges: hue 0-180, saturation
// and value 0-255.
func HSV(c color.RGBA) (h, s, v uint8) {
	r, g, b := float64(c.R), float64(c.G), float64(c.B)
	maxc := math.Max(r, math.Max(g, b))
	minc := math.Min(r, math.Min(g, b))
	delta := maxc - minc

	if maxc > 0 {
		s = uint8(delta/maxc*255 + 0.5)
	}
	v = uint8(maxc)
	if delta == 0 {
		return 0, s, v
	}

	var deg float64
	switch maxc {
	case r:
		deg = 60 * (g - b) / delta
	case g:
		deg = 60 * (2 + (b-r)/delta)
	default:
		deg = 60 * (4 + (r-g)/delta)
	}
	if deg < 0 {
		deg += 360
	}
	return uint8(deg/2 + 0.5), s, v
}

// Fill paints r with c
func Fill(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

// Outline draws a rectangle border of the given thickness
func Outline(img draw.Image, r image.Rectangle, c color.Color, thickness int) {
	Fill(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), c)
	Fill(img, image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), c)
	Fill(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), c)
	Fill(img, image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// Marker draws a filled square of side 2*radius+1 centred on p
func Marker(img draw.Image, p image.Point, c color.Color, radius int) {
	Fill(img, image.Rect(p.X-radius, p.Y-radius, p.X+radius+1, p.Y+radius+1), c)
}

// Warp applies the 3x3 perspective transform h to src and samples the
// result into a w x h image using nearest-neighbour lookup.
func Warp(src *image.RGBA, transform mat.Matrix, w, h int) (*image.RGBA, error) {
	var inv mat.Dense
	if err := inv.Inverse(transform); err != nil {
		return nil, err
	}
	m := [9]float64{
		inv.At(0, 0), inv.At(0, 1), inv.At(0, 2),
		inv.At(1, 0), inv.At(1, 1), inv.At(1, 2),
		inv.At(2, 0), inv.At(2, 1), inv.At(2, 2),
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	bounds := src.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := float64(x), float64(y)
			den := m[6]*fx + m[7]*fy + m[8]
			if den == 0 {
				continue
			}
			sx := int(math.Round((m[0]*fx + m[1]*fy + m[2]) / den))
			sy := int(math.Round((m[3]*fx + m[4]*fy + m[5]) / den))
			if !(image.Point{X: sx, Y: sy}).In(bounds) {
				continue
			}
			si := src.PixOffset(sx, sy)
			di := out.PixOffset(x, y)
			copy(out.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return out, nil
}
