// Package calibrate locates the bright workspace board in a frame and
// computes the perspective transform that maps it onto the full frame.
package calibrate

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gonum.org/v1/gonum/mat"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/imaging"
)

// ErrNoBoard is returned when no large enough bright quadrilateral is visible
var ErrNoBoard = errors.New("workspace board not found")

// Config configures board detection
type Config struct {
	BinaryThreshold int     `mapstructure:"binary_threshold"`
	MinAreaFraction float64 `mapstructure:"min_area_fraction"`
}

// Result is a successful calibration
type Result struct {
	// Corners are ordered top-left, top-right, bottom-right, bottom-left
	Corners [4]image.Point
	// Transform maps frame pixels onto the rectified board
	Transform *mat.Dense
	// Annotated is the input frame with the detected corners marked
	Annotated *image.RGBA
}

// FromConfig decodes a handler init block
func FromConfig(cfg pipeline.Config) (Config, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return c, fmt.Errorf("calibrate config: %w", err)
	}
	if c.BinaryThreshold <= 0 || c.BinaryThreshold > 255 {
		c.BinaryThreshold = 140
	}
	if c.MinAreaFraction <= 0 || c.MinAreaFraction >= 1 {
		c.MinAreaFraction = 0.5
	}
	return c, nil
}

// Calibrator finds the board in frames
type Calibrator struct {
	cfg Config
}

// New creates a calibrator
func New(cfg Config) *Calibrator {
	return &Calibrator{cfg: cfg}
}

// Process thresholds the frame, takes the extreme bright pixels as the
// board corners and solves for the transform onto the frame rectangle.
func (c *Calibrator) Process(frame *image.RGBA) (Result, error) {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()

	var (
		found            bool
		tl, tr, br, bl   image.Point
		minSum, maxSum   int
		minDiff, maxDiff int
	)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if int(imaging.Gray(frame.RGBAAt(x, y))) <= c.cfg.BinaryThreshold {
				continue
			}
			sum, diff := x+y, y-x
			if !found {
				found = true
				tl, tr, br, bl = image.Pt(x, y), image.Pt(x, y), image.Pt(x, y), image.Pt(x, y)
				minSum, maxSum, minDiff, maxDiff = sum, sum, diff, diff
				continue
			}
			if sum < minSum {
				minSum, tl = sum, image.Pt(x, y)
			}
			if sum > maxSum {
				maxSum, br = sum, image.Pt(x, y)
			}
			if diff < minDiff {
				minDiff, tr = diff, image.Pt(x, y)
			}
			if diff > maxDiff {
				maxDiff, bl = diff, image.Pt(x, y)
			}
		}
	}
	if !found {
		return Result{}, ErrNoBoard
	}

	corners := [4]image.Point{tl, tr, br, bl}
	if area := quadArea(corners); area < c.cfg.MinAreaFraction*float64(w*h) {
		return Result{}, fmt.Errorf("%w: area %.0f of %d", ErrNoBoard, area, w*h)
	}

	dst := [4]image.Point{{0, 0}, {w - 1, 0}, {w - 1, h - 1}, {0, h - 1}}
	transform, err := PerspectiveTransform(corners, dst)
	if err != nil {
		return Result{}, err
	}

	annotated := imaging.Clone(frame)
	for _, p := range corners {
		imaging.Marker(annotated, p, color.RGBA{G: 255, A: 255}, 3)
	}
	return Result{Corners: corners, Transform: transform, Annotated: annotated}, nil
}

// PerspectiveTransform solves for the 3x3 homography mapping each src
// point onto the matching dst point.
func PerspectiveTransform(src, dst [4]image.Point) (*mat.Dense, error) {
	a := mat.NewDense(8, 8, nil)
	rhs := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := float64(src[i].X), float64(src[i].Y)
		u, v := float64(dst[i].X), float64(dst[i].Y)
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		rhs.SetVec(2*i, u)
		rhs.SetVec(2*i+1, v)
	}

	var coeffs mat.VecDense
	if err := coeffs.SolveVec(a, rhs); err != nil {
		return nil, fmt.Errorf("solve perspective transform: %w", err)
	}
	data := make([]float64, 9)
	for i := 0; i < 8; i++ {
		data[i] = coeffs.AtVec(i)
	}
	data[8] = 1
	return mat.NewDense(3, 3, data), nil
}

// Apply maps (x, y) through the transform
func Apply(transform mat.Matrix, x, y float64) (float64, float64) {
	in := mat.NewVecDense(3, []float64{x, y, 1})
	var out mat.VecDense
	out.MulVec(transform, in)
	w := out.AtVec(2)
	return out.AtVec(0) / w, out.AtVec(1) / w
}

// quadArea is the shoelace area of an ordered quadrilateral
func quadArea(p [4]image.Point) float64 {
	var twice int
	for i := range p {
		j := (i + 1) % len(p)
		twice += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	if twice < 0 {
		twice = -twice
	}
	return float64(twice) / 2
}
