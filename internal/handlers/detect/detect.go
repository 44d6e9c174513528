// Package detect finds coloured blocks in a rectified frame and maps
// their pixel positions into the arm's planar coordinates.
package detect

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/imaging"
)

// Range is an inclusive HSV window, in 8-bit OpenCV units
type Range struct {
	Lower [3]int `mapstructure:"lower"`
	Upper [3]int `mapstructure:"upper"`
}

func (r Range) contains(h, s, v uint8) bool {
	return int(h) >= r.Lower[0] && int(h) <= r.Upper[0] &&
		int(s) >= r.Lower[1] && int(s) <= r.Upper[1] &&
		int(v) >= r.Lower[2] && int(v) <= r.Upper[2]
}

// Mapping converts pixels to metres in the arm frame
type Mapping struct {
	PixelsPerMeter [2]float64    `mapstructure:"pixels_per_meter"`
	Rotation       [2][2]float64 `mapstructure:"rotation_matrix"`
	Offset         [2]float64    `mapstructure:"offset"`
}

// Config configures the detector
type Config struct {
	Colors  map[string]Range `mapstructure:"color_hsv_thresholds"`
	Mapping Mapping          `mapstructure:"coord_mapping"`
	MinArea int              `mapstructure:"min_area"`
	// MapCoords disables the pixel to metre mapping when false
	MapCoords *bool `mapstructure:"do_coord_mapping"`
}

// DefaultColors are tuned for the stock red, green, blue and yellow blocks
var DefaultColors = map[string]Range{
	"red":    {Lower: [3]int{0, 43, 46}, Upper: [3]int{10, 255, 255}},
	"green":  {Lower: [3]int{35, 43, 46}, Upper: [3]int{77, 255, 255}},
	"blue":   {Lower: [3]int{100, 43, 46}, Upper: [3]int{124, 255, 255}},
	"yellow": {Lower: [3]int{26, 43, 46}, Upper: [3]int{34, 255, 255}},
}

// DefaultMapping matches a 640x480 rectified view of the stock mat
var DefaultMapping = Mapping{
	PixelsPerMeter: [2]float64{4200, 4000},
	Rotation:       [2][2]float64{{0, -1}, {-1, 0}},
	Offset:         [2]float64{0.27, 0.0762},
}

// Detection is one located block. Box is x, y, width, height.
type Detection struct {
	Label  string     `json:"label"`
	Center [2]float64 `json:"center"`
	Box    [4]float64 `json:"box"`
	Area   int        `json:"area"`
}

// Map renders the detection for queue publishing
func (d Detection) Map() map[string]any {
	return map[string]any{
		"label":  d.Label,
		"center": []float64{d.Center[0], d.Center[1]},
		"box":    []float64{d.Box[0], d.Box[1], d.Box[2], d.Box[3]},
		"area":   d.Area,
	}
}

// Result holds the detections of one frame in label order
type Result struct {
	Detections []Detection
	Annotated  *image.RGBA
}

// FromConfig decodes a handler init block
func FromConfig(cfg pipeline.Config) (Config, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return c, fmt.Errorf("detect config: %w", err)
	}
	if len(c.Colors) == 0 {
		c.Colors = DefaultColors
	}
	if c.Mapping.PixelsPerMeter == [2]float64{} {
		c.Mapping = DefaultMapping
	}
	if c.Mapping.PixelsPerMeter[0] <= 0 || c.Mapping.PixelsPerMeter[1] <= 0 {
		return c, fmt.Errorf("detect config: pixels_per_meter must be positive")
	}
	if c.MinArea <= 0 {
		c.MinArea = 1000
	}
	return c, nil
}

// Detector locates blocks by colour
type Detector struct {
	cfg    Config
	labels []string
}

// New creates a detector
func New(cfg Config) *Detector {
	labels := make([]string, 0, len(cfg.Colors))
	for label := range cfg.Colors {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return &Detector{cfg: cfg, labels: labels}
}

type blob struct {
	count                  int
	sumX, sumY             int
	minX, minY, maxX, maxY int
}

func (b *blob) add(x, y int) {
	if b.count == 0 {
		b.minX, b.minY, b.maxX, b.maxY = x, y, x, y
	}
	b.count++
	b.sumX += x
	b.sumY += y
	b.minX, b.maxX = min(b.minX, x), max(b.maxX, x)
	b.minY, b.maxY = min(b.minY, y), max(b.maxY, y)
}

// Process scans the frame once, collecting the pixels that fall in each
// colour window. Colours whose pixel count is below MinArea are skipped.
func (d *Detector) Process(frame *image.RGBA) Result {
	blobs := make(map[string]*blob, len(d.labels))
	for _, label := range d.labels {
		blobs[label] = &blob{}
	}

	bounds := frame.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			h, s, v := imaging.HSV(frame.RGBAAt(x, y))
			for _, label := range d.labels {
				if d.cfg.Colors[label].contains(h, s, v) {
					blobs[label].add(x, y)
					break
				}
			}
		}
	}

	annotated := imaging.Clone(frame)
	var detections []Detection
	for _, label := range d.labels {
		b := blobs[label]
		if b.count < d.cfg.MinArea {
			continue
		}
		rect := image.Rect(b.minX, b.minY, b.maxX+1, b.maxY+1)
		imaging.Outline(annotated, rect, color.RGBA{R: 255, B: 255, A: 255}, 2)

		cx := float64(b.sumX) / float64(b.count)
		cy := float64(b.sumY) / float64(b.count)
		det := Detection{
			Label:  label,
			Center: [2]float64{cx, cy},
			Box:    [4]float64{float64(rect.Min.X), float64(rect.Min.Y), float64(rect.Dx()), float64(rect.Dy())},
			Area:   b.count,
		}
		if d.cfg.MapCoords == nil || *d.cfg.MapCoords {
			det = d.mapDetection(det)
		}
		detections = append(detections, det)
	}
	return Result{Detections: detections, Annotated: annotated}
}

// MapPoint converts a pixel position to arm coordinates
func (d *Detector) MapPoint(x, y float64) (float64, float64) {
	m := d.cfg.Mapping
	x /= m.PixelsPerMeter[0]
	y /= m.PixelsPerMeter[1]
	rx := m.Rotation[0][0]*x + m.Rotation[0][1]*y + m.Offset[0]
	ry := m.Rotation[1][0]*x + m.Rotation[1][1]*y + m.Offset[1]
	return rx, ry
}

func (d *Detector) mapDetection(det Detection) Detection {
	m := d.cfg.Mapping
	det.Center[0], det.Center[1] = d.MapPoint(det.Center[0], det.Center[1])
	bx, by := d.MapPoint(det.Box[0], det.Box[1])
	det.Box = [4]float64{bx, by, det.Box[2] / m.PixelsPerMeter[0], det.Box[3] / m.PixelsPerMeter[1]}
	return det
}
