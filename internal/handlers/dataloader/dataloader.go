// Package dataloader supplies camera frames to a pipeline.
//
// The synthetic source renders a bright workspace board with coloured
// blocks on it, which is enough to drive calibration and detection
// without a camera attached.
package dataloader

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/imaging"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/resilience"
)

// Frame is one captured image
type Frame struct {
	Index int
	Image *image.RGBA
}

// Source produces frames. Next blocks until a frame is ready or ctx ends.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// Block is a coloured square placed on the board, in pixels
type Block struct {
	Label string `mapstructure:"label"`
	X     int    `mapstructure:"x"`
	Y     int    `mapstructure:"y"`
	Size  int    `mapstructure:"size"`
}

// Config configures the synthetic source
type Config struct {
	Width       int           `mapstructure:"width"`
	Height      int           `mapstructure:"height"`
	Margin      int           `mapstructure:"margin"`
	Interval    time.Duration `mapstructure:"interval"`
	LogInterval int           `mapstructure:"log_interval"`
	Blocks      []Block       `mapstructure:"blocks"`
}

// Palette holds the render colour of each known block label
var Palette = map[string]color.RGBA{
	"red":    {R: 200, G: 30, B: 30, A: 255},
	"green":  {R: 30, G: 180, B: 60, A: 255},
	"blue":   {R: 30, G: 60, B: 200, A: 255},
	"yellow": {R: 220, G: 200, B: 30, A: 255},
}

var (
	background = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	board      = color.RGBA{R: 220, G: 220, B: 220, A: 255}
)

// FromConfig decodes a handler init block
func FromConfig(cfg pipeline.Config) (Config, error) {
	var c Config
	if err := cfg.Decode(&c); err != nil {
		return c, fmt.Errorf("dataloader config: %w", err)
	}
	if c.Width <= 0 {
		c.Width = 640
	}
	if c.Height <= 0 {
		c.Height = 480
	}
	if c.Margin < 0 || 2*c.Margin >= c.Width || 2*c.Margin >= c.Height {
		return c, errors.New("dataloader config: margin leaves no board")
	}
	if c.LogInterval <= 0 {
		c.LogInterval = 100
	}
	for _, b := range c.Blocks {
		if _, ok := Palette[b.Label]; !ok {
			return c, fmt.Errorf("dataloader config: unknown block colour %q", b.Label)
		}
	}
	return c, nil
}

// Synthetic renders the same scene on every call
type Synthetic struct {
	cfg    Config
	scene  *image.RGBA
	index  int
	last   time.Time
	logger *zap.Logger
}

// NewSynthetic creates a synthetic source
func NewSynthetic(cfg Config, logger *zap.Logger) *Synthetic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthetic{cfg: cfg, scene: render(cfg), logger: logger}
}

// Next returns a copy of the scene, pacing calls to the configured interval
func (s *Synthetic) Next(ctx context.Context) (Frame, error) {
	if s.cfg.Interval > 0 && !s.last.IsZero() {
		if wait := s.cfg.Interval - time.Since(s.last); wait > 0 {
			if err := resilience.Sleep(ctx, wait); err != nil {
				return Frame{}, err
			}
		}
	}
	s.last = time.Now()

	frame := Frame{Index: s.index, Image: imaging.Clone(s.scene)}
	if s.index%s.cfg.LogInterval == 0 {
		s.logger.Info("Frame captured",
			zap.Int("index", s.index),
			zap.Int("width", s.cfg.Width),
			zap.Int("height", s.cfg.Height))
	}
	s.index++
	return frame, nil
}

func render(cfg Config) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	imaging.Fill(img, img.Bounds(), background)
	imaging.Fill(img, image.Rect(cfg.Margin, cfg.Margin, cfg.Width-cfg.Margin, cfg.Height-cfg.Margin), board)
	for _, b := range cfg.Blocks {
		half := b.Size / 2
		imaging.Fill(img, image.Rect(b.X-half, b.Y-half, b.X+half, b.Y+half), Palette[b.Label])
	}
	return img
}
