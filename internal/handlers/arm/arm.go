// Package arm sequences pick, place and stack moves for a desktop arm.
//
// The Controller turns detections into motion commands and sends them
// through a Driver: SimArm records them in memory, SerialArm speaks the
// MyCobot serial framing over go.bug.st/serial.
package arm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/detect"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/resilience"
)

// Tasks
const (
	TaskPickAndPlace = "pick_and_place"
	TaskPickAndStack = "pick_and_stack"
)

// Driver names
const (
	DriverSim    = "sim"
	DriverSerial = "serial"
)

// AxisZ is the coordinate id of the vertical axis
const AxisZ = 3

// Pose is x, y, z in millimetres followed by rx, ry, rz in degrees
type Pose [6]float64

// Driver moves the hardware. Calls return once the command is sent;
// the controller waits the configured delay for motion to settle.
type Driver interface {
	SendAngles(angles []float64, speed int) error
	SendCoords(pose Pose, speed int) error
	SendCoord(axis int, value float64, speed int) error
	SetGripper(value, speed int) error
	Close() error
}

// CoordConfig holds fixed heights and drop poses
type CoordConfig struct {
	PreGraspZ  float64              `mapstructure:"pre_grasp_z"`
	GraspZ     float64              `mapstructure:"grasp_z"`
	PostGraspZ float64              `mapstructure:"post_grasp_z"`
	Place      map[string][]float64 `mapstructure:"place"`
	Stack      StackConfig          `mapstructure:"stack"`
}

// StackConfig places the first block at First and each next one DeltaZ higher
type StackConfig struct {
	First  []float64 `mapstructure:"first"`
	DeltaZ float64   `mapstructure:"delta_z"`
}

// GripperConfig holds the open and closed gripper values
type GripperConfig struct {
	Open  int `mapstructure:"open"`
	Close int `mapstructure:"close"`
}

// Config configures the controller and its driver
type Config struct {
	Driver        string        `mapstructure:"driver"`
	Port          string        `mapstructure:"port"`
	BaudRate      int           `mapstructure:"baud_rate"`
	Task          string        `mapstructure:"task"`
	GraspOffset   []float64     `mapstructure:"grasp_offset"`
	InitAngles    []float64     `mapstructure:"init_angles"`
	Reach         float64       `mapstructure:"reach"`
	UnitsPerMeter float64       `mapstructure:"units_per_meter"`
	Orientation   []float64     `mapstructure:"orientation"`
	Speed         int           `mapstructure:"speed"`
	Delay         time.Duration `mapstructure:"delay"`
	Coords        CoordConfig   `mapstructure:"coord_config"`
	Gripper       GripperConfig `mapstructure:"gripper_config"`
}

// FromConfig decodes a handler init block over the stock defaults
func FromConfig(cfg pipeline.Config) (Config, error) {
	c := Config{
		Driver:        DriverSim,
		Port:          "/dev/ttyUSB0",
		BaudRate:      1000000,
		Task:          TaskPickAndPlace,
		GraspOffset:   []float64{0.005, 0},
		InitAngles:    []float64{39, 0, 0, -71, -8, -8},
		Reach:         0.275,
		UnitsPerMeter: 1000,
		Orientation:   []float64{-175, 0, -45},
		Speed:         40,
		Delay:         time.Second,
		Coords: CoordConfig{
			PreGraspZ:  170,
			GraspZ:     115,
			PostGraspZ: 170,
			Place: map[string][]float64{
				"red":    {75, 230, 115, -175, 0, -45},
				"green":  {10, 230, 115, -175, 0, -45},
				"blue":   {-70, 230, 115, -175, 0, -45},
				"yellow": {140, 230, 115, -175, 0, -45},
			},
			Stack: StackConfig{First: []float64{135, -155, 115, -175, 0, -45}, DeltaZ: 30},
		},
		Gripper: GripperConfig{Open: 100, Close: 20},
	}
	if err := cfg.Decode(&c); err != nil {
		return c, fmt.Errorf("arm config: %w", err)
	}
	return c, c.validate()
}

func (c Config) validate() error {
	if c.Task != TaskPickAndPlace && c.Task != TaskPickAndStack {
		return fmt.Errorf("arm config: unknown task %q", c.Task)
	}
	if len(c.GraspOffset) != 2 {
		return errors.New("arm config: grasp_offset needs 2 values")
	}
	if len(c.Orientation) != 3 {
		return errors.New("arm config: orientation needs 3 values")
	}
	if len(c.Coords.Stack.First) != 6 {
		return errors.New("arm config: stack.first needs 6 values")
	}
	for label, pose := range c.Coords.Place {
		if len(pose) != 6 {
			return fmt.Errorf("arm config: place pose for %s needs 6 values", label)
		}
	}
	return nil
}

// Open connects the configured driver
func Open(cfg Config) (Driver, error) {
	switch cfg.Driver {
	case DriverSim, "":
		return NewSimArm(), nil
	case DriverSerial:
		return OpenSerial(cfg.Port, cfg.BaudRate)
	default:
		return nil, fmt.Errorf("arm config: unknown driver %q", cfg.Driver)
	}
}

// Result reports which blocks were moved
type Result struct {
	Done   []string
	Failed []detect.Detection
}

// Controller drives one arm. Methods are serialized since the pipeline
// may reset the arm from a signal while a pick is in progress.
type Controller struct {
	mu     sync.Mutex
	driver Driver
	cfg    Config
	logger *zap.Logger
}

// NewController creates a controller over driver
func NewController(driver Driver, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{driver: driver, cfg: cfg, logger: logger}
}

// Task returns the configured task
func (c *Controller) Task() string {
	return c.cfg.Task
}

// Reset returns the arm to its initial joint angles
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reset(ctx)
}

// Process picks each reachable detection and places it according to
// task. Unreachable blocks are reported as failed and skipped. A driver
// error aborts the remaining moves.
func (c *Controller) Process(ctx context.Context, objects []detect.Detection, task string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if task == "" {
		task = c.cfg.Task
	}
	var res Result
	for _, obj := range objects {
		cx, cy := obj.Center[0], obj.Center[1]
		if cx > c.cfg.Reach {
			c.logger.Info("Block out of reach",
				zap.String("label", obj.Label),
				zap.Float64("x", cx),
				zap.Float64("y", cy))
			res.Failed = append(res.Failed, obj)
			continue
		}

		drop, err := c.dropPose(task, obj.Label, len(res.Done))
		if err != nil {
			c.logger.Warn("No drop pose for block", zap.String("label", obj.Label), zap.Error(err))
			res.Failed = append(res.Failed, obj)
			continue
		}

		c.logger.Info("Moving block",
			zap.String("label", obj.Label),
			zap.String("task", task),
			zap.Float64("x", cx),
			zap.Float64("y", cy))
		if err := c.pick(ctx, cx, cy); err != nil {
			return res, err
		}
		if err := c.place(ctx, drop); err != nil {
			return res, err
		}
		res.Done = append(res.Done, obj.Label)
	}
	return res, nil
}

// Close releases the driver
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.driver.Close()
}

func (c *Controller) pick(ctx context.Context, cx, cy float64) error {
	x := (cx + c.cfg.GraspOffset[0]) * c.cfg.UnitsPerMeter
	y := (cy + c.cfg.GraspOffset[1]) * c.cfg.UnitsPerMeter
	o := c.cfg.Orientation

	steps := []func() error{
		func() error { return c.driver.SendCoords(Pose{x, y, c.cfg.Coords.PreGraspZ, o[0], o[1], o[2]}, c.cfg.Speed) },
		func() error { return c.driver.SendCoord(AxisZ, c.cfg.Coords.GraspZ, c.cfg.Speed) },
		func() error { return c.driver.SetGripper(c.cfg.Gripper.Close, c.cfg.Speed) },
		func() error { return c.driver.SendCoord(AxisZ, c.cfg.Coords.PostGraspZ, c.cfg.Speed) },
	}
	return c.run(ctx, steps)
}

func (c *Controller) place(ctx context.Context, drop Pose) error {
	lifted := drop
	lifted[2] += 30

	steps := []func() error{
		func() error { return c.driver.SendCoords(drop, c.cfg.Speed) },
		func() error { return c.driver.SetGripper(c.cfg.Gripper.Open, c.cfg.Speed) },
		func() error { return c.driver.SendCoords(lifted, c.cfg.Speed) },
	}
	if err := c.run(ctx, steps); err != nil {
		return err
	}
	return c.reset(ctx)
}

func (c *Controller) reset(ctx context.Context) error {
	return c.run(ctx, []func() error{
		func() error { return c.driver.SendAngles(c.cfg.InitAngles, c.cfg.Speed) },
	})
}

// run sends each command and waits for it to settle
func (c *Controller) run(ctx context.Context, steps []func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("arm command: %w", err)
		}
		if c.cfg.Delay > 0 {
			if err := resilience.Sleep(ctx, c.cfg.Delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// dropPose picks the destination for the n-th moved block
func (c *Controller) dropPose(task, label string, n int) (Pose, error) {
	var pose Pose
	switch task {
	case TaskPickAndStack:
		copy(pose[:], c.cfg.Coords.Stack.First)
		pose[2] += c.cfg.Coords.Stack.DeltaZ * float64(n)
	case TaskPickAndPlace:
		place, ok := c.cfg.Coords.Place[label]
		if !ok {
			return pose, fmt.Errorf("no place pose for %q", label)
		}
		copy(pose[:], place)
	default:
		return pose, fmt.Errorf("unknown task %q", task)
	}
	return pose, nil
}
