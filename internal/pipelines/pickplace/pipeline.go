// Package pickplace is the camera-guided pick-and-place pipeline for the
// Yahboom desktop arm.
//
// The pipeline calibrates the workspace from the camera view, waits for
// the operator to confirm, then detects coloured blocks and moves them
// either to per-colour drop points or onto a single stack:
//
//	idle -> calibrating -(calibration_confirmed)-> detecting
//	detecting -(pick_place)-> picking_placing -> detecting
//	detecting -(pick_stack)-> picking_stacking -> detecting
//
// re_calibrate returns to calibrating from any state and stop parks the
// pipeline until it is restarted.
package pickplace

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/arm"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/calibrate"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/dataloader"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/detect"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/imaging"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/resilience"
)

// State of the pipeline
type State string

const (
	StateIdle            State = "idle"
	StateCalibrating     State = "calibrating"
	StateDetecting       State = "detecting"
	StatePickingPlacing  State = "picking_placing"
	StatePickingStacking State = "picking_stacking"
	StateStopped         State = "stopped"
)

// Signals accepted by the pipeline
const (
	SignalResetArm             = "reset_arm"
	SignalReCalibrate          = "re_calibrate"
	SignalCalibrationConfirmed = "calibration_confirmed"
	SignalPickPlace            = "pick_place"
	SignalPickStack            = "pick_stack"
	SignalStop                 = "stop"
)

// Queues the pipeline publishes to
const (
	QueueInputFrames       = "input_frames"
	QueueCalibrationFrames = "calibration_frames"
	QueuePTFrames          = "pt_frames"
	QueueDetectionFrames   = "detection_frames"
)

// Queues lists every queue in publish order
var Queues = []string{QueueInputFrames, QueueCalibrationFrames, QueuePTFrames, QueueDetectionFrames}

var (
	baseStates  = []string{string(StateIdle), string(StateCalibrating), string(StateDetecting), string(StateStopped)}
	baseSignals = []string{SignalResetArm, SignalReCalibrate, SignalCalibrationConfirmed, SignalStop}
)

// StatesFor returns the states reachable when running task
func StatesFor(task string) []string {
	if task == arm.TaskPickAndStack {
		return append(append([]string(nil), baseStates...), string(StatePickingStacking))
	}
	return append(append([]string(nil), baseStates...), string(StatePickingPlacing))
}

// SignalsFor returns the signals meaningful when running task
func SignalsFor(task string) []string {
	if task == arm.TaskPickAndStack {
		return append(append([]string(nil), baseSignals...), SignalPickStack)
	}
	return append(append([]string(nil), baseSignals...), SignalPickPlace)
}

// Options are the pipeline-level settings outside the handler blocks
type Options struct {
	PublishFrames bool          `mapstructure:"publish_frames"`
	JPEGQuality   int           `mapstructure:"jpeg_quality"`
	IdleInterval  time.Duration `mapstructure:"idle_interval"`
}

// Pipeline runs the pick-and-place state machine
type Pipeline struct {
	mu         sync.Mutex
	state      State              // Protected by mu
	transform  *mat.Dense         // Protected by mu
	detections []detect.Detection // Protected by mu

	opts       Options
	source     dataloader.Source
	calibrator *calibrate.Calibrator
	detector   *detect.Detector
	arm        *arm.Controller
	publisher  pipeline.QueuePublisher
	logger     *zap.Logger

	// ctx bounds arm moves started from signal handlers
	ctx    context.Context
	cancel context.CancelFunc
}

// Parts are the handlers a pipeline is assembled from
type Parts struct {
	Source     dataloader.Source
	Calibrator *calibrate.Calibrator
	Detector   *detect.Detector
	Arm        *arm.Controller
}

// New assembles a pipeline from ready-made parts
func New(parts Parts, opts Options, publisher pipeline.QueuePublisher, logger *zap.Logger) *Pipeline {
	if publisher == nil {
		publisher = pipeline.NopPublisher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = 50 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		state:      StateIdle,
		opts:       opts,
		source:     parts.Source,
		calibrator: parts.Calibrator,
		detector:   parts.Detector,
		arm:        parts.Arm,
		publisher:  publisher,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// CurrentState implements pipeline.Pipeline
func (p *Pipeline) CurrentState() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.state)
}

// AvailableStates depends on the configured task
func (p *Pipeline) AvailableStates() []string {
	return StatesFor(p.arm.Task())
}

// AvailableSignals depends on the configured task
func (p *Pipeline) AvailableSignals() []string {
	return SignalsFor(p.arm.Task())
}

// HandleSignal applies operator signals. Signals that do not apply to
// the current state are ignored.
func (p *Pipeline) HandleSignal(signal string) {
	p.logger.Info("Handling signal",
		zap.String("signal", signal),
		zap.String("state", p.CurrentState()))

	switch signal {
	case SignalResetArm:
		p.resetArm()
	case SignalReCalibrate:
		p.resetArm()
		p.mu.Lock()
		p.state = StateCalibrating
		p.transform = nil
		p.detections = nil
		p.mu.Unlock()
	case SignalCalibrationConfirmed:
		p.transition(StateCalibrating, StateDetecting)
	case SignalPickPlace:
		p.transition(StateDetecting, StatePickingPlacing)
	case SignalPickStack:
		p.transition(StateDetecting, StatePickingStacking)
	case SignalStop:
		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()
	}
}

// Step performs the work of the current state once
func (p *Pipeline) Step(ctx context.Context) error {
	state := State(p.CurrentState())

	switch state {
	case StateIdle:
		if err := p.arm.Reset(ctx); err != nil {
			return fmt.Errorf("initial arm reset: %w", err)
		}
		if p.transition(StateIdle, StateCalibrating) {
			p.logger.Info("Pipeline initialized, calibrating")
		}
		return nil
	case StateStopped:
		_ = resilience.Sleep(ctx, p.opts.IdleInterval)
		return nil
	}

	frame, err := p.source.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("load frame: %w", err)
	}
	p.publishFrame(ctx, QueueInputFrames, frame.Image, nil)

	view := frame.Image
	if transform := p.currentTransform(); transform != nil {
		b := frame.Image.Bounds()
		warped, err := imaging.Warp(frame.Image, transform, b.Dx(), b.Dy())
		if err != nil {
			return fmt.Errorf("warp frame: %w", err)
		}
		view = warped
		p.publishFrame(ctx, QueuePTFrames, warped, nil)
	}

	switch state {
	case StateCalibrating:
		return p.calibrate(ctx, frame.Image)
	case StateDetecting:
		p.detect(ctx, view)
		return nil
	case StatePickingPlacing:
		return p.pick(ctx, state, arm.TaskPickAndPlace)
	case StatePickingStacking:
		return p.pick(ctx, state, arm.TaskPickAndStack)
	}
	return nil
}

// Close releases the arm
func (p *Pipeline) Close() error {
	p.cancel()
	return p.arm.Close()
}

func (p *Pipeline) calibrate(ctx context.Context, frame *image.RGBA) error {
	res, err := p.calibrator.Process(frame)
	if errors.Is(err, calibrate.ErrNoBoard) {
		p.logger.Debug("Calibration pending", zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	p.mu.Lock()
	p.transform = res.Transform
	p.mu.Unlock()

	corners := make([][]int, len(res.Corners))
	for i, c := range res.Corners {
		corners[i] = []int{c.X, c.Y}
	}
	p.publishFrame(ctx, QueueCalibrationFrames, res.Annotated, map[string]any{"corners": corners})
	return nil
}

func (p *Pipeline) detect(ctx context.Context, view *image.RGBA) {
	res := p.detector.Process(view)

	p.mu.Lock()
	p.detections = res.Detections
	p.mu.Unlock()

	dets := make([]map[string]any, len(res.Detections))
	for i, d := range res.Detections {
		dets[i] = d.Map()
	}
	p.publishFrame(ctx, QueueDetectionFrames, res.Annotated, map[string]any{"detections": dets})
}

func (p *Pipeline) pick(ctx context.Context, from State, task string) error {
	p.mu.Lock()
	objects := append([]detect.Detection(nil), p.detections...)
	p.mu.Unlock()

	if len(objects) == 0 {
		p.logger.Warn("No blocks detected, back to detection", zap.String("task", task))
		p.transition(from, StateDetecting)
		return nil
	}

	res, err := p.arm.Process(ctx, objects, task)
	if err != nil {
		return fmt.Errorf("%s: %w", task, err)
	}
	if len(res.Failed) > 0 {
		labels := make([]string, len(res.Failed))
		for i, f := range res.Failed {
			labels[i] = f.Label
		}
		p.logger.Info("Some blocks were not moved",
			zap.String("task", task),
			zap.Strings("failed", labels))
	}
	p.logger.Info("Task attempted, back to detection",
		zap.String("task", task),
		zap.Strings("done", res.Done))
	p.transition(from, StateDetecting)
	return nil
}

func (p *Pipeline) resetArm() {
	if err := p.arm.Reset(p.ctx); err != nil {
		p.logger.Warn("Arm reset failed", zap.Error(err))
	}
}

// transition moves from -> to only if the state is still from, so a
// signal that landed mid-step wins over the step's own transition.
func (p *Pipeline) transition(from, to State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return false
	}
	p.state = to
	return true
}

func (p *Pipeline) currentTransform() *mat.Dense {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transform
}

func (p *Pipeline) publishFrame(ctx context.Context, queue string, img *image.RGBA, extra map[string]any) {
	if !p.opts.PublishFrames {
		return
	}
	encoded, err := imaging.EncodeJPEG(img, p.opts.JPEGQuality)
	if err != nil {
		p.logger.Warn("Frame encoding failed", zap.String("queue", queue), zap.Error(err))
		return
	}
	data := map[string]any{"frame": encoded}
	for k, v := range extra {
		data[k] = v
	}
	if err := p.publisher.Publish(ctx, queue, data); err != nil {
		p.logger.Debug("Publish failed", zap.String("queue", queue), zap.Error(err))
	}
}
