package pickplace

import (
	"fmt"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/arm"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/calibrate"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/dataloader"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/detect"
)

// Registered pipeline names
const (
	PlaceName = "yahboom_pick_and_place"
	StackName = "yahboom_pick_and_stack"
)

// Handler block names under "handlers"
const (
	HandlerDataLoader = "data_loader"
	HandlerCalibrate  = "calibrate"
	HandlerDetect     = "detect"
	HandlerArm        = "arm_control"
)

const defaultsYAML = `
publish_frames: true
jpeg_quality: 85
idle_interval: 50ms
handlers:
  data_loader:
    width: 640
    height: 480
    margin: 40
    interval: 100ms
    blocks:
      - {label: red, x: 220, y: 180, size: 40}
      - {label: green, x: 420, y: 300, size: 40}
      - {label: blue, x: 320, y: 360, size: 40}
  calibrate:
    binary_threshold: 140
    min_area_fraction: 0.5
  detect:
    min_area: 1000
  arm_control:
    driver: sim
    task: pick_and_place
    speed: 40
    delay: 1s
`

// Register adds the pick-and-place and pick-and-stack pipelines
func Register(reg *pipeline.Registry) error {
	place := pipeline.MustParseYAML(defaultsYAML)
	stack := pipeline.Merge(place, pipeline.Config{
		"handlers": map[string]any{HandlerArm: map[string]any{"task": arm.TaskPickAndStack}},
	})

	entries := []pipeline.Entry{
		{
			Meta: pipeline.Meta{
				Name:             PlaceName,
				Description:      "Calibrate, detect coloured blocks and drop each at its colour's place",
				AvailableSignals: SignalsFor(arm.TaskPickAndPlace),
				AvailableStates:  StatesFor(arm.TaskPickAndPlace),
				AvailableQueues:  append([]string(nil), Queues...),
			},
			Defaults: place,
			New:      Build,
		},
		{
			Meta: pipeline.Meta{
				Name:             StackName,
				Description:      "Calibrate, detect coloured blocks and stack them in one tower",
				AvailableSignals: SignalsFor(arm.TaskPickAndStack),
				AvailableStates:  StatesFor(arm.TaskPickAndStack),
				AvailableQueues:  append([]string(nil), Queues...),
			},
			Defaults: stack,
			New:      Build,
		},
	}
	for _, e := range entries {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}

// Build constructs a pipeline from its merged configuration
func Build(env pipeline.Env) (pipeline.Pipeline, error) {
	var opts Options
	if err := env.Config.Decode(&opts); err != nil {
		return nil, fmt.Errorf("pipeline options: %w", err)
	}
	handlers := env.Config.Section("handlers")

	loaderCfg, err := dataloader.FromConfig(handlers.Section(HandlerDataLoader))
	if err != nil {
		return nil, err
	}
	calCfg, err := calibrate.FromConfig(handlers.Section(HandlerCalibrate))
	if err != nil {
		return nil, err
	}
	detCfg, err := detect.FromConfig(handlers.Section(HandlerDetect))
	if err != nil {
		return nil, err
	}
	armCfg, err := arm.FromConfig(handlers.Section(HandlerArm))
	if err != nil {
		return nil, err
	}
	driver, err := arm.Open(armCfg)
	if err != nil {
		return nil, err
	}

	logger := env.Logger
	parts := Parts{
		Source:     dataloader.NewSynthetic(loaderCfg, logger.Named("dataloader")),
		Calibrator: calibrate.New(calCfg),
		Detector:   detect.New(detCfg),
		Arm:        arm.NewController(driver, armCfg, logger.Named("arm")),
	}
	return New(parts, opts, env.Publisher, logger), nil
}
