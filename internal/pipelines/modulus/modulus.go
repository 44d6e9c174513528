// Package modulus is a placeholder pipeline with no states and no
// signals. It keeps the process alive and idle, which makes it useful
// for exercising the control plane without hardware.
package modulus

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/infrastructure/resilience"
)

// Name is the registered pipeline name
const Name = "modulus"

type options struct {
	IdleInterval time.Duration `mapstructure:"idle_interval"`
}

// Pipeline does nothing on every step
type Pipeline struct {
	idle time.Duration
}

// Register adds the modulus pipeline
func Register(reg *pipeline.Registry) error {
	return reg.Register(pipeline.Entry{
		Meta: pipeline.Meta{
			Name:             Name,
			Description:      "Idle pipeline without states or signals",
			AvailableSignals: []string{},
			AvailableStates:  []string{},
			AvailableQueues:  []string{},
		},
		Defaults: pipeline.Config{"idle_interval": "100ms"},
		New:      Build,
	})
}

// Build constructs the pipeline
func Build(env pipeline.Env) (pipeline.Pipeline, error) {
	var opts options
	if err := env.Config.Decode(&opts); err != nil {
		return nil, fmt.Errorf("modulus options: %w", err)
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = 100 * time.Millisecond
	}
	return &Pipeline{idle: opts.IdleInterval}, nil
}

func (p *Pipeline) Step(ctx context.Context) error {
	_ = resilience.Sleep(ctx, p.idle)
	return nil
}

func (p *Pipeline) HandleSignal(string) {}

// CurrentState is always unknown
func (p *Pipeline) CurrentState() string { return "" }

func (p *Pipeline) AvailableSignals() []string { return []string{} }

func (p *Pipeline) AvailableStates() []string { return []string{} }
