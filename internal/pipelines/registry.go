// Package pipelines wires the built-in pipeline kinds into a registry.
package pipelines

import (
	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/pipelines/modulus"
	"github.com/GriffinCanCode/armctl/backend/internal/pipelines/pickplace"
)

// Register adds every built-in pipeline to reg
func Register(reg *pipeline.Registry) error {
	for _, register := range []func(*pipeline.Registry) error{
		pickplace.Register,
		modulus.Register,
	} {
		if err := register(reg); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding every built-in pipeline
func NewRegistry() (*pipeline.Registry, error) {
	reg := pipeline.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
