package modulus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
)

func TestRegisterAndBuild(t *testing.T) {
	reg := pipeline.NewRegistry()
	require.NoError(t, Register(reg))

	p, err := reg.Build(Name, pipeline.Config{"idle_interval": "5ms"}, pipeline.Env{})
	require.NoError(t, err)

	assert.Empty(t, p.CurrentState())
	assert.Empty(t, p.AvailableSignals())
	assert.NotNil(t, p.AvailableSignals())
	p.HandleSignal("anything")

	start := time.Now()
	require.NoError(t, p.Step(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestStepReturnsOnCancel(t *testing.T) {
	p := &Pipeline{idle: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, p.Step(ctx))
}

func TestStatusHasNullState(t *testing.T) {
	p := &Pipeline{idle: time.Millisecond}
	data, err := pipeline.Snapshot(p, true, "").MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":null`)
}
