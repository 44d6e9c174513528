package arm

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/detect"
)

func testConfig(t *testing.T, override pipeline.Config) Config {
	t.Helper()
	cfg, err := FromConfig(pipeline.Merge(pipeline.Config{"delay": "0s"}, override))
	require.NoError(t, err)
	return cfg
}

func block(label string, x, y float64) detect.Detection {
	return detect.Detection{Label: label, Center: [2]float64{x, y}}
}

func TestFromConfigDefaults(t *testing.T) {
	cfg, err := FromConfig(pipeline.Config{})
	require.NoError(t, err)
	assert.Equal(t, DriverSim, cfg.Driver)
	assert.Equal(t, TaskPickAndPlace, cfg.Task)
	assert.Equal(t, 0.275, cfg.Reach)
	assert.Equal(t, 100, cfg.Gripper.Open)
	assert.Equal(t, 20, cfg.Gripper.Close)
	assert.Equal(t, 30.0, cfg.Coords.Stack.DeltaZ)
	assert.Len(t, cfg.Coords.Place, 4)
	assert.Equal(t, time.Second, cfg.Delay)
}

func TestFromConfigOverrides(t *testing.T) {
	cfg := testConfig(t, pipeline.MustParseYAML(`
task: pick_and_stack
speed: 60
coord_config:
  place:
    red: [1, 2, 3, 4, 5, 6]
`))
	assert.Equal(t, TaskPickAndStack, cfg.Task)
	assert.Equal(t, 60, cfg.Speed)
	assert.Equal(t, map[string][]float64{"red": {1, 2, 3, 4, 5, 6}}, cfg.Coords.Place)
	assert.Equal(t, 170.0, cfg.Coords.PreGraspZ, "untouched fields keep defaults")
	assert.Zero(t, cfg.Delay)
}

func TestFromConfigValidation(t *testing.T) {
	_, err := FromConfig(pipeline.Config{"task": "juggle"})
	assert.ErrorContains(t, err, "juggle")

	_, err = FromConfig(pipeline.Config{"grasp_offset": []any{1}})
	assert.Error(t, err)
}

func TestOpenDrivers(t *testing.T) {
	d, err := Open(Config{Driver: DriverSim})
	require.NoError(t, err)
	assert.IsType(t, &SimArm{}, d)

	_, err = Open(Config{Driver: "telepathy"})
	assert.Error(t, err)
}

func TestPickAndPlaceSequence(t *testing.T) {
	sim := NewSimArm()
	ctrl := NewController(sim, testConfig(t, nil), nil)

	res, err := ctrl.Process(context.Background(), []detect.Detection{
		block("red", 0.2, 0.05),
		block("blue", 0.3, 0.0),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"red"}, res.Done)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "blue", res.Failed[0].Label)

	cmds := sim.Commands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.Name
	}
	assert.Equal(t, []string{
		"coords", "coord", "gripper", "coord", // pick
		"coords", "gripper", "coords", // place
		"angles", // reset
	}, names)

	assert.InDeltaSlice(t, []float64{205, 50, 170, -175, 0, -45}, cmds[0].Args, 1e-9)
	assert.Equal(t, []float64{AxisZ, 115}, cmds[1].Args)
	assert.Equal(t, []float64{20}, cmds[2].Args)
	assert.Equal(t, []float64{75, 230, 115, -175, 0, -45}, cmds[4].Args)
	assert.Equal(t, []float64{100}, cmds[5].Args)
	assert.Equal(t, []float64{75, 230, 145, -175, 0, -45}, cmds[6].Args)
	assert.Equal(t, 40, cmds[0].Speed)
}

func TestPickAndStackRaisesEachLayer(t *testing.T) {
	sim := NewSimArm()
	ctrl := NewController(sim, testConfig(t, nil), nil)

	res, err := ctrl.Process(context.Background(), []detect.Detection{
		block("red", 0.1, 0), block("green", 0.15, 0), block("yellow", 0.2, 0),
	}, TaskPickAndStack)
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "green", "yellow"}, res.Done)

	var drops []float64
	for i, c := range sim.Commands() {
		// Drop moves follow the post-grasp lift
		if c.Name == "coords" && i > 0 && sim.Commands()[i-1].Name == "coord" {
			drops = append(drops, c.Args[2])
		}
	}
	assert.Equal(t, []float64{115, 145, 175}, drops)
}

func TestUnknownPlaceLabelFails(t *testing.T) {
	ctrl := NewController(NewSimArm(), testConfig(t, nil), nil)
	res, err := ctrl.Process(context.Background(), []detect.Detection{block("purple", 0.1, 0)}, "")
	require.NoError(t, err)
	assert.Empty(t, res.Done)
	assert.Len(t, res.Failed, 1)
}

func TestDriverErrorAborts(t *testing.T) {
	sim := NewSimArm()
	sim.FailOn = "gripper"
	ctrl := NewController(sim, testConfig(t, nil), nil)

	res, err := ctrl.Process(context.Background(), []detect.Detection{block("red", 0.1, 0), block("green", 0.1, 0)}, "")
	assert.ErrorContains(t, err, "simulated gripper failure")
	assert.Empty(t, res.Done)
}

func TestSettleDelayHonorsContext(t *testing.T) {
	cfg := testConfig(t, pipeline.Config{"delay": "1h"})
	ctrl := NewController(NewSimArm(), cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ctrl.Reset(ctx), context.DeadlineExceeded)
}

func TestClosedDriverRejectsCommands(t *testing.T) {
	sim := NewSimArm()
	ctrl := NewController(sim, testConfig(t, nil), nil)
	require.NoError(t, ctrl.Close())
	assert.ErrorIs(t, ctrl.Reset(context.Background()), ErrDriverClosed)
}

type bufferPort struct {
	bytes.Buffer
	closed bool
}

func (p *bufferPort) Close() error {
	p.closed = true
	return nil
}

func TestEncodeFrame(t *testing.T) {
	assert.Equal(t, []byte{0xFE, 0xFE, 0x04, 0x67, 0x64, 0x28, 0xFA}, EncodeFrame(cmdSetGripper, []byte{100, 40}))
}

func TestSerialArmFrames(t *testing.T) {
	port := &bufferPort{}
	a := NewSerialArm(port)

	require.NoError(t, a.SetGripper(100, 40))
	assert.Equal(t, []byte{0xFE, 0xFE, 0x04, 0x67, 0x64, 0x28, 0xFA}, port.Bytes())

	port.Reset()
	require.NoError(t, a.SendCoord(AxisZ, 115, 40))
	// 115mm * 10 = 1150 = 0x047E
	assert.Equal(t, []byte{0xFE, 0xFE, 0x06, 0x24, 0x03, 0x04, 0x7E, 0x28, 0xFA}, port.Bytes())

	port.Reset()
	require.NoError(t, a.SendAngles([]float64{-1, 0, 0, 0, 0, 0}, 300))
	frame := port.Bytes()
	require.Len(t, frame, 5+13)
	assert.Equal(t, []byte{0xFF, 0x9C}, frame[4:6], "-100 as big-endian int16")
	assert.Equal(t, byte(255), frame[16], "speed is clamped")

	port.Reset()
	require.NoError(t, a.SendCoords(Pose{10, 20, 30, -175, 0, -45}, 40))
	assert.Len(t, port.Bytes(), 5+14)

	assert.Error(t, a.SendAngles([]float64{1, 2}, 40))
	assert.Error(t, a.SendCoord(9, 1, 40))

	require.NoError(t, a.Close())
	assert.True(t, port.closed)
}
