package pickplace

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/arm"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/calibrate"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/dataloader"
	"github.com/GriffinCanCode/armctl/backend/internal/handlers/detect"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][]map[string]any
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{messages: make(map[string][]map[string]any)}
}

func (r *recordingPublisher) Publish(_ context.Context, queue string, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[queue] = append(r.messages[queue], data)
	return nil
}

func (r *recordingPublisher) count(queue string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages[queue])
}

func (r *recordingPublisher) last(queue string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[queue]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

type harness struct {
	p   *Pipeline
	sim *arm.SimArm
	pub *recordingPublisher
}

func newHarness(t *testing.T, task string) *harness {
	t.Helper()

	loader, err := dataloader.FromConfig(pipeline.MustParseYAML(`
width: 160
height: 120
margin: 10
blocks:
  - {label: red, x: 40, y: 40, size: 16}
  - {label: green, x: 110, y: 80, size: 16}
`))
	require.NoError(t, err)
	calCfg, err := calibrate.FromConfig(pipeline.Config{})
	require.NoError(t, err)
	detCfg, err := detect.FromConfig(pipeline.Config{"min_area": 100})
	require.NoError(t, err)
	armCfg, err := arm.FromConfig(pipeline.Config{"delay": "0s", "task": task})
	require.NoError(t, err)

	sim := arm.NewSimArm()
	pub := newRecordingPublisher()
	p := New(Parts{
		Source:     dataloader.NewSynthetic(loader, nil),
		Calibrator: calibrate.New(calCfg),
		Detector:   detect.New(detCfg),
		Arm:        arm.NewController(sim, armCfg, nil),
	}, Options{PublishFrames: true, JPEGQuality: 50}, pub, nil)
	t.Cleanup(func() { _ = p.Close() })

	return &harness{p: p, sim: sim, pub: pub}
}

func (h *harness) step(t *testing.T) {
	t.Helper()
	require.NoError(t, h.p.Step(context.Background()))
}

func TestFullPickAndPlaceCycle(t *testing.T) {
	h := newHarness(t, arm.TaskPickAndPlace)
	assert.Equal(t, string(StateIdle), h.p.CurrentState())

	h.step(t)
	assert.Equal(t, string(StateCalibrating), h.p.CurrentState())
	require.NotEmpty(t, h.sim.Commands(), "first step resets the arm")
	assert.Equal(t, "angles", h.sim.Commands()[0].Name)

	h.step(t)
	assert.Equal(t, 1, h.pub.count(QueueInputFrames))
	assert.Equal(t, 1, h.pub.count(QueueCalibrationFrames))
	assert.Len(t, h.pub.last(QueueCalibrationFrames)["corners"], 4)
	assert.NotEmpty(t, h.pub.last(QueueInputFrames)["frame"])

	// Signals that do not apply to the current state are ignored
	h.p.HandleSignal(SignalPickPlace)
	assert.Equal(t, string(StateCalibrating), h.p.CurrentState())

	h.p.HandleSignal(SignalCalibrationConfirmed)
	assert.Equal(t, string(StateDetecting), h.p.CurrentState())

	h.step(t)
	assert.Equal(t, 1, h.pub.count(QueuePTFrames))
	dets, ok := h.pub.last(QueueDetectionFrames)["detections"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, dets, 2)
	assert.Equal(t, "green", dets[0]["label"])
	assert.Equal(t, "red", dets[1]["label"])

	h.p.HandleSignal(SignalPickPlace)
	assert.Equal(t, string(StatePickingPlacing), h.p.CurrentState())

	before := len(h.sim.Commands())
	h.step(t)
	assert.Equal(t, string(StateDetecting), h.p.CurrentState())
	assert.Len(t, h.sim.Commands()[before:], 16, "two blocks, eight commands each")
}

func TestPickWithoutDetectionsReturnsToDetecting(t *testing.T) {
	h := newHarness(t, arm.TaskPickAndStack)
	h.step(t)
	h.p.HandleSignal(SignalCalibrationConfirmed)
	h.p.HandleSignal(SignalPickStack)
	assert.Equal(t, string(StatePickingStacking), h.p.CurrentState())

	before := len(h.sim.Commands())
	h.step(t)
	assert.Equal(t, string(StateDetecting), h.p.CurrentState())
	assert.Len(t, h.sim.Commands(), before, "no arm moves without detections")
}

func TestReCalibrateAndStop(t *testing.T) {
	h := newHarness(t, arm.TaskPickAndPlace)
	h.step(t)
	h.step(t)
	h.p.HandleSignal(SignalCalibrationConfirmed)

	h.p.HandleSignal(SignalReCalibrate)
	assert.Equal(t, string(StateCalibrating), h.p.CurrentState())
	assert.Nil(t, h.p.currentTransform())

	h.p.HandleSignal(SignalStop)
	assert.Equal(t, string(StateStopped), h.p.CurrentState())

	frames := h.pub.count(QueueInputFrames)
	h.step(t)
	assert.Equal(t, frames, h.pub.count(QueueInputFrames), "stopped pipeline does not capture")

	h.p.HandleSignal("unknown_signal")
	assert.Equal(t, string(StateStopped), h.p.CurrentState())
}

func TestResetArmSignal(t *testing.T) {
	h := newHarness(t, arm.TaskPickAndPlace)
	h.p.HandleSignal(SignalResetArm)
	cmds := h.sim.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "angles", cmds[0].Name)
	assert.Equal(t, string(StateIdle), h.p.CurrentState())
}

func TestArmFailureKeepsState(t *testing.T) {
	h := newHarness(t, arm.TaskPickAndPlace)
	h.step(t)
	h.step(t)
	h.p.HandleSignal(SignalCalibrationConfirmed)
	h.step(t)
	h.p.HandleSignal(SignalPickPlace)

	h.sim.FailOn = "gripper"
	assert.Error(t, h.p.Step(context.Background()))
	assert.Equal(t, string(StatePickingPlacing), h.p.CurrentState())
}

func TestInstanceMetaFollowsTask(t *testing.T) {
	place := newHarness(t, arm.TaskPickAndPlace)
	assert.Contains(t, place.p.AvailableSignals(), SignalPickPlace)
	assert.NotContains(t, place.p.AvailableSignals(), SignalPickStack)
	assert.Contains(t, place.p.AvailableStates(), string(StatePickingPlacing))

	stack := newHarness(t, arm.TaskPickAndStack)
	assert.Contains(t, stack.p.AvailableSignals(), SignalPickStack)
	assert.Contains(t, stack.p.AvailableStates(), string(StatePickingStacking))
	assert.NotContains(t, stack.p.AvailableStates(), string(StatePickingPlacing))
}

func TestRegisterBuildsBothKinds(t *testing.T) {
	reg := pipeline.NewRegistry()
	require.NoError(t, Register(reg))

	entry, err := reg.Lookup(StackName)
	require.NoError(t, err)
	assert.Equal(t, Queues, entry.Meta.AvailableQueues)
	assert.Contains(t, entry.Meta.AvailableSignals, SignalPickStack)

	p, err := reg.Build(StackName, pipeline.Config{"publish_frames": false}, pipeline.Env{})
	require.NoError(t, err)
	assert.Equal(t, string(StateIdle), p.CurrentState())
	assert.Contains(t, p.AvailableSignals(), SignalPickStack)
	require.Implements(t, (*pipeline.Closer)(nil), p)
	assert.NoError(t, p.(pipeline.Closer).Close())

	// A task override switches the instance metadata
	p, err = reg.Build(PlaceName, pipeline.Config{
		"handlers": map[string]any{HandlerArm: map[string]any{"task": arm.TaskPickAndStack}},
	}, pipeline.Env{})
	require.NoError(t, err)
	assert.Contains(t, p.AvailableSignals(), SignalPickStack)
}

func TestBuildRejectsBadHandlerConfig(t *testing.T) {
	reg := pipeline.NewRegistry()
	require.NoError(t, Register(reg))

	_, err := reg.Build(PlaceName, pipeline.Config{
		"handlers": map[string]any{HandlerArm: map[string]any{"driver": "serial", "port": "/dev/does-not-exist"}},
	}, pipeline.Env{})
	assert.Error(t, err)

	_, err = reg.Build(PlaceName, pipeline.Config{
		"handlers": map[string]any{HandlerArm: map[string]any{"task": "juggle"}},
	}, pipeline.Env{})
	assert.ErrorContains(t, err, "juggle")
}
