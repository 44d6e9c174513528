package arm

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDriverClosed is returned by a closed driver
var ErrDriverClosed = errors.New("arm driver closed")

// Command is one recorded driver call
type Command struct {
	Name  string
	Args  []float64
	Speed int
}

func (c Command) String() string {
	return fmt.Sprintf("%s%v@%d", c.Name, c.Args, c.Speed)
}

// SimArm records commands instead of moving hardware
type SimArm struct {
	mu       sync.Mutex
	commands []Command
	closed   bool
	// FailOn makes the named command fail, for exercising error paths
	FailOn string
}

// NewSimArm creates a simulated arm
func NewSimArm() *SimArm {
	return &SimArm{}
}

func (s *SimArm) record(name string, speed int, args ...float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDriverClosed
	}
	if s.FailOn == name {
		return fmt.Errorf("simulated %s failure", name)
	}
	s.commands = append(s.commands, Command{Name: name, Args: args, Speed: speed})
	return nil
}

func (s *SimArm) SendAngles(angles []float64, speed int) error {
	return s.record("angles", speed, angles...)
}

func (s *SimArm) SendCoords(pose Pose, speed int) error {
	return s.record("coords", speed, pose[:]...)
}

func (s *SimArm) SendCoord(axis int, value float64, speed int) error {
	return s.record("coord", speed, float64(axis), value)
}

func (s *SimArm) SetGripper(value, speed int) error {
	return s.record("gripper", speed, float64(value))
}

func (s *SimArm) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Commands returns a copy of everything sent so far
func (s *SimArm) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}
