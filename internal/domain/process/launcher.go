package process

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
)

// ChildSpec is what a launcher needs to start a pipeline child. Config
// is not part of the command line; the parent sends it as the first
// inbound message.
type ChildSpec struct {
	Name           string
	Config         pipeline.Config
	StatusInterval time.Duration
}

// Args renders the spec as command-line flags for the child command
func (s ChildSpec) Args() []string {
	return []string{
		"--name", s.Name,
		"--status-interval", s.StatusInterval.String(),
	}
}

// ParseChildSpec parses flags produced by ChildSpec.Args
func ParseChildSpec(args []string) (ChildSpec, error) {
	var spec ChildSpec

	fs := pflag.NewFlagSet("child", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&spec.Name, "name", "", "pipeline to run")
	fs.DurationVar(&spec.StatusInterval, "status-interval", time.Second, "periodic status interval")
	if err := fs.Parse(args); err != nil {
		return ChildSpec{}, err
	}

	if spec.Name == "" {
		return ChildSpec{}, fmt.Errorf("--name is required")
	}
	return spec, nil
}

// Child is a running pipeline child as seen from the parent
type Child interface {
	// ID identifies the child in logs (a PID for OS processes)
	ID() string
	// Inbound carries control messages to the child
	Inbound() io.WriteCloser
	// Outbound carries status snapshots from the child. It reaches EOF
	// once the child has exited.
	Outbound() io.Reader
	// Done is closed once the child has exited
	Done() <-chan struct{}
	// Err is the child's exit error, valid after Done
	Err() error
	// Kill terminates the child without waiting
	Kill() error
}

// Launcher starts pipeline children
type Launcher interface {
	Launch(ctx context.Context, spec ChildSpec) (Child, error)
}
