package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// ExecLauncher starts each pipeline as a separate OS process by
// re-executing a binary that serves the child command.
type ExecLauncher struct {
	// Path is the binary to run; empty means the current executable
	Path string
	// Args precede the spec flags, typically []string{"child"}
	Args []string
	// Env is appended to the parent's environment
	Env []string
	// Stderr receives the child's logs; nil means os.Stderr
	Stderr io.Writer
	Logger *zap.Logger
}

// Launch starts the child process. The child's stdin and stdout are
// plain OS pipes owned by this launcher so reads never race with Wait.
func (l *ExecLauncher) Launch(ctx context.Context, spec ChildSpec) (Child, error) {
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}

	args := append(append([]string(nil), l.Args...), spec.Args()...)

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	stderr := l.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	cmd := exec.Command(path, args...)
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), l.Env...)

	if err := cmd.Start(); err != nil {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("start pipeline process: %w", err)
	}

	// The child holds its own copies now
	inR.Close()
	outW.Close()

	c := &execChild{
		cmd:  cmd,
		in:   inW,
		out:  outR,
		done: make(chan struct{}),
	}
	go c.wait()

	if l.Logger != nil {
		l.Logger.Info("Pipeline process started",
			zap.String("pipeline", spec.Name),
			zap.Int("pid", cmd.Process.Pid),
		)
	}
	return c, nil
}

type execChild struct {
	cmd  *exec.Cmd
	in   *os.File
	out  *os.File
	done chan struct{}
	err  error
}

func (c *execChild) wait() {
	c.err = c.cmd.Wait()
	close(c.done)
}

func (c *execChild) ID() string              { return strconv.Itoa(c.cmd.Process.Pid) }
func (c *execChild) Inbound() io.WriteCloser { return c.in }
func (c *execChild) Outbound() io.Reader     { return c.out }
func (c *execChild) Done() <-chan struct{}   { return c.done }

func (c *execChild) Err() error {
	<-c.done
	return c.err
}

func (c *execChild) Kill() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	return c.cmd.Process.Kill()
}
