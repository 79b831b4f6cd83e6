package process

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

var ErrEmptyCommand = errors.New("process: relaunch command is empty")

// DefaultRelaunchArgs are passed to this binary when no relaunch command is
// configured; the new process opens the restored store and reports on it.
var DefaultRelaunchArgs = []string{"db", "status"}

// Controller starts the replacement process after an import and ends the
// current one.
type Controller struct {
	command []string
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
	env     []string

	commandFactory func(name string, args ...string) *exec.Cmd
	exit           func(code int)
}

type Option func(*Controller)

func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *Controller) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithEnv adds KEY=value pairs to the environment inherited by the
// replacement process.
func WithEnv(env ...string) Option {
	return func(c *Controller) {
		c.env = append(c.env, env...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a controller for command. An empty command resolves to this
// executable with DefaultRelaunchArgs.
func New(command []string, opts ...Option) (*Controller, error) {
	if len(command) == 0 {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("new process controller: resolve executable: %w", err)
		}
		command = append([]string{executable}, DefaultRelaunchArgs...)
	}

	c := &Controller{
		command:        append([]string(nil), command...),
		stdout:         io.Discard,
		stderr:         io.Discard,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		commandFactory: exec.Command,
		exit:           os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) Command() []string {
	return append([]string(nil), c.command...)
}

// Relaunch starts the replacement process detached from this one. It does
// not wait for it.
func (c *Controller) Relaunch() error {
	if len(c.command) == 0 || c.command[0] == "" {
		return ErrEmptyCommand
	}

	cmd := c.commandFactory(c.command[0], c.command[1:]...)
	cmd.Env = append(os.Environ(), c.env...)
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("relaunch %s: %w", c.command[0], err)
	}
	c.logger.Info("replacement process started", "pid", cmd.Process.Pid, "command", c.command[0])
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("relaunch %s: release process: %w", c.command[0], err)
	}
	return nil
}

func (c *Controller) Exit(code int) {
	c.exit(code)
}
