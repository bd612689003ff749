package engine

import (
	"fmt"
	"time"

	"github.com/google/shlex"
)

const (
	defaultDockerCommand           = "docker"
	defaultOutputLimitBytes  int64 = 1 << 20
	defaultPidsLimit               = 64
	defaultNofileLimit             = 64
	defaultLabel                   = "codejudge.sandbox=1"
	defaultKillTimeout             = 2 * time.Second
)

// Config controls sandbox engine behavior.
type Config struct {
	// DockerCommand is split shell-style, e.g. "sudo -n docker".
	DockerCommand string
	// ExtraArgs are inserted before the image, e.g. "--read-only --user 65534".
	ExtraArgs string

	// OutputLimitBytes caps stdout and stderr together.
	OutputLimitBytes int64
	PidsLimit        int
	NofileLimit      int
	Label            string
	// KillTimeout bounds how long Run waits for pipes to drain after a kill.
	KillTimeout time.Duration

	Bounds Bounds
}

func (c *Config) applyDefaults() {
	if c.DockerCommand == "" {
		c.DockerCommand = defaultDockerCommand
	}
	if c.OutputLimitBytes <= 0 {
		c.OutputLimitBytes = defaultOutputLimitBytes
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = defaultPidsLimit
	}
	if c.NofileLimit <= 0 {
		c.NofileLimit = defaultNofileLimit
	}
	if c.Label == "" {
		c.Label = defaultLabel
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = defaultKillTimeout
	}
	c.Bounds.applyDefaults()
}

// splitCommand parses a shell-style command line into argv.
func splitCommand(field, line string) ([]string, error) {
	argv, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return argv, nil
}
