package engine

import (
	"fmt"
	"strconv"
)

// dockerRunArgs builds the argument vector for one container run.
func dockerRunArgs(cfg Config, extra []string, name string, inv Invocation) []string {
	args := []string{
		"run", "--rm", "-i",
		"--name", name,
		"--label", cfg.Label,
		"--network", "none",
		"--memory", fmt.Sprintf("%dm", inv.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", inv.MemoryMB),
		"--cpus", strconv.FormatFloat(inv.CPUs, 'f', -1, 64),
		"--pids-limit", strconv.Itoa(cfg.PidsLimit),
		"--ulimit", fmt.Sprintf("nofile=%d:%d", cfg.NofileLimit, cfg.NofileLimit),
	}
	args = append(args, extra...)
	return append(args, inv.Image, "sh", "-c", inv.Command)
}
