package engine

import (
	"time"

	appErr "codejudge/pkg/errors"
)

// Bounds are the hard limits an Invocation must satisfy. Violations are
// rejected, never clamped.
type Bounds struct {
	MaxStdinBytes int
	MinMemoryMB   int
	MaxMemoryMB   int
	MinCPUs       float64
	MaxCPUs       float64
	MinTimeout    time.Duration
	MaxTimeout    time.Duration
}

// DefaultBounds returns the default invocation bounds.
func DefaultBounds() Bounds {
	return Bounds{
		MaxStdinBytes: 8 << 20,
		MinMemoryMB:   16,
		MaxMemoryMB:   2048,
		MinCPUs:       0.1,
		MaxCPUs:       4,
		MinTimeout:    100 * time.Millisecond,
		MaxTimeout:    60 * time.Second,
	}
}

func (b *Bounds) applyDefaults() {
	d := DefaultBounds()
	if b.MaxStdinBytes <= 0 {
		b.MaxStdinBytes = d.MaxStdinBytes
	}
	if b.MinMemoryMB <= 0 {
		b.MinMemoryMB = d.MinMemoryMB
	}
	if b.MaxMemoryMB <= 0 {
		b.MaxMemoryMB = d.MaxMemoryMB
	}
	if b.MinCPUs <= 0 {
		b.MinCPUs = d.MinCPUs
	}
	if b.MaxCPUs <= 0 {
		b.MaxCPUs = d.MaxCPUs
	}
	if b.MinTimeout <= 0 {
		b.MinTimeout = d.MinTimeout
	}
	if b.MaxTimeout <= 0 {
		b.MaxTimeout = d.MaxTimeout
	}
}

// Validate reports the first field of inv outside the bounds.
func (b Bounds) Validate(inv Invocation) error {
	switch {
	case inv.Image == "":
		return appErr.ValidationError("image", "required")
	case inv.Command == "":
		return appErr.ValidationError("command", "required")
	case len(inv.Stdin) > b.MaxStdinBytes:
		return appErr.ValidationError("stdin", "too_large").
			WithDetail("size", len(inv.Stdin)).
			WithDetail("max", b.MaxStdinBytes)
	case inv.MemoryMB < b.MinMemoryMB || inv.MemoryMB > b.MaxMemoryMB:
		return appErr.ValidationError("memory_mb", "out_of_range").
			WithDetail("value", inv.MemoryMB).
			WithDetail("min", b.MinMemoryMB).
			WithDetail("max", b.MaxMemoryMB)
	case inv.CPUs < b.MinCPUs || inv.CPUs > b.MaxCPUs:
		return appErr.ValidationError("cpus", "out_of_range").
			WithDetail("value", inv.CPUs).
			WithDetail("min", b.MinCPUs).
			WithDetail("max", b.MaxCPUs)
	case inv.Timeout < b.MinTimeout || inv.Timeout > b.MaxTimeout:
		return appErr.ValidationError("timeout", "out_of_range").
			WithDetail("value", inv.Timeout.String()).
			WithDetail("min", b.MinTimeout.String()).
			WithDetail("max", b.MaxTimeout.String())
	}
	return nil
}
