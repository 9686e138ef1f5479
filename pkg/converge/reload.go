package converge

import (
	"context"
	"fmt"
)

// Reloader makes a running agent pick up a new configuration.
type Reloader interface {
	Reload(ctx context.Context, target Target) error
}

// DefaultUnit is the systemd unit of the agent daemon.
const DefaultUnit = "chef-client.service"

// SystemdReloader reloads a systemd unit, restarting it if the unit has no
// reload action.
type SystemdReloader struct {
	Unit string
}

// Reload implements Reloader.
func (r *SystemdReloader) Reload(ctx context.Context, target Target) error {
	unit := r.Unit
	if unit == "" {
		unit = DefaultUnit
	}
	if _, err := target.Run(ctx, "systemctl", "reload-or-restart", unit); err != nil {
		return fmt.Errorf("failed to reload %s: %w", unit, err)
	}
	return nil
}

// CommandReloader runs an arbitrary command.
type CommandReloader struct {
	Argv []string
}

// Reload implements Reloader.
func (r *CommandReloader) Reload(ctx context.Context, target Target) error {
	if len(r.Argv) == 0 {
		return fmt.Errorf("reload command is empty")
	}
	if _, err := target.Run(ctx, r.Argv[0], r.Argv[1:]...); err != nil {
		return fmt.Errorf("reload command failed: %w", err)
	}
	return nil
}

// NopReloader does nothing.
type NopReloader struct{}

// Reload implements Reloader.
func (NopReloader) Reload(context.Context, Target) error { return nil }

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context, target Target) error

// Reload implements Reloader.
func (f ReloaderFunc) Reload(ctx context.Context, target Target) error { return f(ctx, target) }
