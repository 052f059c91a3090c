// Package scheduler defines the port for fire-and-forget background tasks.
package scheduler

import "context"

// Scheduler runs fn in the background. Schedule must return without
// blocking and must not propagate fn's panics or errors to the caller;
// failures are logged and otherwise discarded.
type Scheduler interface {
	Schedule(name string, fn func(ctx context.Context))
}
