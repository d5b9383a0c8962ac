//go:build windows

package monitor

import "context"

// WatchSignals is a no-op on Windows, which has no SIGUSR1/SIGUSR2.
func (s *Supervisor) WatchSignals(ctx context.Context) {
	<-ctx.Done()
}
