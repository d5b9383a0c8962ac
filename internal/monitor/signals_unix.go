//go:build !windows

package monitor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WatchSignals prints dumps on SIGUSR1 (status), SIGUSR2 (positions) and
// SIGHUP (strategy) until ctx ends.
func (s *Supervisor) WatchSignals(ctx context.Context) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			s.PrintDump(dumpFor(sig))
		}
	}
}

func dumpFor(sig os.Signal) string {
	switch sig {
	case syscall.SIGUSR1:
		return DumpStatus
	case syscall.SIGUSR2:
		return DumpPositions
	case syscall.SIGHUP:
		return DumpStrategy
	default:
		return ""
	}
}
