package reloader

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// OnSIGHUP calls fn on every SIGHUP until ctx is done.
func OnSIGHUP(ctx context.Context, fn func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				fn()
			}
		}
	}()
}
