package main

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"pkt.systems/wobterm/terminal"
)

// watchResize reports the size of fd each time the process receives
// SIGWINCH.
func watchResize(ctx context.Context, fd int) <-chan terminal.Window {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGWINCH)
	out := make(chan terminal.Window, 1)
	go func() {
		defer signal.Stop(sigCh)
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				width, height, err := term.GetSize(fd)
				if err != nil {
					continue
				}
				select {
				case out <- terminal.Window{Width: width, Height: height}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
