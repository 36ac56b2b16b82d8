//go:build !windows

package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mailcore/filterd/framework/hooks"
	"github.com/mailcore/filterd/framework/log"
)

// HandleSignals blocks listening for OS signals, running the matching
// framework/hooks event for each, until a termination signal is received;
// it then arms a second listener that forces os.Exit(1) on a repeat
// signal and returns so the caller can proceed with its own graceful
// shutdown.
func HandleSignals() os.Signal {
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2)

	for {
		switch s := <-sig; s {
		case syscall.SIGUSR1:
			log.Printf("signal received (%s), rotating logs", s.String())
			hooks.RunHooks(hooks.EventLogRotate)
		case syscall.SIGUSR2:
			log.Printf("signal received (%s), reloading ruleset", s.String())
			hooks.RunHooks(hooks.EventReload)
		default:
			go func() {
				s := HandleSignals()
				log.Printf("forced shutdown due to signal (%v)!", s)
				os.Exit(1)
			}()

			log.Printf("signal received (%v), next signal will force immediate shutdown.", s)
			return s
		}
	}
}
