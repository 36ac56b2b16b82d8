//go:build windows

package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mailcore/filterd/framework/log"
)

// HandleSignals is windows' reduced counterpart of the POSIX version:
// SIGUSR1/SIGUSR2 don't exist there, so only termination is handled.
func HandleSignals() os.Signal {
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT)

	s := <-sig
	go func() {
		s := HandleSignals()
		log.Printf("forced shutdown due to signal (%v)!", s)
		os.Exit(1)
	}()

	log.Printf("signal received (%v), next signal will force immediate shutdown.", s)
	return s
}
