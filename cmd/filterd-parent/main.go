/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command filterd-parent is the privileged half of the privilege-separated
// pair spec.md §6 describes: it owns the uid the unprivileged evaluator
// never runs as, and answers ACTION requests over a single long-lived
// connection (internal/ipc, internal/executor).
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/mailcore/filterd/framework/hooks"
	"github.com/mailcore/filterd/framework/log"
	"github.com/mailcore/filterd/internal/app"
	"github.com/mailcore/filterd/internal/builtin"
	"github.com/mailcore/filterd/internal/config"
	"github.com/mailcore/filterd/internal/deliverer"
	"github.com/mailcore/filterd/internal/executor"
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/matcher"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "filterd-parent"
	cliApp.Usage = "privileged executor half of the mail filtering core"
	cliApp.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			cli.OsExiter(1)
		}
	}
	cliApp.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:    "config",
			Usage:   "ruleset file to use",
			EnvVars: []string{"FILTERD_CONFIG"},
			Value:   filepath.Join(app.ConfigDirectory, "filterd.conf"),
		},
		&cli.PathFlag{
			Name:    "socket",
			Usage:   "UNIX socket to listen on for the evaluator connection",
			EnvVars: []string{"FILTERD_SOCKET"},
			Value:   app.DefaultSocketPath,
		},
		&cli.StringFlag{
			Name:    "metrics",
			Usage:   "address to expose Prometheus metrics on (empty disables)",
			EnvVars: []string{"FILTERD_METRICS_ADDR"},
			Value:   "",
		},
	}
	cliApp.Action = run

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	builders := config.Builders{Matchers: matcher.Default, Deliverers: deliverer.Default}
	watcher, err := config.NewWatcher(c.Path("config"), builders)
	if err != nil {
		return fmt.Errorf("loading ruleset: %w", err)
	}
	defer watcher.Close()

	hooks.AddHook(hooks.EventReload, watcher.Reload)

	if addr := c.String("metrics"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Printf("metrics listening on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("warning: metrics server stopped: %v", err)
			}
		}()
	}

	socketPath := c.Path("socket")
	os.Remove(socketPath) // stale socket from a previous crashed run
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	defer ln.Close()
	log.Printf("filterd-parent listening on %s", socketPath)

	go func() {
		s := app.HandleSignals()
		log.Printf("shutting down (%v)", s)
		hooks.RunHooks(hooks.EventShutdown)
		ln.Close()
		os.Exit(0)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go serveOne(conn, watcher, builders)
	}
}

// serveOne answers ACTION requests for one evaluator connection against
// the ruleset snapshot that was current when the connection was accepted;
// a later reload reaches only connections accepted after it
// (builtin.RegisterMatchers below wires the reference parent-side checks;
// a deployment needing real privileged matchers registers its own here).
func serveOne(conn net.Conn, watcher *config.Watcher, _ config.Builders) {
	defer conn.Close()

	ex := executor.New(watcher.Current())
	builtin.RegisterMatchers(ex)

	c := ipc.NewConn(conn)
	if err := ipc.Serve(c, ex.Handle); err != nil {
		log.Printf("evaluator connection closed: %v", err)
	}
}
