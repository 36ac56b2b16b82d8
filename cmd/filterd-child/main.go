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

// Command filterd-child is the unprivileged half of the privilege-separated
// pair spec.md §6 describes: it loads the same ruleset as the parent, drives
// the match/deliver state machine (internal/evalctx, internal/scheduler) for
// every fetched message, and dials the parent's control socket for anything
// that needs privileged help.
//
// Fetching from a real mail store is explicitly out of scope (spec.md's
// Non-goals: "no fetcher implementations"). The stdin harness below stands
// in for one: it reads mailobj.Message.Serialize-shaped blobs, each preceded
// by a 4-byte big-endian length, separated by nothing else. A real
// deployment replaces readFetched with a POP3/IMAP/maildir backend and
// leaves everything downstream untouched.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/mailcore/filterd/framework/buffer"
	"github.com/mailcore/filterd/framework/hooks"
	"github.com/mailcore/filterd/framework/log"
	"github.com/mailcore/filterd/internal/app"
	"github.com/mailcore/filterd/internal/config"
	"github.com/mailcore/filterd/internal/deliverer"
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/mailobj"
	"github.com/mailcore/filterd/internal/matcher"
	"github.com/mailcore/filterd/internal/ruleset"
	"github.com/mailcore/filterd/internal/scheduler"

	_ "github.com/mailcore/filterd/internal/builtin"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "filterd-child"
	cliApp.Usage = "unprivileged evaluator half of the mail filtering core"
	cliApp.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:    "config",
			Usage:   "ruleset file to use",
			EnvVars: []string{"FILTERD_CONFIG"},
			Value:   filepath.Join(app.ConfigDirectory, "filterd.conf"),
		},
		&cli.PathFlag{
			Name:    "socket",
			Usage:   "UNIX socket the parent is listening on",
			EnvVars: []string{"FILTERD_SOCKET"},
			Value:   app.DefaultSocketPath,
		},
		&cli.IntFlag{
			Name:    "max-in-flight",
			Usage:   "maximum concurrently evaluated messages (0 = unbounded)",
			EnvVars: []string{"FILTERD_MAX_IN_FLIGHT"},
			Value:   0,
		},
		&cli.StringFlag{
			Name:    "account",
			Usage:   "account name to attribute stdin-fetched messages to",
			EnvVars: []string{"FILTERD_ACCOUNT"},
			Value:   "default",
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

	conn, err := net.Dial("unix", c.Path("socket"))
	if err != nil {
		return fmt.Errorf("dialing parent at %s: %w", c.Path("socket"), err)
	}
	defer conn.Close()

	client := ipc.NewClient(ipc.NewConn(conn))

	rs := watcher.Current()
	account := rs.AccountByName(c.String("account"))
	if account == nil {
		account = &ruleset.Account{Name: c.String("account")}
	}

	sched := &scheduler.Scheduler{Rules: rs, Client: client, MaxInFlight: c.Int("max-in-flight")}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		s := app.HandleSignals()
		log.Printf("shutting down (%v)", s)
		hooks.RunHooks(hooks.EventShutdown)
		cancel()
	}()

	messages := make(chan scheduler.Fetched)
	go func() {
		defer close(messages)
		if err := readFetched(os.Stdin, account, messages); err != nil && err != io.EOF {
			log.Printf("warning: stdin fetch harness stopped: %v", err)
		}
	}()

	if err := sched.Run(ctx, messages); err != nil {
		return fmt.Errorf("evaluation: %w", err)
	}
	return nil
}

// readFetched decodes length-prefixed mailobj.Message.Serialize blobs from r
// and feeds them to out, stopping at EOF or the first malformed frame.
func readFetched(r io.Reader, account *ruleset.Account, out chan<- scheduler.Fetched) error {
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return err
		}

		hdr, body, err := mailobj.ParseFull(data)
		if err != nil {
			return fmt.Errorf("parsing fetched message: %w", err)
		}
		msg, err := mailobj.New(hdr, buffer.MemoryBuffer{Slice: body})
		if err != nil {
			return fmt.Errorf("building message: %w", err)
		}

		out <- scheduler.Fetched{Message: msg, Account: account}
	}
}
