/*
Copyright 2023 The Sunwet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sunwet.dev/sunwet/internal/server"
	"sunwet.dev/sunwet/pkg/cmdmain"
	"sunwet.dev/sunwet/pkg/config"
)

// runServerCmd is "run-server": the only subcommand that doesn't talk
// to a server over HTTP, because it IS the server. It is the thin
// caller internal/server's package doc promises -- load the config
// document and hand it to server.New/Run.
type runServerCmd struct {
	config string
}

func init() {
	cmdmain.RegisterCommand("run-server", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(runServerCmd)
		flags.StringVar(&cmd.config, "config", "", "Path to the server's JSON config document.")
		return cmd
	})
}

func (c *runServerCmd) Describe() string {
	return "Load a config document and serve the HTTP/websocket API."
}

func (c *runServerCmd) Usage() {
	fmt.Fprintf(cmdmain.Stderr, "Usage: sunwet run-server -config=sunwet.json\n")
}

func (c *runServerCmd) RunCommand(args []string) error {
	if len(args) != 0 {
		return cmdmain.UsageError("run-server takes no positional arguments")
	}
	if c.config == "" {
		return cmdmain.UsageError("-config is required")
	}
	cfg, err := config.Load(c.config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return srv.Run(ctx)
}
