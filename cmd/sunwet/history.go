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
	"encoding/json"
	"flag"
	"fmt"

	"sunwet.dev/sunwet/pkg/cmdmain"
	"sunwet.dev/sunwet/pkg/triple"
)

type historyCmd struct {
	server string
}

func init() {
	cmdmain.RegisterCommand("history", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(historyCmd)
		flags.StringVar(&cmd.server, "server", "", serverFlagHelp)
		return cmd
	})
}

func (c *historyCmd) Describe() string {
	return "List every triple row (live and tombstoned) for a subject node."
}

func (c *historyCmd) Usage() {
	fmt.Fprintf(cmdmain.Stderr, "Usage: sunwet [globalopts] history [file.json]\n")
}

func (c *historyCmd) Examples() []string {
	return []string{`- <<'EOF'
{"subject":{"t":"v","v":"a"}}
EOF`}
}

func (c *historyCmd) RunCommand(args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}
	var in struct {
		Subject triple.Node `json:"subject"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decoding history input: %w", err)
	}
	cl, err := newClient(c.server)
	if err != nil {
		return err
	}
	body, err := cl.History(context.Background(), in.Subject)
	if err != nil {
		return err
	}
	_, err = cmdmain.Stdout.Write(append(body, '\n'))
	return err
}
