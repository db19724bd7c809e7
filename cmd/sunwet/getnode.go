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

type getNodeCmd struct {
	server string
}

func init() {
	cmdmain.RegisterCommand("get-node", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(getNodeCmd)
		flags.StringVar(&cmd.server, "server", "", serverFlagHelp)
		return cmd
	})
}

func (c *getNodeCmd) Describe() string {
	return "List every live triple where a node appears as subject or object."
}

func (c *getNodeCmd) Usage() {
	fmt.Fprintf(cmdmain.Stderr, "Usage: sunwet [globalopts] get-node [file.json]\n")
}

func (c *getNodeCmd) Examples() []string {
	return []string{`- <<'EOF'
{"node":{"t":"v","v":"a"}}
EOF`}
}

func (c *getNodeCmd) RunCommand(args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}
	var in struct {
		Node triple.Node `json:"node"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decoding get-node input: %w", err)
	}
	cl, err := newClient(c.server)
	if err != nil {
		return err
	}
	triples, err := cl.TriplesAround(context.Background(), in.Node)
	if err != nil {
		return err
	}
	return writeOutput(struct {
		Triples []triple.Triple `json:"triples"`
	}{triples})
}
