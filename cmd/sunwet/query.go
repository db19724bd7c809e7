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
	"sunwet.dev/sunwet/pkg/query"
	"sunwet.dev/sunwet/pkg/triple"
)

type queryCmd struct {
	server string
}

func init() {
	cmdmain.RegisterCommand("query", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(queryCmd)
		flags.StringVar(&cmd.server, "server", "", serverFlagHelp)
		return cmd
	})
}

func (c *queryCmd) Describe() string {
	return "Run a query-language chain against a server."
}

func (c *queryCmd) Usage() {
	fmt.Fprintf(cmdmain.Stderr, "Usage: sunwet [globalopts] query [queryopts] [file.json]\n")
}

func (c *queryCmd) Examples() []string {
	return []string{`- <<'EOF'
{"query":"\"album\" <- \"is\" { => id -> \"name\" { => name } }"}
EOF`}
}

// queryInput is the JSON shape POST /api kind=query takes,
// reused verbatim as the CLI's own input file shape.
type queryInput struct {
	Query  string                 `json:"query"`
	Params map[string]triple.Node `json:"params"`
	Page   query.Page             `json:"page"`
}

func (c *queryCmd) RunCommand(args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}
	var in queryInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decoding query input: %w", err)
	}
	cl, err := newClient(c.server)
	if err != nil {
		return err
	}
	result, err := cl.Query(context.Background(), in.Query, in.Params, in.Page)
	if err != nil {
		return err
	}
	return writeOutput(result)
}
