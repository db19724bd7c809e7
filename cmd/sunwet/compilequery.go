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
	"encoding/json"
	"flag"
	"fmt"

	"sunwet.dev/sunwet/pkg/cmdmain"
	"sunwet.dev/sunwet/pkg/query"
)

// compileQueryCmd is "compile-query": parse and analyze a
// query-language chain without running it against any database, so the
// parser/analyzer can be exercised or scripted against on its own --
// no -server flag, unlike every other mode here.
type compileQueryCmd struct{}

func init() {
	cmdmain.RegisterCommand("compile-query", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		return new(compileQueryCmd)
	})
}

func (c *compileQueryCmd) Describe() string {
	return "Parse and analyze a query without executing it; prints the bound AST."
}

func (c *compileQueryCmd) Usage() {
	fmt.Fprintf(cmdmain.Stderr, "Usage: sunwet [globalopts] compile-query [file.json]\n")
}

func (c *compileQueryCmd) Examples() []string {
	return []string{`- <<'EOF'
{"query":"\"album\" <- \"is\" { => id }","params":{"x":true}}
EOF`}
}

func (c *compileQueryCmd) RunCommand(args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}
	var in struct {
		Query  string          `json:"query"`
		Params map[string]bool `json:"params"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decoding compile-query input: %w", err)
	}
	q, err := query.Parse(in.Query)
	if err != nil {
		return err
	}
	if err := query.Analyze(q, in.Params); err != nil {
		return err
	}
	return writeOutput(q)
}
