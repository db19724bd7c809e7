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
	"sunwet.dev/sunwet/pkg/commit"
	"sunwet.dev/sunwet/pkg/fhash"
	"sunwet.dev/sunwet/pkg/formcommit"
	"sunwet.dev/sunwet/pkg/query"
	"sunwet.dev/sunwet/pkg/triple"
)

// commitOutput is what every prepare-* subcommand emits: the same
// lowercase-tagged shape commitInput reads, so "prepare-import-commit
// ... | sunwet commit" composes directly instead of needing a
// reshaping step in between.
type commitOutput struct {
	Add     []rawTriple       `json:"add,omitempty"`
	Remove  []rawTriple       `json:"remove,omitempty"`
	Files   []commit.FileDecl `json:"files,omitempty"`
	Comment string            `json:"comment,omitempty"`
}

func toRawTriples(ts []triple.Triple) []rawTriple {
	out := make([]rawTriple, len(ts))
	for i, t := range ts {
		out[i] = rawTriple{Subject: rawNode{Node: t.Subject}, Predicate: t.Predicate, Object: rawNode{Node: t.Object}}
	}
	return out
}

// prepareImportCommitCmd is "prepare-import-commit": it runs
// a form template against a field-value map locally (no server
// round-trip needed, since formcommit.Build is pure) and prints the
// resulting commit request, ready to be piped into "commit" or
// inspected by hand first. This is the CLI-side counterpart of the server's
// form_commit API kind (internal/server/api.go).
type prepareImportCommitCmd struct{}

func init() {
	cmdmain.RegisterCommand("prepare-import-commit", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		return new(prepareImportCommitCmd)
	})
}

func (c *prepareImportCommitCmd) Describe() string {
	return "Expand a form template and field values into a commit request, without submitting it."
}

func (c *prepareImportCommitCmd) Usage() {
	fmt.Fprintf(cmdmain.Stderr, "Usage: sunwet [globalopts] prepare-import-commit [file.json]\n")
}

func (c *prepareImportCommitCmd) Examples() []string {
	return []string{`- <<'EOF'
{"form":{"id":"add-album","fields":[{"name":"id","kind":"id"}],"templates":[{"subject":{"field":"id"},"predicate":{"inline":{"t":"v","v":"is"}},"object":{"inline":{"t":"v","v":"album"}}}]},"values":{}}
EOF`}
}

type prepareImportCommitInput struct {
	Form     formcommit.Form                `json:"form"`
	Values   map[string]query.TreeNode      `json:"values"`
	FileMeta map[string]formcommit.FileMeta `json:"file_meta"`
	Comment  string                         `json:"comment"`
}

func (c *prepareImportCommitCmd) RunCommand(args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}
	var in prepareImportCommitInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decoding prepare-import-commit input: %w", err)
	}
	fileMeta := make(map[fhash.Hash]formcommit.FileMeta, len(in.FileMeta))
	for k, v := range in.FileMeta {
		h, err := fhash.Parse(k)
		if err != nil {
			return fmt.Errorf("decoding prepare-import-commit file_meta key %q: %w", k, err)
		}
		fileMeta[h] = v
	}
	result, err := formcommit.Build(nil, in.Form, in.Values, fileMeta)
	if err != nil {
		return err
	}
	return writeOutput(commitOutput{Add: toRawTriples(result.Triples), Files: result.Files, Comment: in.Comment})
}

// prepareMergeCommitCmd is "prepare-merge-commit": given a
// desired triple set and a node to scope the comparison to, fetch the
// node's currently live triples from the server and emit the add/remove
// commit that would reconcile the graph to match (via commit.Diff).
type prepareMergeCommitCmd struct {
	server string
}

func init() {
	cmdmain.RegisterCommand("prepare-merge-commit", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(prepareMergeCommitCmd)
		flags.StringVar(&cmd.server, "server", "", serverFlagHelp)
		return cmd
	})
}

func (c *prepareMergeCommitCmd) Describe() string {
	return "Diff a desired triple set against what's live for a node, emitting a reconciling commit."
}

func (c *prepareMergeCommitCmd) Usage() {
	fmt.Fprintf(cmdmain.Stderr, "Usage: sunwet [globalopts] prepare-merge-commit [mergeopts] [file.json]\n")
}

func (c *prepareMergeCommitCmd) Examples() []string {
	return []string{`- <<'EOF'
{"node":{"t":"v","v":"a"},"desired":[{"subject":{"t":"v","v":"a"},"predicate":"is","object":{"t":"v","v":"album"}}]}
EOF`}
}

type prepareMergeCommitInput struct {
	Node    triple.Node     `json:"node"`
	Desired []triple.Triple `json:"desired"`
	Comment string          `json:"comment"`
}

func (c *prepareMergeCommitCmd) RunCommand(args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}
	var in prepareMergeCommitInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decoding prepare-merge-commit input: %w", err)
	}
	cl, err := newClient(c.server)
	if err != nil {
		return err
	}
	observed, err := cl.TriplesAround(context.Background(), in.Node)
	if err != nil {
		return err
	}
	add, remove := commit.Diff(in.Desired, observed)
	return writeOutput(commitOutput{Add: toRawTriples(add), Remove: toRawTriples(remove), Comment: in.Comment})
}

// prepareDeleteCommitCmd is "prepare-delete-commit": fetch
// every live triple touching the given nodes and emit a commit that
// removes all of them, the inverse of prepare-merge-commit with an
// empty desired set.
type prepareDeleteCommitCmd struct {
	server string
}

func init() {
	cmdmain.RegisterCommand("prepare-delete-commit", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(prepareDeleteCommitCmd)
		flags.StringVar(&cmd.server, "server", "", serverFlagHelp)
		return cmd
	})
}

func (c *prepareDeleteCommitCmd) Describe() string {
	return "Emit a commit that removes every live triple touching the given nodes."
}

func (c *prepareDeleteCommitCmd) Usage() {
	fmt.Fprintf(cmdmain.Stderr, "Usage: sunwet [globalopts] prepare-delete-commit [deleteopts] [file.json]\n")
}

func (c *prepareDeleteCommitCmd) Examples() []string {
	return []string{`- <<'EOF'
{"nodes":[{"t":"v","v":"a"}],"comment":"remove a"}
EOF`}
}

type prepareDeleteCommitInput struct {
	Nodes   []triple.Node `json:"nodes"`
	Comment string        `json:"comment"`
}

func (c *prepareDeleteCommitCmd) RunCommand(args []string) error {
	raw, err := readInput(args)
	if err != nil {
		return err
	}
	var in prepareDeleteCommitInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("decoding prepare-delete-commit input: %w", err)
	}
	cl, err := newClient(c.server)
	if err != nil {
		return err
	}
	ctx := context.Background()
	seen := map[string]bool{}
	var remove []triple.Triple
	for _, n := range in.Nodes {
		triples, err := cl.TriplesAround(ctx, n)
		if err != nil {
			return err
		}
		for _, t := range triples {
			key := t.Subject.Key() + "\x00" + t.Predicate + "\x00" + t.Object.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			remove = append(remove, t)
		}
	}
	return writeOutput(commitOutput{Remove: toRawTriples(remove), Comment: in.Comment})
}
